package repair

import (
	"fmt"
	"time"
)

// Source selects the active collection or a year-partitioned archive.
type Source string

const (
	SourceActive  Source = "active"
	SourceArchive Source = "archive"
)

const (
	jobsTable       = "repair_jobs"
	activitiesTable = "job_activities"

	// archiveProbeYears bounds the linear fallback search for jobs archived
	// before the archive index existed.
	archiveProbeYears = 5
)

// JobsCollection maps (source, year) to the jobs table identifier. Pure and
// deterministic; every read/write in this package goes through it so the
// engines stay storage-location-agnostic.
func JobsCollection(source Source, year int) string {
	if source == SourceArchive {
		return fmt.Sprintf("%s_%d", jobsTable, year)
	}
	return jobsTable
}

// ActivitiesCollection maps (source, year) to the activities table identifier.
func ActivitiesCollection(source Source, year int) string {
	if source == SourceArchive {
		return fmt.Sprintf("%s_%d", activitiesTable, year)
	}
	return activitiesTable
}

// ProbeYears lists the archive years to try, newest first, when the index
// has no entry for a job.
func ProbeYears(now time.Time) []int {
	years := make([]int, 0, archiveProbeYears)
	for i := 0; i < archiveProbeYears; i++ {
		years = append(years, now.Year()-i)
	}
	return years
}

// ArchiveYearFor picks the partition year for a job being archived.
func ArchiveYearFor(closedDate time.Time) int {
	return closedDate.Year()
}
