package repair

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCollectionRouting(t *testing.T) {
	assert.Equal(t, "repair_jobs", JobsCollection(SourceActive, 0))
	assert.Equal(t, "repair_jobs", JobsCollection(SourceActive, 2023), "year is ignored for the active source")
	assert.Equal(t, "repair_jobs_2023", JobsCollection(SourceArchive, 2023))
	assert.Equal(t, "job_activities", ActivitiesCollection(SourceActive, 0))
	assert.Equal(t, "job_activities_2021", ActivitiesCollection(SourceArchive, 2021))
}

func TestProbeYearsNewestFirst(t *testing.T) {
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, []int{2026, 2025, 2024, 2023, 2022}, ProbeYears(now))
}

func TestArchiveYearFollowsCloseDate(t *testing.T) {
	closed := time.Date(2024, 12, 31, 23, 59, 0, 0, time.UTC)
	assert.Equal(t, 2024, ArchiveYearFor(closed))
}
