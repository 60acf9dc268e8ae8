package repair

import (
	"strings"

	"golang.org/x/text/cases"
)

// searchWindow bounds the candidate set fetched when a free-text term is
// supplied. Jobs beyond the window are invisible to search; the trade
// avoids full-text index infrastructure.
const searchWindow = 200

var searchFolder = cases.Fold()

// matchesSearch reports whether the job matches the folded search term
// against customer name, phone, description and assignee.
func matchesSearch(job Job, term string) bool {
	folded := searchFolder.String(strings.TrimSpace(term))
	if folded == "" {
		return true
	}
	fields := []string{job.CustomerName, job.CustomerPhone, job.Description, job.ID.String()}
	if job.AssigneeName != nil {
		fields = append(fields, *job.AssigneeName)
	}
	for _, f := range fields {
		if strings.Contains(searchFolder.String(f), folded) {
			return true
		}
	}
	return false
}
