package repair

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestMatchesSearchFoldsCase(t *testing.T) {
	name := "Dang"
	job := Job{
		ID:            uuid.New(),
		CustomerName:  "Somchai Transformer Co.",
		CustomerPhone: "081-111-2222",
		Description:   "30kW motor rewind",
		AssigneeName:  &name,
	}

	assert.True(t, matchesSearch(job, "SOMCHAI"))
	assert.True(t, matchesSearch(job, "rewind"))
	assert.True(t, matchesSearch(job, "081-111"))
	assert.True(t, matchesSearch(job, "dang"))
	assert.True(t, matchesSearch(job, job.ID.String()))
	assert.True(t, matchesSearch(job, "  "), "blank term matches everything")
	assert.False(t, matchesSearch(job, "compressor"))
}
