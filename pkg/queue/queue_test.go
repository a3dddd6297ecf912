package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExportJobPayload(t *testing.T) {
	job, err := NewJob(JobTypeExport, ExportPayload{ExportID: "exp_1", OrganizationID: "org_1", ProductionID: "prod_1"})
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Zero(t, job.Attempt)

	p, err := job.ExportPayload()
	require.NoError(t, err)
	assert.Equal(t, "org_1", p.OrganizationID)

	job.Type = "other"
	_, err = job.ExportPayload()
	assert.Error(t, err)

	empty, err := NewJob(JobTypeExport, ExportPayload{})
	require.NoError(t, err)
	_, err = empty.ExportPayload()
	assert.Error(t, err)
}
