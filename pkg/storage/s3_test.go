package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExportKey(t *testing.T) {
	assert.Equal(t, "exports/org_1/exp_9.csv", ExportKey("org_1", "exp_9"))
	assert.Equal(t, "exports/org_1/exp_9.csv", ExportKey("../org_1", "a/exp_9"))
}

func TestPresignExpire(t *testing.T) {
	assert.Equal(t, 15*time.Minute, presignExpire(0))
	assert.Equal(t, 5*time.Minute, presignExpire(5))
}
