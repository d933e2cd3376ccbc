package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/peakshift/peakshift/pkg/types"
)

func TestBatch(t *testing.T) {
	var b Batch
	assert.True(t, b.Empty())

	b.AddHistory(types.ExecutionHistory{UserID: "u1"})
	b.AddAudit(types.AuditEvent{UserID: "u1", ID: "keep"})
	assert.False(t, b.Empty())
	assert.NotEmpty(t, b.History[0].ID)
	assert.Equal(t, "keep", b.Audit[0].ID)
}

func TestTrimPage(t *testing.T) {
	page := types.PageRequest{Page: 1, Size: 2}
	p := trimPage([]int{1, 2, 3}, page)
	assert.Equal(t, []int{1, 2}, p.Items)
	assert.True(t, p.HasMore)

	p = trimPage([]int(nil), page)
	assert.Equal(t, []int{}, p.Items)
	assert.False(t, p.HasMore)
}
