package ess

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peakshift/peakshift/pkg/types"
)

func TestMockESS(t *testing.T) {
	ctx := context.Background()
	m := NewMock()

	sites, err := m.ListSites(ctx, "nobody")
	require.NoError(t, err)
	require.Len(t, sites, 1)

	m.AddSite("u1", types.EnergySite{ID: "s2", Name: "Two"}, 30)
	m.AddSite("u1", types.EnergySite{ID: "s1", Name: "One"}, 10)
	sites, err = m.ListSites(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "s1", sites[0].ID)

	pct, err := m.GetBackupReserve(ctx, "u1", "s2")
	require.NoError(t, err)
	assert.Equal(t, 30, pct)

	ok, err := m.SetBackupReserve(ctx, "u1", "s2", 55)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 55, m.Reserve("u1", "s2"))

	m.Reject = true
	ok, err = m.SetBackupReserve(ctx, "u1", "s2", 70)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 55, m.Reserve("u1", "s2"))
	m.Reject = false

	boom := errors.New("boom")
	m.SetErrs = []error{boom}
	_, err = m.SetBackupReserve(ctx, "u1", "s2", 70)
	assert.ErrorIs(t, err, boom)
	ok, err = m.SetBackupReserve(ctx, "u1", "s2", 70)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Len(t, m.Calls(), 4)

	m.Err = boom
	_, err = m.GetBackupReserve(ctx, "u1", "s2")
	assert.ErrorIs(t, err, boom)
}
