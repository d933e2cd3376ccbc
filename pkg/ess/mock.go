package ess

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/peakshift/peakshift/pkg/types"
)

// DefaultMockReserve is the reserve a mock site starts with.
const DefaultMockReserve = 20

// SetCall records one SetBackupReserve invocation on a Mock.
type SetCall struct {
	UserID  string
	SiteID  string
	Percent int
}

// MockESS is an in-memory Device. Sites are created on first use so it can
// stand in for real hardware in demos and tests.
type MockESS struct {
	mu       sync.Mutex
	sites    map[string][]types.EnergySite
	reserves map[string]int
	calls    []SetCall

	// Reject makes SetBackupReserve answer not accepted.
	Reject bool
	// Err, when set, is returned by every call.
	Err error
	// SetErrs are returned, in order, by the next SetBackupReserve calls.
	SetErrs []error
}

var _ Device = (*MockESS)(nil)

// NewMock returns an empty mock device.
func NewMock() *MockESS {
	return &MockESS{
		sites:    make(map[string][]types.EnergySite),
		reserves: make(map[string]int),
	}
}

func mockKey(userID, siteID string) string {
	return userID + "/" + siteID
}

// AddSite registers a site for the user with a starting reserve.
func (m *MockESS) AddSite(userID string, site types.EnergySite, reserve int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sites[userID] = append(m.sites[userID], site)
	m.reserves[mockKey(userID, site.ID)] = reserve
}

// Reserve returns the site's current reserve.
func (m *MockESS) Reserve(userID, siteID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reserves[mockKey(userID, siteID)]
	if !ok {
		return DefaultMockReserve
	}
	return r
}

// Calls returns a copy of every SetBackupReserve call made so far.
func (m *MockESS) Calls() []SetCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SetCall(nil), m.calls...)
}

// ListSites implements Device. A user without registered sites gets a single
// default site.
func (m *MockESS) ListSites(ctx context.Context, userID string) ([]types.EnergySite, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	sites, ok := m.sites[userID]
	if !ok {
		return []types.EnergySite{{ID: "mock-site", Name: "Mock Powerwall"}}, nil
	}
	out := append([]types.EnergySite(nil), sites...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetBackupReserve implements Device.
func (m *MockESS) GetBackupReserve(ctx context.Context, userID, siteID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return 0, m.Err
	}
	if siteID == "" {
		return 0, fmt.Errorf("%w: empty site id", ErrSiteNotFound)
	}
	r, ok := m.reserves[mockKey(userID, siteID)]
	if !ok {
		return DefaultMockReserve, nil
	}
	return r, nil
}

// SetBackupReserve implements Device.
func (m *MockESS) SetBackupReserve(ctx context.Context, userID, siteID string, percent int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, SetCall{UserID: userID, SiteID: siteID, Percent: percent})
	if m.Err != nil {
		return false, m.Err
	}
	if len(m.SetErrs) > 0 {
		err := m.SetErrs[0]
		m.SetErrs = m.SetErrs[1:]
		return false, err
	}
	if m.Reject {
		return false, nil
	}
	m.reserves[mockKey(userID, siteID)] = percent
	return true, nil
}
