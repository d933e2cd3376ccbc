package server

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/peakshift/peakshift/pkg/types"
)

type mockJobs struct {
	mock.Mock
}

func (m *mockJobs) Execute(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (m *mockJobs) ReconcileContinuously(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (m *mockJobs) ReconcileOnStartup(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (m *mockJobs) Plan(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (m *mockJobs) ReconcileUser(ctx context.Context, userID string) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

type mockHistory struct {
	mock.Mock
}

func (m *mockHistory) ExecutionHistory(ctx context.Context, userID string, statuses []types.ExecutionStatus, page types.PageRequest) (types.Page[types.HistoryEntry], error) {
	args := m.Called(ctx, userID, statuses, page)
	return args.Get(0).(types.Page[types.HistoryEntry]), args.Error(1)
}

func (m *mockHistory) AuditTrail(ctx context.Context, userID string, actions []types.AuditAction, page types.PageRequest) (types.Page[types.HistoryEntry], error) {
	args := m.Called(ctx, userID, actions, page)
	return args.Get(0).(types.Page[types.HistoryEntry]), args.Error(1)
}
