package storagemock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/peakshift/peakshift/pkg/storage"
	"github.com/peakshift/peakshift/pkg/types"
)

type MockDatabase struct {
	mock.Mock
}

var _ storage.Database = (*MockDatabase)(nil)

func (m *MockDatabase) ListScheduleEvents(ctx context.Context, userID string) ([]types.ScheduleEvent, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.ScheduleEvent), args.Error(1)
}

func (m *MockDatabase) ListEnabledScheduleEvents(ctx context.Context) ([]types.ScheduleEvent, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.ScheduleEvent), args.Error(1)
}

func (m *MockDatabase) GetScheduleGroup(ctx context.Context, groupID string) ([]types.ScheduleEvent, error) {
	args := m.Called(ctx, groupID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.ScheduleEvent), args.Error(1)
}

func (m *MockDatabase) ListUsers(ctx context.Context) ([]types.User, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.User), args.Error(1)
}

func (m *MockDatabase) GetUser(ctx context.Context, userID string) (types.User, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(types.User), args.Error(1)
}

func (m *MockDatabase) CreateUser(ctx context.Context, user types.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *MockDatabase) QueryExecutionHistory(ctx context.Context, userID string, statuses []types.ExecutionStatus, page types.PageRequest) (types.Page[types.ExecutionHistory], error) {
	args := m.Called(ctx, userID, statuses, page)
	return args.Get(0).(types.Page[types.ExecutionHistory]), args.Error(1)
}

func (m *MockDatabase) QueryAuditEvents(ctx context.Context, userID string, actions []types.AuditAction, page types.PageRequest) (types.Page[types.AuditEvent], error) {
	args := m.Called(ctx, userID, actions, page)
	return args.Get(0).(types.Page[types.AuditEvent]), args.Error(1)
}

func (m *MockDatabase) Commit(ctx context.Context, b storage.Batch) error {
	args := m.Called(ctx, b)
	return args.Error(0)
}

func (m *MockDatabase) Close() error {
	args := m.Called()
	return args.Error(0)
}
