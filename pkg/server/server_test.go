package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/peakshift/peakshift/pkg/storage"
	"github.com/peakshift/peakshift/pkg/storage/storagemock"
	"github.com/peakshift/peakshift/pkg/types"
)

type testServer struct {
	srv     *Server
	jobs    *mockJobs
	history *mockHistory
	db      *storagemock.MockDatabase
	handler http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{
		jobs:    new(mockJobs),
		history: new(mockHistory),
		db:      new(storagemock.MockDatabase),
	}
	ts.srv = &Server{
		jobs:       ts.jobs,
		history:    ts.history,
		users:      ts.db,
		serverName: "peakshift-test",
		bypassAuth: true,
	}
	ts.handler = ts.srv.setupHandler()
	t.Cleanup(func() {
		ts.jobs.AssertExpectations(t)
		ts.history.AssertExpectations(t)
		ts.db.AssertExpectations(t)
	})
	return ts
}

func (ts *testServer) do(method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)
	return w
}

func TestHealthzAndHeaders(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
	assert.Equal(t, "peakshift-test", w.Header().Get("Server"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Empty(t, w.Header().Get("Cache-Control"))
}

func TestMetrics(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestGzip(t *testing.T) {
	ts := newTestServer(t)
	ts.db.On("GetUser", mock.Anything, "u1").Return(types.User{ID: "u1"}, nil)
	items := make([]types.HistoryEntry, 50)
	for i := range items {
		items[i] = types.HistoryEntry{Type: "Scheduled Run", ScheduleName: "Peak", Details: "Successfully triggered 'start discharging (on-peak)' action."}
	}
	ts.history.On("ExecutionHistory", mock.Anything, "u1", []types.ExecutionStatus(nil), types.PageRequest{Size: types.DefaultPageSize}).
		Return(types.Page[types.HistoryEntry]{Items: items, Size: types.DefaultPageSize}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/users/u1/history", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "gzip", w.Header().Get("Content-Encoding"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
}

func TestRunJob(t *testing.T) {
	tests := []struct {
		path   string
		method string
	}{
		{"/api/jobs/executor", "Execute"},
		{"/api/jobs/reconcile", "ReconcileContinuously"},
		{"/api/jobs/startup", "ReconcileOnStartup"},
		{"/api/jobs/planner", "Plan"},
	}
	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			ts := newTestServer(t)
			ts.jobs.On(tt.method, mock.Anything).Return(true, nil).Once()

			w := ts.do(http.MethodPost, tt.path)
			require.Equal(t, http.StatusOK, w.Code)
			var resp jobResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.True(t, resp.Ran)
		})
	}

	t.Run("lease held elsewhere", func(t *testing.T) {
		ts := newTestServer(t)
		ts.jobs.On("Execute", mock.Anything).Return(false, nil).Once()

		w := ts.do(http.MethodPost, "/api/jobs/executor")
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"job":"executor","ran":false}`, w.Body.String())
	})

	t.Run("job error", func(t *testing.T) {
		ts := newTestServer(t)
		ts.jobs.On("Plan", mock.Anything).Return(true, errors.New("boom")).Once()

		w := ts.do(http.MethodPost, "/api/jobs/planner")
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})

	t.Run("unknown job", func(t *testing.T) {
		ts := newTestServer(t)
		w := ts.do(http.MethodPost, "/api/jobs/cleanup")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("wrong method", func(t *testing.T) {
		ts := newTestServer(t)
		w := ts.do(http.MethodGet, "/api/jobs/executor")
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	})

	t.Run("job context outlives the request", func(t *testing.T) {
		ts := newTestServer(t)
		ts.jobs.On("Execute", mock.MatchedBy(func(ctx context.Context) bool {
			return ctx.Done() == nil
		})).Return(true, nil).Once()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		req := httptest.NewRequest(http.MethodPost, "/api/jobs/executor", nil).WithContext(ctx)
		w := httptest.NewRecorder()
		ts.handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestReconcileUser(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		ts := newTestServer(t)
		ts.db.On("GetUser", mock.Anything, "u1").Return(types.User{ID: "u1"}, nil)
		ts.jobs.On("ReconcileUser", mock.Anything, "u1").Return(nil).Once()

		w := ts.do(http.MethodPost, "/api/users/u1/reconcile")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"userId":"u1"}`, w.Body.String())
	})

	t.Run("unknown user", func(t *testing.T) {
		ts := newTestServer(t)
		ts.db.On("GetUser", mock.Anything, "nobody").Return(types.User{}, storage.ErrUserNotFound)

		w := ts.do(http.MethodPost, "/api/users/nobody/reconcile")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("reconcile error", func(t *testing.T) {
		ts := newTestServer(t)
		ts.db.On("GetUser", mock.Anything, "u1").Return(types.User{ID: "u1"}, nil)
		ts.jobs.On("ReconcileUser", mock.Anything, "u1").Return(errors.New("device offline")).Once()

		w := ts.do(http.MethodPost, "/api/users/u1/reconcile")
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}
