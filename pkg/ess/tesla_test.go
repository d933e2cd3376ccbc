package ess

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/peakshift/peakshift/pkg/types"
)

func newTestTesla(t *testing.T, h http.HandlerFunc) *Tesla {
	t.Helper()
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	return NewTesla(ts.URL, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "tok"}))
}

func TestTesla(t *testing.T) {
	ctx := context.Background()

	t.Run("ListSites", func(t *testing.T) {
		tesla := newTestTesla(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
			assert.Contains(t, r.Header.Get("User-Agent"), "PeakShift/")
			require.Equal(t, "/api/1/products", r.URL.Path)
			w.Write([]byte(`{"response":[
				{"energy_site_id": 222, "site_name": "Cabin", "resource_type": "battery"},
				{"energy_site_id": 111, "site_name": "Home", "resource_type": "battery"},
				{"energy_site_id": 111, "site_name": "Home", "resource_type": "battery"},
				{"energy_site_id": 333, "site_name": "Garage", "resource_type": "wall_connector"},
				{"energy_site_id": 0, "site_name": "Old", "resource_type": "battery"},
				{"id": 9, "vin": "5YJ", "display_name": "Car"}
			],"count":6}`))
		})

		sites, err := tesla.ListSites(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, []types.EnergySite{{ID: "111", Name: "Home"}, {ID: "222", Name: "Cabin"}}, sites)
	})

	t.Run("GetBackupReserve", func(t *testing.T) {
		tesla := newTestTesla(t, func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/api/1/energy_sites/111/site_info", r.URL.Path)
			w.Write([]byte(`{"response":{"id":"abc","site_name":"Home","backup_reserve_percent":35}}`))
		})
		pct, err := tesla.GetBackupReserve(ctx, "u1", "111")
		require.NoError(t, err)
		assert.Equal(t, 35, pct)
	})

	t.Run("GetBackupReserveNotFound", func(t *testing.T) {
		tesla := newTestTesla(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		})
		_, err := tesla.GetBackupReserve(ctx, "u1", "111")
		assert.ErrorIs(t, err, ErrSiteNotFound)

		_, err = tesla.GetBackupReserve(ctx, "u1", "not-a-number")
		assert.ErrorIs(t, err, ErrSiteNotFound)
	})

	t.Run("SetBackupReserve", func(t *testing.T) {
		var got teslaBackupRequest
		tesla := newTestTesla(t, func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodPost, r.Method)
			require.Equal(t, "/api/1/energy_sites/111/backup", r.URL.Path)
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			w.Write([]byte(`{"response":{"code":201,"message":"Updated"}}`))
		})
		ok, err := tesla.SetBackupReserve(ctx, "u1", "111", 40)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 40, got.BackupReservePercent)
	})

	t.Run("SetBackupReserveRejected", func(t *testing.T) {
		tesla := newTestTesla(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"error":"invalid"}`, http.StatusBadRequest)
		})
		ok, err := tesla.SetBackupReserve(ctx, "u1", "111", 40)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("SetBackupReserveUnreachable", func(t *testing.T) {
		ts := httptest.NewServer(http.NotFoundHandler())
		ts.Close()
		tesla := NewTesla(ts.URL, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "tok"}))
		ok, err := tesla.SetBackupReserve(ctx, "u1", "111", 40)
		assert.Error(t, err)
		assert.False(t, ok)
	})

	t.Run("Validate", func(t *testing.T) {
		assert.Error(t, (&Tesla{baseURL: teslaDefaultBaseURL}).Validate())
		assert.NoError(t, NewTesla(teslaDefaultBaseURL, oauth2.StaticTokenSource(&oauth2.Token{})).Validate())
	})
}
