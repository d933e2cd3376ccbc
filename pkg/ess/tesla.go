package ess

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/levenlabs/go-lflag"
	"golang.org/x/oauth2"

	"github.com/peakshift/peakshift/pkg/common"
	"github.com/peakshift/peakshift/pkg/log"
	"github.com/peakshift/peakshift/pkg/types"
)

const (
	teslaDefaultBaseURL  = "https://fleet-api.prd.na.vn.cloud.tesla.com"
	teslaDefaultTokenURL = "https://auth.tesla.com/oauth2/v3/token"
)

// Tesla implements Device against the Tesla Fleet API energy endpoints.
type Tesla struct {
	client  *http.Client
	baseURL string

	// used only for validation
	hasToken bool
}

var _ Device = (*Tesla)(nil)

func configuredTesla() *Tesla {
	baseURL := lflag.String("tesla-base-url", teslaDefaultBaseURL, "Tesla Fleet API base URL")
	accessToken := lflag.String("tesla-access-token", "", "Static Tesla access token")
	clientID := lflag.String("tesla-client-id", "", "Tesla OAuth client ID used to refresh tokens")
	clientSecret := lflag.String("tesla-client-secret", "", "Tesla OAuth client secret")
	refreshToken := lflag.String("tesla-refresh-token", "", "Tesla OAuth refresh token")

	t := &Tesla{}

	lflag.Do(func() {
		t.baseURL = *baseURL
		var ts oauth2.TokenSource
		switch {
		case *refreshToken != "":
			cfg := &oauth2.Config{
				ClientID:     *clientID,
				ClientSecret: *clientSecret,
				Endpoint:     oauth2.Endpoint{TokenURL: teslaDefaultTokenURL},
			}
			ts = cfg.TokenSource(context.Background(), &oauth2.Token{RefreshToken: *refreshToken})
			t.hasToken = true
		case *accessToken != "":
			ts = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: *accessToken})
			t.hasToken = true
		default:
			ts = oauth2.StaticTokenSource(&oauth2.Token{})
		}
		t.client = common.BearerHTTPClient(30*time.Second, ts)
	})

	return t
}

// NewTesla returns a client that authenticates with ts.
func NewTesla(baseURL string, ts oauth2.TokenSource) *Tesla {
	return &Tesla{
		client:   common.BearerHTTPClient(30*time.Second, ts),
		baseURL:  baseURL,
		hasToken: true,
	}
}

// Validate checks if the client is properly configured.
func (t *Tesla) Validate() error {
	if !t.hasToken {
		return errors.New("missing tesla access token or refresh token")
	}
	if t.baseURL == "" {
		return errors.New("missing tesla base url")
	}
	return nil
}

type teslaEnvelope struct {
	Response json.RawMessage `json:"response"`
	Error    string          `json:"error"`
}

type teslaProduct struct {
	EnergySiteID json.Number `json:"energy_site_id"`
	SiteName     string      `json:"site_name"`
	ResourceType string      `json:"resource_type"`
}

type teslaSiteInfo struct {
	ID                   string `json:"id"`
	SiteName             string `json:"site_name"`
	BackupReservePercent int    `json:"backup_reserve_percent"`
}

type teslaBackupRequest struct {
	BackupReservePercent int `json:"backup_reserve_percent"`
}

// statusError is returned when the API answers with a non-2xx status.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("tesla api status %d: %s", e.code, e.body)
}

func (t *Tesla) endpoint(path string) (string, error) {
	u, err := url.Parse(t.baseURL)
	if err != nil {
		return "", err
	}
	u.Path, err = url.JoinPath(u.Path, path)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

func (t *Tesla) do(ctx context.Context, method, path string, body any, dest any) error {
	u, err := t.endpoint(path)
	if err != nil {
		return err
	}
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &statusError{code: resp.StatusCode, body: string(raw)}
	}

	if dest == nil {
		return nil
	}
	var env teslaEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to decode tesla response", slog.Any("error", err), slog.String("body", string(raw)))
		return fmt.Errorf("failed to decode tesla response: %w", err)
	}
	if env.Error != "" {
		return fmt.Errorf("tesla api error: %s", env.Error)
	}
	if err := json.Unmarshal(env.Response, dest); err != nil {
		return fmt.Errorf("failed to decode tesla result: %w", err)
	}
	return nil
}

// ListSites returns battery sites. Vehicles, wall connectors and
// deactivated sites are left out since they have no backup reserve.
func (t *Tesla) ListSites(ctx context.Context, userID string) ([]types.EnergySite, error) {
	var products []teslaProduct
	if err := t.do(ctx, http.MethodGet, "/api/1/products", nil, &products); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to list tesla products", slog.Any("error", err))
		return nil, fmt.Errorf("failed to list products: %w", err)
	}

	seen := make(map[string]bool)
	var sites []types.EnergySite
	for _, p := range products {
		id := p.EnergySiteID.String()
		if p.ResourceType != "battery" || id == "" || id == "0" || seen[id] {
			continue
		}
		seen[id] = true
		sites = append(sites, types.EnergySite{ID: id, Name: p.SiteName})
	}
	sort.Slice(sites, func(i, j int) bool { return sites[i].ID < sites[j].ID })
	return sites, nil
}

// GetBackupReserve reads backup_reserve_percent from the site info.
func (t *Tesla) GetBackupReserve(ctx context.Context, userID, siteID string) (int, error) {
	if _, err := strconv.ParseInt(siteID, 10, 64); err != nil {
		return 0, fmt.Errorf("%w: %q", ErrSiteNotFound, siteID)
	}
	var info teslaSiteInfo
	if err := t.do(ctx, http.MethodGet, "/api/1/energy_sites/"+siteID+"/site_info", nil, &info); err != nil {
		var se *statusError
		if errors.As(err, &se) && se.code == http.StatusNotFound {
			return 0, fmt.Errorf("%w: %s", ErrSiteNotFound, siteID)
		}
		return 0, fmt.Errorf("failed to get site info for %s: %w", siteID, err)
	}
	return info.BackupReservePercent, nil
}

// SetBackupReserve posts the new reserve. A non-2xx answer is reported as not
// accepted.
func (t *Tesla) SetBackupReserve(ctx context.Context, userID, siteID string, percent int) (bool, error) {
	err := t.do(ctx, http.MethodPost, "/api/1/energy_sites/"+siteID+"/backup", teslaBackupRequest{BackupReservePercent: percent}, nil)
	if err != nil {
		var se *statusError
		if errors.As(err, &se) {
			log.Ctx(ctx).WarnContext(ctx, "tesla rejected backup reserve",
				slog.String("siteID", siteID),
				slog.Int("percent", percent),
				slog.Int("status", se.code),
			)
			return false, nil
		}
		return false, fmt.Errorf("failed to set backup reserve for %s: %w", siteID, err)
	}
	log.Ctx(ctx).InfoContext(ctx, "set tesla backup reserve",
		slog.String("siteID", siteID),
		slog.Int("percent", percent),
	)
	return true, nil
}
