package ess

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/levenlabs/go-lflag"

	"github.com/peakshift/peakshift/pkg/common"
	"github.com/peakshift/peakshift/pkg/log"
	"github.com/peakshift/peakshift/pkg/types"
)

const franklinLoginPath = "hes-gateway/terminal/initialize/appUserOrInstallerLogin"

// Franklin implements Device for FranklinWH. Each gateway is one energy
// site and its reserve is the SOC of the active TOU mode.
type Franklin struct {
	client      *http.Client
	baseURL     string
	username    string
	md5Password string

	mu       sync.Mutex
	tokenStr string
}

var _ Device = (*Franklin)(nil)

type franklinMode struct {
	ID                int
	Name              string
	WorkMode          int
	ElectricityType   int
	ReserveSOC        float64
	CanEditReserveSOC bool
}

func configuredFranklin() *Franklin {
	baseURL := lflag.String("franklin-base-url", "https://energy.franklinwh.com", "FranklinWH API base URL")
	username := lflag.String("franklin-username", "", "FranklinWH account email")
	password := lflag.String("franklin-password", "", "FranklinWH account password")

	f := newFranklin()

	lflag.Do(func() {
		f.baseURL = *baseURL
		f.username = *username
		if *password != "" {
			f.md5Password = md5Hex(*password)
		}
	})

	return f
}

func newFranklin() *Franklin {
	return &Franklin{
		client:  common.HTTPClient(time.Minute),
		baseURL: "https://energy.franklinwh.com",
	}
}

func md5Hex(s string) string {
	hash := md5.Sum([]byte(s))
	return hex.EncodeToString(hash[:])
}

// Validate checks if the client is properly configured.
func (f *Franklin) Validate() error {
	if f.username == "" {
		return errors.New("missing franklin username")
	}
	if f.md5Password == "" {
		return errors.New("missing franklin password")
	}
	return nil
}

type loginResult struct {
	UserID  int    `json:"userId"`
	Token   string `json:"token"`
	Version string `json:"version"`
}

// ensureLogin will not login again if the token we have cached is still valid
func (f *Franklin) ensureLogin(ctx context.Context) error {
	if f.tokenStr != "" {
		return nil
	}
	token, err := f.login(ctx)
	if err != nil {
		return fmt.Errorf("failed to login: %w", err)
	}
	f.tokenStr = token
	return nil
}

func (f *Franklin) login(ctx context.Context) (string, error) {
	if f.username == "" {
		return "", errors.New("missing username")
	}
	if f.md5Password == "" {
		return "", errors.New("missing password")
	}

	data := url.Values{}
	data.Set("account", f.username)
	data.Set("password", f.md5Password)
	data.Set("type", "0")

	req, err := f.newPostFormRequest(ctx, franklinLoginPath, data)
	if err != nil {
		return "", err
	}

	var res loginResult
	if err := f.doRequest(req, &res); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "franklin login failed", slog.Any("error", err))
		return "", fmt.Errorf("login failed: %w", err)
	}
	log.Ctx(ctx).DebugContext(ctx, "franklin login success", slog.String("username", f.username))
	return res.Token, nil
}

func (f *Franklin) url(endpoint string, params url.Values) (string, error) {
	u, err := url.Parse(f.baseURL)
	if err != nil {
		return "", err
	}
	u.Path, err = url.JoinPath(u.Path, endpoint)
	if err != nil {
		return "", err
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}
	return u.String(), nil
}

func (f *Franklin) newPostFormRequest(ctx context.Context, endpoint string, data url.Values) (*http.Request, error) {
	u, err := f.url(endpoint, nil)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req, nil
}

func (f *Franklin) newGetRequest(ctx context.Context, endpoint string, params url.Values) (*http.Request, error) {
	u, err := f.url(endpoint, params)
	if err != nil {
		return nil, err
	}
	return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
}

func (f *Franklin) newPostQueryRequest(ctx context.Context, endpoint string, params url.Values) (*http.Request, error) {
	u, err := f.url(endpoint, params)
	if err != nil {
		return nil, err
	}
	return http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
}

type franklinResponse struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
	Success bool            `json:"success"`
}

// franklinAPIError is an answer from franklin that was not a success.
type franklinAPIError struct {
	message string
}

func (e *franklinAPIError) Error() string {
	return "franklin api error: " + e.message
}

func (f *Franklin) doRequest(req *http.Request, dest interface{}) error {
	ctx := req.Context()
	isLogin := strings.HasSuffix(req.URL.Path, franklinLoginPath)

	// we try up to 2 times because we might have an expired token
	for i := 0; i < 2; i++ {
		if !isLogin {
			req.Header.Set("logintoken", f.tokenStr)
		}

		resp, err := f.client.Do(req)
		if err != nil {
			return err
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return err
		}

		if resp.StatusCode != http.StatusOK {
			if resp.StatusCode == http.StatusUnauthorized && !isLogin && f.tokenStr != "" {
				log.Ctx(ctx).DebugContext(ctx, "franklin token expired")
				f.tokenStr = ""
				if err := f.ensureLogin(ctx); err != nil {
					return err
				}
				continue
			}
			return fmt.Errorf("status %d", resp.StatusCode)
		}

		var fr franklinResponse
		if err := json.NewDecoder(bytes.NewReader(body)).Decode(&fr); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to decode franklin response", slog.Any("error", err), slog.String("body", string(body)))
			return err
		}

		if !fr.Success && fr.Code != 200 {
			// a 401 on anything but login means our token went stale
			if fr.Code == 401 && !isLogin && f.tokenStr != "" {
				log.Ctx(ctx).DebugContext(ctx, "franklin token expired", slog.String("message", fr.Message))
				f.tokenStr = ""
				if err := f.ensureLogin(ctx); err != nil {
					return err
				}
				continue
			}
			if fr.Message == "" {
				log.Ctx(ctx).ErrorContext(ctx, "franklin api unknown error", slog.String("body", string(body)))
				return &franklinAPIError{message: "unknown error"}
			}
			log.Ctx(ctx).ErrorContext(ctx, "franklin api error", slog.String("message", fr.Message))
			return &franklinAPIError{message: fr.Message}
		}

		if dest != nil {
			if err := json.Unmarshal(fr.Result, dest); err != nil {
				log.Ctx(ctx).ErrorContext(ctx, "failed to decode franklin result", slog.Any("error", err))
				return fmt.Errorf("failed to decode franklin result: %w", err)
			}
		}
		return nil
	}
	return errors.New("franklin token refresh did not help")
}

// ListSites returns the account's gateways.
func (f *Franklin) ListSites(ctx context.Context, userID string) ([]types.EnergySite, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.ensureLogin(ctx); err != nil {
		return nil, err
	}
	req, err := f.newGetRequest(ctx, "hes-gateway/terminal/getHomeGatewayList", nil)
	if err != nil {
		return nil, err
	}
	var list []homeGateway
	if err := f.doRequest(req, &list); err != nil {
		return nil, fmt.Errorf("getHomeGatewayList failed: %w", err)
	}

	sites := make([]types.EnergySite, 0, len(list))
	for _, gw := range list {
		name := gw.Name
		if name == "" {
			name = gw.ID
		}
		sites = append(sites, types.EnergySite{ID: gw.ID, Name: name})
	}
	return sites, nil
}

func (f *Franklin) getCurrentMode(ctx context.Context, gatewayID string) (franklinMode, error) {
	params := url.Values{}
	params.Set("showType", "1")
	params.Set("gatewayId", gatewayID)

	req, err := f.newPostQueryRequest(ctx, "hes-gateway/terminal/tou/getGatewayTouListV2", params)
	if err != nil {
		return franklinMode{}, err
	}
	var res gatewayTouListV2Result
	if err := f.doRequest(req, &res); err != nil {
		return franklinMode{}, fmt.Errorf("getGatewayTouListV2 failed: %w", err)
	}

	for _, item := range res.List {
		if item.ID == res.CurrentID {
			return franklinMode{
				ID:                item.ID,
				Name:              item.Name,
				WorkMode:          item.WorkMode,
				ElectricityType:   item.ElectricityType,
				ReserveSOC:        item.ReserveSOC,
				CanEditReserveSOC: item.CanEditReserveSOC,
			}, nil
		}
	}
	log.Ctx(ctx).WarnContext(ctx, "franklin current tou id not found",
		slog.String("gatewayID", gatewayID),
		slog.Int("currentTouID", res.CurrentID),
		slog.Int("modes", len(res.List)),
	)
	return franklinMode{}, fmt.Errorf("%w: no current mode for gateway %s", ErrSiteNotFound, gatewayID)
}

// GetBackupReserve returns the reserve SOC of the current mode.
func (f *Franklin) GetBackupReserve(ctx context.Context, userID, siteID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.ensureLogin(ctx); err != nil {
		return 0, err
	}
	mode, err := f.getCurrentMode(ctx, siteID)
	if err != nil {
		return 0, err
	}
	return int(math.Round(mode.ReserveSOC)), nil
}

// SetBackupReserve updates the reserve SOC of the current mode. Modes that do
// not allow editing the reserve, and API-level refusals, count as not
// accepted.
func (f *Franklin) SetBackupReserve(ctx context.Context, userID, siteID string, percent int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.ensureLogin(ctx); err != nil {
		return false, err
	}
	mode, err := f.getCurrentMode(ctx, siteID)
	if err != nil {
		return false, err
	}
	if !mode.CanEditReserveSOC {
		log.Ctx(ctx).WarnContext(ctx, "cannot edit reserve SOC", slog.String("gatewayID", siteID), slog.String("mode", mode.Name))
		return false, nil
	}

	params := url.Values{}
	params.Set("gatewayId", siteID)
	params.Set("workMode", strconv.Itoa(mode.WorkMode))
	params.Set("electricityType", strconv.Itoa(mode.ElectricityType))
	params.Set("soc", strconv.Itoa(percent))

	log.Ctx(ctx).InfoContext(ctx, "updating franklin soc",
		slog.String("gatewayID", siteID),
		slog.Int("soc", percent),
		slog.Int("workMode", mode.WorkMode),
	)
	req, err := f.newPostQueryRequest(ctx, "hes-gateway/terminal/tou/updateSocV2", params)
	if err != nil {
		return false, err
	}
	if err := f.doRequest(req, &struct{}{}); err != nil {
		var apiErr *franklinAPIError
		if errors.As(err, &apiErr) {
			return false, nil
		}
		log.Ctx(ctx).ErrorContext(ctx, "failed to update soc", slog.Any("error", err))
		return false, err
	}
	return true, nil
}

type gatewayTouListV2Result struct {
	CurrentID int       `json:"currendId"` // yes, it's misspelled
	List      []touItem `json:"list"`
}

type touItem struct {
	ID                int     `json:"id"`
	Name              string  `json:"name"`
	ReserveSOC        float64 `json:"soc"`
	CanEditReserveSOC bool    `json:"editSocFlag"`
	WorkMode          int     `json:"workMode"`
	ElectricityType   int     `json:"electricityType"`
}

type homeGateway struct {
	ID       string `json:"id"`
	Status   int    `json:"status"`
	Name     string `json:"name"`
	ZoneInfo string `json:"zoneInfo"`
}
