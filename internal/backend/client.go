// internal/backend/client.go
package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/factuscan/factuscan/api/schemas"
	"github.com/factuscan/factuscan/internal/config"
	"github.com/factuscan/factuscan/internal/scrapererr"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Client is the typed HTTP client for the record-keeping backend. A 404 on
// GET is a recoverable not-found, a 403 surfaces as an authentication
// failure, and a 307 is followed once with the same method and body.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// NewClient builds a backend client from configuration.
func NewClient(cfg config.BackendConfig, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.InternalAPIKey,
		httpClient: &http.Client{
			Timeout: timeout,
			// Redirects are handled manually so the 307 retains its method
			// and body.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		limiter: limiter,
		logger:  logger.Named("backend"),
	}
}

// GetUserService fetches one user service by ID.
func (c *Client) GetUserService(ctx context.Context, id string) (*schemas.UserService, error) {
	var us schemas.UserService
	if err := c.request(ctx, http.MethodGet, "/user-service/"+id, nil, &us); err != nil {
		return nil, err
	}
	return &us, nil
}

// GetUserServicesByService fetches every user service subscribed to a provider.
func (c *Client) GetUserServicesByService(ctx context.Context, serviceID string) ([]schemas.UserService, error) {
	var out []schemas.UserService
	if err := c.request(ctx, http.MethodGet, "/user-service/service/"+serviceID, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetScrappedData fetches the scrapped-data records for a user service.
// The backend sometimes answers with a single object instead of a list; both
// shapes are normalized to a slice. A 404 maps to scrapererr.ErrNotFound.
func (c *Client) GetScrappedData(ctx context.Context, userServiceID string) ([]schemas.ScrappedData, error) {
	var raw jsoniter.RawMessage
	if err := c.request(ctx, http.MethodGet, "/scrapped-data/user-service/"+userServiceID, nil, &raw); err != nil {
		return nil, err
	}
	return normalizeScrappedData(raw)
}

func normalizeScrappedData(raw []byte) ([]schemas.ScrappedData, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var list []schemas.ScrappedData
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, scrapererr.HTTP("malformed scrapped-data list", 0, err)
		}
		return list, nil
	}
	var single schemas.ScrappedData
	if err := json.Unmarshal(trimmed, &single); err != nil {
		return nil, scrapererr.HTTP("malformed scrapped-data record", 0, err)
	}
	return []schemas.ScrappedData{single}, nil
}

// CreateScrappedData creates the first scrapped-data record for a user service.
func (c *Client) CreateScrappedData(ctx context.Context, userServiceID string, bills []schemas.Bill, consumption map[string]interface{}, debt bool) (*schemas.ScrappedData, error) {
	if consumption == nil {
		consumption = map[string]interface{}{}
	}
	body := map[string]interface{}{
		"user_service_id":  userServiceID,
		"bills_url":        bills,
		"consumption_data": consumption,
		"debt":             debt,
	}
	var created schemas.ScrappedData
	if err := c.request(ctx, http.MethodPost, "/scrapped-data", body, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// ScrappedDataPatch carries the fields of a partial update. Nil fields are
// left untouched by the backend.
type ScrappedDataPatch struct {
	Bills       []schemas.Bill         `json:"bills_url,omitempty"`
	Consumption map[string]interface{} `json:"consumption_data,omitempty"`
	Debt        *bool                  `json:"debt,omitempty"`
}

// UpdateScrappedData applies a partial update to one scrapped-data record.
func (c *Client) UpdateScrappedData(ctx context.Context, id string, patch ScrappedDataPatch) (*schemas.ScrappedData, error) {
	var updated schemas.ScrappedData
	if err := c.request(ctx, http.MethodPatch, "/scrapped-data/"+id, patch, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// GetService fetches one provider service by ID.
func (c *Client) GetService(ctx context.Context, id string) (*schemas.Service, error) {
	var svc schemas.Service
	if err := c.request(ctx, http.MethodGet, "/service/"+id, nil, &svc); err != nil {
		return nil, err
	}
	return &svc, nil
}

// GetServices lists every provider service the backend knows about.
func (c *Client) GetServices(ctx context.Context) ([]schemas.Service, error) {
	var out []schemas.Service
	if err := c.request(ctx, http.MethodGet, "/service", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) request(ctx context.Context, method, path string, body, out interface{}) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return scrapererr.HTTP("rate limiter wait", 0, err)
		}
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return scrapererr.HTTP("encode request body", 0, err)
		}
	}

	url := c.baseURL + path
	resp, err := c.do(ctx, method, url, payload, true)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s %s: %w", method, path, scrapererr.ErrNotFound)
	case resp.StatusCode == http.StatusForbidden:
		return scrapererr.HTTP("service authentication failed", http.StatusForbidden, nil)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return scrapererr.HTTP(
			fmt.Sprintf("%s %s returned %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(snippet))),
			resp.StatusCode, nil)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return scrapererr.HTTP("decode response body", resp.StatusCode, err)
	}
	return nil
}

// do executes one request, following a single 307 redirect with the same
// method and body.
func (c *Client) do(ctx context.Context, method, url string, payload []byte, allowRedirect bool) (*http.Response, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, scrapererr.HTTP("build request", 0, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Internal-API-Key", c.apiKey)
	}

	c.logger.Debug("Backend request", zap.String("method", method), zap.String("url", url))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, scrapererr.HTTP("request failed", 0, err)
	}

	if resp.StatusCode == http.StatusTemporaryRedirect && allowRedirect {
		location := resp.Header.Get("Location")
		resp.Body.Close()
		if location == "" {
			return nil, scrapererr.HTTP("307 without Location header", http.StatusTemporaryRedirect, nil)
		}
		if strings.HasPrefix(location, "/") {
			location = c.baseURL + location
		}
		c.logger.Debug("Following redirect", zap.String("location", location))
		return c.do(ctx, method, location, payload, false)
	}

	return resp, nil
}
