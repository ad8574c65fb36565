// Package grohe is the HTTP client for the Grohe smarthome cloud API.
package grohe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"grohe-sync-backend/internal/consumption"
	"grohe-sync-backend/internal/coordinator"
	"grohe-sync-backend/internal/device"
	"grohe-sync-backend/internal/freshness"
)

const appliancePath = "/locations/{location}/rooms/{room}/appliances/{appliance}"

// Config holds the connection settings of the cloud API.
type Config struct {
	BaseURL           string
	TokenURL          string
	ClientID          string
	RefreshToken      string
	Timeout           time.Duration
	RequestsPerSecond float64
	// HTTPProxy is used for token and API requests when set.
	HTTPProxy string
}

// StatusError is returned when the API answers with a non-2xx status.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// Client talks to the cloud API on behalf of every coordinator. It is safe for
// concurrent use.
type Client struct {
	http    *resty.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

var _ coordinator.Client = (*Client)(nil)

// New creates a client that authenticates with cfg.RefreshToken. Access tokens are
// obtained and renewed by the oauth2 token source.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.HTTPProxy != "" {
		proxyURL, err := url.Parse(cfg.HTTPProxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL %q: %w", cfg.HTTPProxy, err)
		}
		base := &http.Client{Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)}}
		ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
	}

	oauthCfg := &oauth2.Config{
		ClientID: cfg.ClientID,
		Endpoint: oauth2.Endpoint{TokenURL: cfg.TokenURL},
	}
	httpClient := oauthCfg.Client(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken})
	return NewWithHTTPClient(httpClient, cfg, logger), nil
}

// NewWithHTTPClient creates a client on top of an already authenticated HTTP client.
func NewWithHTTPClient(httpClient *http.Client, cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	r := resty.NewWithClient(httpClient).
		SetBaseURL(cfg.BaseURL).
		SetHeader("Accept", "application/json").
		SetHeader("Content-Type", "application/json")
	if cfg.Timeout > 0 {
		r.SetTimeout(cfg.Timeout)
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	return &Client{
		http:    r,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger.Named("grohe"),
	}
}

// ApplianceDetails returns the full details document of an appliance.
func (c *Client) ApplianceDetails(ctx context.Context, id device.Identity) (map[string]any, error) {
	return c.do(ctx, http.MethodGet, id, "/details", nil)
}

// ApplianceCommand returns the last command document of an appliance.
func (c *Client) ApplianceCommand(ctx context.Context, id device.Identity) (map[string]any, error) {
	return c.do(ctx, http.MethodGet, id, "/command", nil)
}

// SendCommand posts payload to the appliance. The appliance type code is added to the body.
func (c *Client) SendCommand(ctx context.Context, id device.Identity, payload map[string]any) (map[string]any, error) {
	body := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		body[k] = v
	}
	body["type"] = int(id.Kind)

	return c.do(ctx, http.MethodPost, id, "/command", func(req *resty.Request) {
		req.SetBody(body)
	})
}

// PressureMeasurement returns the latest pressure measurement of a guard.
func (c *Client) PressureMeasurement(ctx context.Context, id device.Identity) (map[string]any, error) {
	return c.do(ctx, http.MethodGet, id, "/pressuremeasurement", nil)
}

// Consumption returns the aggregated withdrawals between from and to (inclusive dates).
func (c *Client) Consumption(ctx context.Context, id device.Identity, from, to time.Time, groupBy consumption.GroupBy) ([]consumption.Withdrawal, error) {
	resp, err := c.do(ctx, http.MethodGet, id, "/data/aggregated", func(req *resty.Request) {
		req.SetQueryParams(map[string]string{
			"from":    from.Format(time.DateOnly),
			"to":      to.Format(time.DateOnly),
			"groupBy": string(groupBy),
		})
	})
	if err != nil {
		return nil, err
	}

	raw, ok := freshness.Lookup[[]any](resp, "data", "withdrawals")
	if !ok {
		return []consumption.Withdrawal{}, nil
	}

	var withdrawals []consumption.Withdrawal
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &withdrawals,
	})
	if err != nil {
		return nil, fmt.Errorf("create withdrawal decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("decode withdrawals of %s: %w", id, err)
	}
	return withdrawals, nil
}

func (c *Client) do(ctx context.Context, method string, id device.Identity, endpoint string, build func(*resty.Request)) (map[string]any, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("wait for rate limiter: %w", err)
	}

	req := c.http.R().
		SetContext(ctx).
		SetPathParams(map[string]string{
			"location":  id.LocationID,
			"room":      id.RoomID,
			"appliance": id.ApplianceID,
		})
	if build != nil {
		build(req)
	}

	path := appliancePath + endpoint
	start := time.Now()
	resp, err := req.Execute(method, path)
	if err != nil {
		if coordinator.IsTimeout(err) {
			return nil, fmt.Errorf("%s %s: %w: %w", method, endpoint, coordinator.ErrTimeout, err)
		}
		return nil, fmt.Errorf("%s %s: %w", method, endpoint, err)
	}

	c.logger.Debug("api request",
		zap.String("method", method),
		zap.String("endpoint", endpoint),
		zap.String("appliance_id", id.ApplianceID),
		zap.Int("status_code", resp.StatusCode()),
		zap.Duration("duration", time.Since(start)),
	)

	if resp.IsError() || resp.StatusCode() < http.StatusOK || resp.StatusCode() >= http.StatusMultipleChoices {
		return nil, &StatusError{Method: method, Path: endpoint, Code: resp.StatusCode(), Body: string(resp.Body())}
	}

	out := map[string]any{}
	if len(resp.Body()) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	return out, nil
}
