package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// WireRecord is the request shape the collector's usage endpoint accepts.
// Timestamps are calendar breakdowns: [year, month, day, hour, minute, second].
type WireRecord struct {
	TenantID              string  `json:"tenantId"`
	UserID                *int64  `json:"userId"`
	DeviceID              string  `json:"deviceId"`
	AppPackageName        string  `json:"appPackageName"`
	AppName               string  `json:"appName,omitempty"`
	Category              string  `json:"category,omitempty"`
	UsageTimeMs           int64   `json:"usageTimeMs"`
	Timestamp             []int   `json:"timestamp"`
	LastTimeUsed          []int   `json:"lastTimeUsed,omitempty"`
	FirstTimeStamp        []int   `json:"firstTimeStamp,omitempty"`
	LaunchCount           int     `json:"launchCount,omitempty"`
	TotalTimeInForeground int64   `json:"totalTimeInForeground,omitempty"`
	SessionID             string  `json:"sessionId,omitempty"`
	InteractionType       string  `json:"interactionType,omitempty"`
	ScreenTimeMinutes     float64 `json:"screenTimeMinutes,omitempty"`
	ProductivityScore     float64 `json:"productivityScore"`
	EconomicValue         float64 `json:"economicValue"`
}

// healthResponse models the collector's health endpoint body.
type healthResponse struct {
	Status string `json:"status"`
}

// Client performs the network calls against the remote collector. One
// operation submits a batch; the other probes reachability.
type Client interface {
	Submit(ctx context.Context, identity string, batch []WireRecord) ([]WireRecord, error)
	HealthCheck(ctx context.Context) (string, error)
}

// Config for the HTTP client.
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	HTTPProxy string
}

// HTTPClient is the production Client. Submission is a single POST carrying
// the whole batch; any transport error, non-2xx status or undecodable body is
// a failure and nothing is assumed delivered.
type HTTPClient struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

// NewHTTPClient creates a collector client.
func NewHTTPClient(cfg Config, log zerolog.Logger) *HTTPClient {
	var transport http.RoundTripper = &http.Transport{}
	if cfg.HTTPProxy != "" {
		proxyURL, err := url.Parse(cfg.HTTPProxy)
		if err != nil {
			log.Warn().Str("proxy", cfg.HTTPProxy).Err(err).Msg("invalid proxy URL, not using a proxy")
		} else {
			transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
		}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &HTTPClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		log: log.With().Str("component", "collector").Logger(),
	}
}

// Submit posts the batch tagged with the study identity and returns the
// records the collector reports as accepted.
func (c *HTTPClient) Submit(ctx context.Context, identity string, batch []WireRecord) ([]WireRecord, error) {
	body, err := json.Marshal(batch)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal batch: %w", err)
	}

	endpoint := fmt.Sprintf("%s/api/usage/submit-with-study-id?studyId=%s", c.baseURL, url.QueryEscape(identity))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create submit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("submit request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("collector returned status %d", resp.StatusCode)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read submit response: %w", err)
	}

	var accepted []WireRecord
	if err := json.Unmarshal(respBody, &accepted); err != nil {
		return nil, fmt.Errorf("failed to unmarshal submit response: %w", err)
	}

	c.log.Debug().Int("submitted", len(batch)).Int("accepted", len(accepted)).Msg("batch submitted")
	return accepted, nil
}

// HealthCheck probes the collector's health endpoint and returns the reported
// status string.
func (c *HTTPClient) HealthCheck(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/actuator/health", nil)
	if err != nil {
		return "", fmt.Errorf("failed to create health request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("health request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	var health healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return "", fmt.Errorf("failed to decode health response: %w", err)
	}
	return health.Status, nil
}
