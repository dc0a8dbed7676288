// Package upstream is the HTTP client for the IPTV orchestrator the core
// schedules checks against (spec §6). Grounded on the teacher's
// internal/openwebif.Client: bearer-token auth, a resilience.CircuitBreaker
// wrapping every call, fixed-attempt retry with exponential backoff, and
// otelhttp instrumentation on the transport.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/sbeimel/streamflow-sub002/internal/log"
	"github.com/sbeimel/streamflow-sub002/internal/model"
	"github.com/sbeimel/streamflow-sub002/internal/resilience"
)

// TokenSource supplies the bearer token used on every request, letting the
// client stay agnostic of how the token is obtained/refreshed (login
// endpoint, static config, secret manager).
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource for a fixed, pre-obtained bearer token.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) { return string(t), nil }

// Client is the upstream orchestrator HTTP client.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
	breaker    *resilience.CircuitBreaker
	maxRetries int
	backoff    time.Duration
	maxBackoff time.Duration
}

// New creates a Client. baseURL must not have a trailing slash.
func New(baseURL string, tokens TokenSource) *Client {
	transport := otelhttp.NewTransport(http.DefaultTransport)
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout:   15 * time.Second,
			Transport: transport,
		},
		tokens:     tokens,
		breaker:    resilience.New("upstream", 3, 5, 60*time.Second, 30*time.Second),
		maxRetries: 2,
		backoff:    500 * time.Millisecond,
		maxBackoff: 8 * time.Second,
	}
}

func (c *Client) backoffDuration(attempt int) time.Duration {
	d := c.backoff * time.Duration(1<<uint(attempt))
	if d > c.maxBackoff {
		return c.maxBackoff
	}
	return d
}

// doRequest executes one HTTP request under the circuit breaker with
// bounded retries on transient failures (network errors, 5xx).
func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, int, error) {
	if !c.breaker.AllowRequest() {
		return nil, 0, resilience.ErrCircuitOpen
	}

	var lastErr error
	var lastStatus int
	var lastBody []byte

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				c.breaker.RecordFailure()
				return nil, 0, ctx.Err()
			case <-time.After(c.backoffDuration(attempt)):
			}
		}

		c.breaker.RecordAttempt()
		status, data, err := c.attempt(ctx, method, path, body)
		if err == nil && status < 500 {
			c.breaker.RecordSuccess()
			return data, status, nil
		}

		lastErr, lastStatus, lastBody = err, status, data
		if err == nil && status < 500 {
			break
		}
		if !isTransient(err, status) {
			break
		}
	}

	c.breaker.RecordFailure()
	if lastErr != nil {
		return nil, lastStatus, lastErr
	}
	return lastBody, lastStatus, fmt.Errorf("upstream: %s %s: status %d", method, path, lastStatus)
}

func (c *Client) attempt(ctx context.Context, method, path string, body []byte) (int, []byte, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return 0, nil, fmt.Errorf("upstream: token: %w", err)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("upstream: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer drainAndClose(resp.Body)

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	if resp.StatusCode >= 400 {
		return resp.StatusCode, data, fmt.Errorf("upstream: %s %s: status %d", method, path, resp.StatusCode)
	}
	return resp.StatusCode, data, nil
}

func isTransient(err error, status int) bool {
	if status >= 500 {
		return true
	}
	var netErr net.Error
	return err != nil && (asNetError(err, &netErr) || err == context.DeadlineExceeded)
}

func asNetError(err error, target *net.Error) bool {
	ne, ok := err.(net.Error)
	if !ok {
		return false
	}
	*target = ne
	return true
}

func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 4096))
	_ = body.Close()
}

// ListChannels fetches every channel known to the upstream.
func (c *Client) ListChannels(ctx context.Context) ([]model.Channel, error) {
	var out []model.Channel
	if err := c.getJSON(ctx, "/channels/", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListStreams fetches every stream known to the upstream.
func (c *Client) ListStreams(ctx context.Context) ([]model.Stream, error) {
	var out []model.Stream
	if err := c.getJSON(ctx, "/streams/", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListM3UAccounts fetches every configured M3U account.
func (c *Client) ListM3UAccounts(ctx context.Context) ([]model.M3UAccount, error) {
	var out []model.M3UAccount
	if err := c.getJSON(ctx, "/m3u/accounts/", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListChannelProfiles fetches every channel profile.
func (c *Client) ListChannelProfiles(ctx context.Context) ([]model.ChannelProfile, error) {
	var out []model.ChannelProfile
	if err := c.getJSON(ctx, "/channels/profiles/", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	data, _, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("upstream: decode %s: %w", path, err)
	}
	return nil
}

// PatchStreamStats merges newStats into the stream's existing stream_stats
// on upstream, preserving unknown keys already present there (spec §6).
func (c *Client) PatchStreamStats(ctx context.Context, streamID int, newStats model.StreamStats) error {
	statsJSON, err := json.Marshal(newStats)
	if err != nil {
		return fmt.Errorf("upstream: marshal stream_stats: %w", err)
	}
	var statsMap map[string]any
	if err := json.Unmarshal(statsJSON, &statsMap); err != nil {
		return fmt.Errorf("upstream: remarshal stream_stats: %w", err)
	}

	existing, err := c.getStreamStatsMap(ctx, streamID)
	if err != nil {
		log.WithComponent("upstream").Warn().Err(err).Int("stream_id", streamID).
			Msg("could not fetch existing stream_stats before PATCH, proceeding without merge")
		existing = map[string]any{}
	}

	merged := mergePreservingUnknownKeys(existing, statsMap)
	payload, err := json.Marshal(map[string]any{"stream_stats": merged})
	if err != nil {
		return fmt.Errorf("upstream: marshal patch payload: %w", err)
	}

	_, _, err = c.doRequest(ctx, http.MethodPatch, fmt.Sprintf("/streams/%d/", streamID), payload)
	return err
}

func (c *Client) getStreamStatsMap(ctx context.Context, streamID int) (map[string]any, error) {
	data, _, err := c.doRequest(ctx, http.MethodGet, fmt.Sprintf("/streams/%d/", streamID), nil)
	if err != nil {
		return nil, err
	}
	var wrapper struct {
		StreamStats map[string]any `json:"stream_stats"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil, err
	}
	if wrapper.StreamStats == nil {
		return map[string]any{}, nil
	}
	return wrapper.StreamStats, nil
}

// mergePreservingUnknownKeys returns a copy of existing with every key of
// update overlaid on top; keys present only in existing survive untouched.
func mergePreservingUnknownKeys(existing, update map[string]any) map[string]any {
	merged := make(map[string]any, len(existing)+len(update))
	for k, v := range existing {
		merged[k] = v
	}
	for k, v := range update {
		merged[k] = v
	}
	return merged
}

// PatchChannelStreams sets (or reorders) a channel's stream association.
func (c *Client) PatchChannelStreams(ctx context.Context, channelID int, streamIDs []int) error {
	payload, err := json.Marshal(map[string]any{"streams": streamIDs})
	if err != nil {
		return err
	}
	_, _, err = c.doRequest(ctx, http.MethodPatch, fmt.Sprintf("/channels/%d/", channelID), payload)
	return err
}

// PatchProfileEnabled toggles a channel's enabled state within one profile.
func (c *Client) PatchProfileEnabled(ctx context.Context, profileID, channelID int, enabled bool) error {
	payload, err := json.Marshal(map[string]any{"channel_id": channelID, "enabled": enabled})
	if err != nil {
		return err
	}
	_, _, err = c.doRequest(ctx, http.MethodPatch, fmt.Sprintf("/channels/profiles/%d/", profileID), payload)
	return err
}

// RefreshM3UAccount triggers an upstream playlist refresh for one account.
func (c *Client) RefreshM3UAccount(ctx context.Context, accountID int) error {
	_, _, err := c.doRequest(ctx, http.MethodPost, fmt.Sprintf("/m3u/accounts/%d/refresh/", accountID), nil)
	return err
}

// GetProxyStatus fetches and decodes GET /proxy/ts/status, keyed by
// channel_id; entries lacking channel_id are skipped (spec §6).
func (c *Client) GetProxyStatus(ctx context.Context) (model.ProxyStatus, error) {
	data, _, err := c.doRequest(ctx, http.MethodGet, "/proxy/ts/status", nil)
	if err != nil {
		return model.ProxyStatus{}, err
	}

	var raw struct {
		Channels []json.RawMessage `json:"channels"`
		Count    int               `json:"count"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return model.ProxyStatus{}, fmt.Errorf("upstream: decode proxy status: %w", err)
	}

	out := model.ProxyStatus{Channels: make(map[int]model.ProxyChannelStatus), Count: raw.Count}
	for _, item := range raw.Channels {
		var probe struct {
			ChannelID *int `json:"channel_id"`
		}
		if err := json.Unmarshal(item, &probe); err != nil || probe.ChannelID == nil {
			continue
		}
		var status model.ProxyChannelStatus
		if err := json.Unmarshal(item, &status); err != nil {
			continue
		}
		out.Channels[*probe.ChannelID] = status
	}
	return out, nil
}
