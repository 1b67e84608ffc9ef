package callconfig

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/vango-go/voicebridge/pkg/core"
)

const (
	DefaultRemoteTimeout    = 5 * time.Second
	DefaultRemoteRetries    = 3
	DefaultRemoteRetryDelay = 200 * time.Millisecond
)

// Remote asks the configuration owner's HTTP API for a call's
// configuration: GET {BaseURL}/v1/calls/{call_id}/config.
type Remote struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Retries    uint64
	RetryDelay time.Duration
}

func (r *Remote) Name() string { return "remote" }

func (r *Remote) Lookup(ctx context.Context, req Request) (core.AgentConfig, bool, error) {
	if r == nil || strings.TrimSpace(r.BaseURL) == "" || req.CallID == "" {
		return core.AgentConfig{}, false, nil
	}
	endpoint, err := r.endpoint(req)
	if err != nil {
		return core.AgentConfig{}, false, err
	}

	retries := r.Retries
	if retries == 0 {
		retries = DefaultRemoteRetries
	}
	delay := r.RetryDelay
	if delay <= 0 {
		delay = DefaultRemoteRetryDelay
	}
	backoff := retry.WithMaxRetries(retries, retry.WithCappedDuration(5*time.Second, retry.NewExponential(delay)))

	var (
		cfg   core.AgentConfig
		found bool
	)
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		var err error
		cfg, found, err = r.fetch(ctx, endpoint)
		return err
	})
	if err != nil {
		return core.AgentConfig{}, false, err
	}
	return cfg, found, nil
}

func (r *Remote) endpoint(req Request) (string, error) {
	u, err := url.Parse(strings.TrimRight(r.BaseURL, "/") + "/v1/calls/" + url.PathEscape(req.CallID) + "/config")
	if err != nil {
		return "", fmt.Errorf("remote config: %w", err)
	}
	q := u.Query()
	if req.To != "" {
		q.Set("to", req.To)
	}
	if req.From != "" {
		q.Set("from", req.From)
	}
	if req.AgentID != "" {
		q.Set("agent_id", req.AgentID)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (r *Remote) fetch(ctx context.Context, endpoint string) (core.AgentConfig, bool, error) {
	client := r.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: DefaultRemoteTimeout}
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return core.AgentConfig{}, false, err
	}
	httpReq.Header.Set("Accept", "application/json")
	if r.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+r.APIKey)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return core.AgentConfig{}, false, err
		}
		return core.AgentConfig{}, false, retry.RetryableError(fmt.Errorf("remote config: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return core.AgentConfig{}, false, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return core.AgentConfig{}, false, retry.RetryableError(fmt.Errorf("remote config: status %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return core.AgentConfig{}, false, fmt.Errorf("remote config: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var cfg core.AgentConfig
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&cfg); err != nil {
		return core.AgentConfig{}, false, fmt.Errorf("remote config: decode: %w", err)
	}
	return cfg, true, nil
}
