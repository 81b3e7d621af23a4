package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

const (
	connectTimeout = 3 * time.Second
	maxRetryTime   = 10 * time.Second
)

// Client calls the directory service over its unix socket.
type Client struct {
	httpClient *http.Client
}

// NewClient creates a client for the socket at path, retrying transient
// network errors with exponential backoff. Retries reuse the request's
// token, so the server never executes an operation twice.
func NewClient(path string) *Client {
	return &Client{
		httpClient: &http.Client{
			Transport: &retryRoundTripper{
				base: &http.Transport{
					DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
						return (&net.Dialer{Timeout: connectTimeout}).DialContext(ctx, "unix", path)
					},
				},
				newBackoff: func() backoff.BackOff {
					return backoff.NewExponentialBackOff(
						backoff.WithInitialInterval(100*time.Millisecond),
						backoff.WithMaxInterval(1*time.Second),
						backoff.WithMaxElapsedTime(maxRetryTime),
					)
				},
			},
		},
	}
}

// Call executes one operation. params is marshaled into the request;
// a non-nil out receives the unmarshaled result.
func (c *Client) Call(ctx context.Context, op string, params, out any) error {
	req := Request{Token: uuid.NewString(), Op: op}
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshal %s params: %w", op, err)
		}
		req.Params = data
	}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", op, err)
	}

	// The host part is ignored; the transport dials the socket.
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		"http://vigil/v1/ops", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", op, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("call %s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("call %s: status %d: %s", op, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var envelope Response
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode %s response: %w", op, err)
	}
	if envelope.Error != "" {
		return fmt.Errorf("%s: %s", op, envelope.Error)
	}
	if out != nil && len(envelope.Result) > 0 {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return fmt.Errorf("unmarshal %s result: %w", op, err)
		}
	}
	return nil
}

// retryRoundTripper retries requests on transient network errors.
type retryRoundTripper struct {
	base       http.RoundTripper
	newBackoff func() backoff.BackOff
}

func (rt *retryRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	var bodyCopy []byte
	if req.Body != nil {
		var err error
		bodyCopy, err = io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, backoff.Permanent(err)
		}
	}
	attempt := func() (*http.Response, error) {
		if bodyCopy != nil {
			req.Body = io.NopCloser(bytes.NewReader(bodyCopy))
		}
		resp, err := rt.base.RoundTrip(req)
		if err != nil {
			var opErr *net.OpError
			if errors.As(err, &opErr) {
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}
		return resp, nil
	}
	boff := backoff.WithContext(rt.newBackoff(), req.Context())
	return backoff.RetryWithData(attempt, boff)
}
