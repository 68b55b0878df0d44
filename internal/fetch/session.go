package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
)

// SessionFunc performs a GET through an external browser session, sharing
// its cookies and TLS fingerprint, and returns the response status and body.
type SessionFunc func(ctx context.Context, rawURL string, headers map[string]string) (status int, body []byte, err error)

// Session adapts a browser-session fetch function to Fetcher.
type Session struct {
	name string
	do   SessionFunc
}

// NewSession wraps fn. A nil fn yields a Session whose fetches always fail.
func NewSession(name string, fn SessionFunc) *Session {
	if name == "" {
		name = "browser-session"
	}
	return &Session{name: name, do: fn}
}

var errNoSession = errors.New("browser session unavailable")

// Name implements Named.
func (s *Session) Name() string {
	return s.name
}

// FetchText implements Fetcher.FetchText.
func (s *Session) FetchText(ctx context.Context, rawURL string, headers map[string]string) (string, error) {
	body, err := s.get(ctx, rawURL, headers)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// FetchBinary implements Fetcher.FetchBinary.
func (s *Session) FetchBinary(ctx context.Context, rawURL string, headers map[string]string) ([]byte, error) {
	return s.get(ctx, rawURL, headers)
}

func (s *Session) get(ctx context.Context, rawURL string, headers map[string]string) ([]byte, error) {
	if s.do == nil {
		return nil, errNoSession
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	status, body, err := s.do(ctx, rawURL, headers)
	if err != nil {
		return nil, err
	}
	if !isSuccess(status) {
		return nil, &StatusError{URL: rawURL, StatusCode: status}
	}
	return body, nil
}

// relayRequest is the body posted to a session relay.
type relayRequest struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
}

// RelayStatusHeader carries the upstream status when a relay answers with
// its own status code.
const RelayStatusHeader = "X-Upstream-Status"

// NewRelaySession returns a Session that asks the browser collaborator to
// perform each fetch. Every fetch is a POST of {"url", "headers"} to
// relayURL; the relay answers with the upstream body and either the upstream
// status or 200 plus RelayStatusHeader. maxBody caps the body; zero means
// unlimited.
func NewRelaySession(client *http.Client, relayURL string, maxBody int64) *Session {
	if client == nil {
		client = http.DefaultClient
	}
	return NewSession("browser-session", func(ctx context.Context, rawURL string, headers map[string]string) (int, []byte, error) {
		payload, err := json.Marshal(relayRequest{URL: rawURL, Headers: headers})
		if err != nil {
			return 0, nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, relayURL, bytes.NewReader(payload))
		if err != nil {
			return 0, nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return 0, nil, fmt.Errorf("session relay: %w", err)
		}
		defer resp.Body.Close()

		status := resp.StatusCode
		if raw := resp.Header.Get(RelayStatusHeader); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil {
				status = n
			}
		}
		var r io.Reader = resp.Body
		if maxBody > 0 {
			r = io.LimitReader(resp.Body, maxBody+1)
		}
		body, err := io.ReadAll(r)
		if err != nil {
			return status, nil, err
		}
		if maxBody > 0 && int64(len(body)) > maxBody {
			return status, nil, ErrBodyTooLarge
		}
		return status, body, nil
	})
}
