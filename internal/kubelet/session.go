package kubelet

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nodehound/nodehound/internal/model"
)

// Session is one HTTP channel to a kubelet port. It carries the transport
// scheme, host, port and an optional bearer credential, and is shared by
// read access across all probes of one run. Proof hunters later borrow the
// same instance, so the credential is attached exactly once.
type Session struct {
	base   string
	token  string
	client *http.Client
}

var _ model.Session = (*Session)(nil)

// NewSession builds a session for scheme://host:port with the process-wide
// network timeout. Certificate validation is disabled on purpose: kubelets
// run with self-signed certificates and the scanner must still reach them.
// Redirects are never followed, the probes inspect the redirect response
// itself.
func NewSession(scheme, host string, port int, token string, timeout time.Duration) *Session {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: true, //nolint:gosec // self-signed node certs are the threat model
		},
	}
	return &Session{
		base:  fmt.Sprintf("%s://%s:%d/", scheme, host, port),
		token: token,
		client: &http.Client{
			Transport: transport,
			Timeout:   timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// BaseURL returns the scheme://host:port/ prefix of the session.
func (s *Session) BaseURL() string {
	return s.base
}

// Get issues a GET against path (relative to the session base) and reads the
// whole body. Extra headers, e.g. WebSocket upgrade ones, come through h.
func (s *Session) Get(ctx context.Context, path string, h http.Header) (model.Response, error) {
	return s.do(ctx, http.MethodGet, path, h)
}

// Post issues a POST against path. The kubelet run handler takes its command
// in the query string, so no body is sent.
func (s *Session) Post(ctx context.Context, path string, h http.Header) (model.Response, error) {
	return s.do(ctx, http.MethodPost, path, h)
}

func (s *Session) do(ctx context.Context, method, path string, h http.Header) (model.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, s.base+path, nil)
	if err != nil {
		return model.Response{}, fmt.Errorf("session %s %s: %w", method, path, err)
	}
	for k, vs := range h {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return model.Response{}, fmt.Errorf("session %s %s: %w", method, path, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.Response{}, fmt.Errorf("session read %s: %w", path, err)
	}
	return model.Response{StatusCode: resp.StatusCode, Body: string(body)}, nil
}
