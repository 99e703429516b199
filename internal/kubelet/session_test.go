package kubelet_test

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/nodehound/nodehound/internal/kubelet"

	"github.com/stretchr/testify/require"
)

func splitHostPort(t *testing.T, rawURL string) (string, int) {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return u.Hostname(), port
}

func TestSessionGet(t *testing.T) {
	t.Parallel()
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte("ok"))
	}))
	t.Cleanup(srv.Close)

	host, port := splitHostPort(t, srv.URL)
	s := kubelet.NewSession("http", host, port, "s3cret", 5*time.Second)
	resp, err := s.Get(t.Context(), "healthz", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", resp.Body)
	require.Equal(t, "Bearer s3cret", gotAuth)
}

func TestSessionNoToken(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Empty(t, r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	host, port := splitHostPort(t, srv.URL)
	s := kubelet.NewSession("http", host, port, "", 5*time.Second)
	resp, err := s.Get(t.Context(), "pods", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSessionSelfSignedTLS(t *testing.T) {
	t.Parallel()
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("secure"))
	}))
	t.Cleanup(srv.Close)

	// must not fail on the self-signed certificate
	host, port := splitHostPort(t, srv.URL)
	s := kubelet.NewSession("https", host, port, "", 5*time.Second)
	resp, err := s.Get(t.Context(), "", nil)
	require.NoError(t, err)
	require.Equal(t, "secure", resp.Body)
}

func TestSessionDoesNotFollowRedirects(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/cri/exec/abcdef", http.StatusFound)
	}))
	t.Cleanup(srv.Close)

	host, port := splitHostPort(t, srv.URL)
	s := kubelet.NewSession("http", host, port, "", 5*time.Second)
	resp, err := s.Get(t.Context(), "exec/default/p/c?command=&input=1&output=1&tty=1", nil)
	require.NoError(t, err)
	// the 302 itself comes back, its body carries the redirect marker
	require.Equal(t, http.StatusFound, resp.StatusCode)
	require.Contains(t, resp.Body, "/cri/exec/")
}

func TestSessionExtraHeaders(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "v2.channel.k8s.io", r.Header.Get("X-Stream-Protocol-Version"))
	}))
	t.Cleanup(srv.Close)

	host, port := splitHostPort(t, srv.URL)
	s := kubelet.NewSession("http", host, port, "", 5*time.Second)
	h := http.Header{}
	h.Set("X-Stream-Protocol-Version", "v2.channel.k8s.io")
	_, err := s.Get(t.Context(), "exec/default/p/c?command=&input=1&output=1&tty=1", h)
	require.NoError(t, err)
}

func TestSessionTimeout(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	t.Cleanup(srv.Close)

	host, port := splitHostPort(t, srv.URL)
	s := kubelet.NewSession("http", host, port, "", 50*time.Millisecond)
	_, err := s.Get(t.Context(), "healthz", nil)
	require.Error(t, err)
}
