package discovery_test

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/nodehound/nodehound/internal/discovery"

	"github.com/stretchr/testify/require"
)

func TestPeekCertificate(t *testing.T) {
	t.Parallel()
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	subject, err := discovery.PeekCertificate(t.Context(), u.Hostname(), port)
	require.NoError(t, err)
	require.NotEmpty(t, subject)
}

func TestPeekCertificateClosedPort(t *testing.T) {
	t.Parallel()
	_, err := discovery.PeekCertificate(t.Context(), "127.0.0.1", 1)
	require.Error(t, err)
}
