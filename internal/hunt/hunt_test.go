package hunt_test

import (
	"context"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"testing"

	"github.com/nodehound/nodehound/internal/bus"
	"github.com/nodehound/nodehound/internal/model"

	"github.com/stretchr/testify/require"
)

// collector gathers every published finding, any kind.
type collector struct {
	mu       sync.Mutex
	findings []*model.Finding
}

func collect(b *bus.Bus) *collector {
	c := &collector{}
	for _, kind := range model.Kinds() {
		bus.Subscribe(b, kind.Topic(), func(_ context.Context, f *model.Finding) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.findings = append(c.findings, f)
		})
	}
	return c
}

func (c *collector) kinds() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.findings))
	for _, f := range c.findings {
		names = append(names, f.Name)
	}
	sort.Strings(names)
	return names
}

func (c *collector) byKind(kind model.Kind) *model.Finding {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, f := range c.findings {
		if f.Kind == kind {
			return f
		}
	}
	return nil
}

func hostPort(t *testing.T, rawURL string) (string, int) {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return u.Hostname(), port
}

const testPodsListing = `{
  "kind": "PodList",
  "items": [
    {
      "metadata": {"name": "nginx", "namespace": "default"},
      "spec": {"containers": [{"name": "nginx"}]},
      "status": {"phase": "Running"}
    },
    {
      "metadata": {"name": "kube-proxy", "namespace": "kube-system"},
      "spec": {"containers": [
        {"name": "kube-proxy", "securityContext": {"privileged": true}}
      ]},
      "status": {"phase": "Running"}
    }
  ]
}`
