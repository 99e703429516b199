// Package discovery finds reachable kubelet management ports on target
// nodes and emits one entry event per open port. Probing itself happens in
// the hunt package, this layer only answers "is there something to probe".
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/nodehound/nodehound/internal/bus"
	"github.com/nodehound/nodehound/internal/config"
	"github.com/nodehound/nodehound/internal/kubelet"
	"github.com/nodehound/nodehound/internal/log"
)

type Discovery struct {
	cfg config.Config
}

func New(cfg config.Config) *Discovery {
	return &Discovery{cfg: cfg}
}

// Run checks both kubelet ports of one host and publishes the matching entry
// events. Hosts are independent, callers may run this concurrently per host.
func (d *Discovery) Run(ctx context.Context, b *bus.Bus, host string) {
	ctx = log.ContextAttrs(ctx, slog.String("host", host))

	readonly, secure := d.openPorts(ctx, host)
	if !readonly && !secure {
		slog.InfoContext(ctx, "no kubelet ports reachable")
		return
	}

	if readonly {
		slog.InfoContext(ctx, "read-only kubelet port open", "port", ReadOnlyPort)
		b.Publish(ctx, TopicReadOnlyPort, ReadOnlyPortEvent{Host: host, Port: ReadOnlyPort})
	}

	if secure {
		slog.InfoContext(ctx, "secure kubelet port open", "port", SecurePort)
		token := d.cfg.BearerToken()
		ev := SecurePortEvent{
			Host:                 host,
			Port:                 SecurePort,
			Authenticated:        token != "",
			AnonymousAuthEnabled: d.anonymousAccess(ctx, host),
			BearerToken:          token,
		}
		if subject, err := PeekCertificate(ctx, host, SecurePort); err == nil {
			ev.CertSubject = subject
			slog.DebugContext(ctx, "kubelet certificate", "subject", subject)
		}
		b.Publish(ctx, TopicSecurePort, ev)
	}
}

func (d *Discovery) openPorts(ctx context.Context, host string) (readonly, secure bool) {
	if d.cfg.Nmap {
		readonly, secure, err := nmapPorts(ctx, host, d.cfg.NmapBinary, d.cfg.NetworkTimeout)
		if err == nil {
			return readonly, secure
		}
		slog.WarnContext(ctx, "nmap discovery failed, falling back to dial", "error", err)
	}
	return dialPort(ctx, host, ReadOnlyPort, d.cfg.NetworkTimeout),
		dialPort(ctx, host, SecurePort, d.cfg.NetworkTimeout)
}

func dialPort(ctx context.Context, host string, port int, timeout time.Duration) bool {
	var dialer net.Dialer
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := dialer.DialContext(dialCtx, "tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		slog.DebugContext(ctx, "port closed", "port", port, "error", err)
		return false
	}
	_ = conn.Close()
	return true
}

// anonymousAccess reports whether the secure port serves the pods listing to
// a request carrying no credential at all. A rejected (401/403) or
// unrecognizable response means anonymous auth is off or inconclusive.
func (d *Discovery) anonymousAccess(ctx context.Context, host string) bool {
	anon := kubelet.NewSession("https", host, SecurePort, "", d.cfg.NetworkTimeout)
	resp, err := anon.Get(ctx, kubelet.Pods.Resolve(kubelet.Vars{}), nil)
	if err != nil {
		slog.DebugContext(ctx, "anonymous check failed", "error", err)
		return false
	}
	return resp.StatusCode == http.StatusOK && strings.Contains(resp.Body, "items")
}
