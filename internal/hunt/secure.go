package hunt

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/nodehound/nodehound/internal/bus"
	"github.com/nodehound/nodehound/internal/config"
	"github.com/nodehound/nodehound/internal/discovery"
	"github.com/nodehound/nodehound/internal/kubelet"
	"github.com/nodehound/nodehound/internal/log"
	"github.com/nodehound/nodehound/internal/model"
)

// Secure probes the authenticated kubelet management port and drives the
// debug-handler battery.
type Secure struct {
	cfg config.Config
	bus *bus.Bus
}

func NewSecure(cfg config.Config, b *bus.Bus) *Secure {
	return &Secure{cfg: cfg, bus: b}
}

// Register subscribes the prober to secure port discoveries.
func (p *Secure) Register(b *bus.Bus) {
	bus.Subscribe(b, discovery.TopicSecurePort, p.Handle)
}

// Handle walks the secure-port steps in order: anonymous-auth misconfig,
// session construction, pods/healthz probes, target selection, battery. A
// broken battery never takes back findings already published.
func (p *Secure) Handle(ctx context.Context, ev discovery.SecurePortEvent) {
	ctx = log.ContextAttrs(ctx,
		slog.String("host", ev.Host),
		slog.Int("port", ev.Port),
		slog.String("prober", "secure"),
	)
	if ev.CertSubject != "" {
		slog.DebugContext(ctx, "node certificate", "subject", ev.CertSubject)
	}

	// 1. anonymous access alone is a critical misconfiguration
	if ev.AnonymousAuthEnabled {
		f := model.New(model.KindAnonymousAuth, ev.Host, ev.Port)
		f.Evidence = "anonymous requests are served"
		publish(ctx, p.bus, f)
	}

	// 2. one session per run, reused by the battery and later by the proof
	// hunters via the findings
	token := ""
	if ev.Authenticated {
		token = ev.BearerToken
	}
	session := kubelet.NewSession("https", ev.Host, ev.Port, token, p.cfg.NetworkTimeout)

	// 3. same pods/healthz probes as the read-only port, now authenticated
	pods, podsOK := p.podsListing(ctx, session)
	if podsOK {
		f := model.New(model.KindExposedPods, ev.Host, ev.Port)
		f.Pods = pods.Items
		f.Evidence = podsEvidence(pods)
		f.Session = session
		publish(ctx, p.bus, f)
	}
	if health, ok := p.healthz(ctx, session); ok {
		f := model.New(model.KindExposedHealthz, ev.Host, ev.Port)
		f.Status = health
		f.Evidence = "status: " + health
		f.Session = session
		publish(ctx, p.bus, f)
	}

	// 4. the battery needs a concrete pod/container to aim at
	target, ok := SelectTarget(pods, p.cfg.Pod)
	if !ok {
		slog.DebugContext(ctx, "skipping debug handlers", "error", model.ErrNoTarget)
		return
	}

	// 5. the battery guards itself, per probe
	bt := battery{
		session: session,
		target:  target,
		host:    ev.Host,
		port:    ev.Port,
		publish: func(ctx context.Context, f *model.Finding) {
			f.Session = session
			publish(ctx, p.bus, f)
		},
	}
	bt.run(ctx)
}

func (p *Secure) podsListing(ctx context.Context, s *kubelet.Session) (model.PodList, bool) {
	resp, err := s.Get(ctx, kubelet.Pods.Resolve(kubelet.Vars{}), nil)
	if err != nil {
		slog.DebugContext(ctx, "pods listing failed", "error", err)
		return model.PodList{}, false
	}
	list, err := model.ParsePodList(resp.Body)
	if err != nil {
		slog.DebugContext(ctx, "pods listing unusable", "error", err)
		return model.PodList{}, false
	}
	return list, true
}

func (p *Secure) healthz(ctx context.Context, s *kubelet.Session) (string, bool) {
	resp, err := s.Get(ctx, "healthz", nil)
	if err != nil {
		slog.DebugContext(ctx, "healthz fetch failed", "error", err)
		return "", false
	}
	if resp.StatusCode != http.StatusOK {
		return "", false
	}
	return resp.Body, true
}
