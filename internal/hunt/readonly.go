// Package hunt contains the probing engine: the read-only and secure port
// probers, the debug-handler battery and the proof-of-exploit hunters. Each
// prober handles one discovery event, publishes typed findings on the bus
// and keeps no state across runs.
package hunt

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/nodehound/nodehound/internal/bus"
	"github.com/nodehound/nodehound/internal/config"
	"github.com/nodehound/nodehound/internal/discovery"
	"github.com/nodehound/nodehound/internal/kubelet"
	"github.com/nodehound/nodehound/internal/log"
	"github.com/nodehound/nodehound/internal/model"
)

// buildInfoMetric is the Prometheus metric the kubelet exposes its version
// labels on.
const buildInfoMetric = "kubernetes_build_info"

// publish forwards a finding after enforcing the "never publish an empty
// finding" invariant.
func publish(ctx context.Context, b *bus.Bus, f *model.Finding) {
	if !f.Complete() {
		slog.ErrorContext(ctx, "dropping incomplete finding", "name", f.Name)
		return
	}
	slog.InfoContext(ctx, "finding", "name", f.Name, "id", f.ID, "category", f.Category.String())
	b.Publish(ctx, f.Kind.Topic(), f)
}

// ReadOnly probes the unauthenticated kubelet management port.
type ReadOnly struct {
	cfg config.Config
	bus *bus.Bus
}

func NewReadOnly(cfg config.Config, b *bus.Bus) *ReadOnly {
	return &ReadOnly{cfg: cfg, bus: b}
}

// Register subscribes the prober to read-only port discoveries.
func (p *ReadOnly) Register(b *bus.Bus) {
	bus.Subscribe(b, discovery.TopicReadOnlyPort, p.Handle)
}

// Handle runs all four read-only probes. They are independent, a failed
// fetch yields no finding for that probe and nothing else.
func (p *ReadOnly) Handle(ctx context.Context, ev discovery.ReadOnlyPortEvent) {
	ctx = log.ContextAttrs(ctx,
		slog.String("host", ev.Host),
		slog.Int("port", ev.Port),
		slog.String("prober", "readonly"),
	)
	session := kubelet.NewSession("http", ev.Host, ev.Port, "", p.cfg.NetworkTimeout)

	pods, podsOK := p.podsListing(ctx, session)
	version := p.buildVersion(ctx, session)
	privileged := privilegedContainers(pods)
	health, healthOK := p.healthz(ctx, session)

	if version != "" {
		f := model.New(model.KindVersionDisclosure, ev.Host, ev.Port)
		f.Evidence = "version " + version + " from /metrics"
		publish(ctx, p.bus, f)
	}
	if len(privileged) > 0 {
		f := model.New(model.KindPrivilegedContainers, ev.Host, ev.Port)
		f.Containers = privileged
		f.Evidence = privilegedEvidence(privileged)
		publish(ctx, p.bus, f)
	}
	if healthOK {
		f := model.New(model.KindExposedHealthz, ev.Host, ev.Port)
		f.Status = health
		f.Evidence = "status: " + health
		publish(ctx, p.bus, f)
	}
	if podsOK {
		f := model.New(model.KindExposedPods, ev.Host, ev.Port)
		f.Pods = pods.Items
		f.Evidence = podsEvidence(pods)
		publish(ctx, p.bus, f)
	}
}

func (p *ReadOnly) podsListing(ctx context.Context, s *kubelet.Session) (model.PodList, bool) {
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

// buildVersion scans the metrics document for the build info line and pulls
// the gitVersion label out of it. Absence is not an error, the endpoint may
// simply not serve that metric.
func (p *ReadOnly) buildVersion(ctx context.Context, s *kubelet.Session) string {
	resp, err := s.Get(ctx, "metrics", nil)
	if err != nil {
		slog.DebugContext(ctx, "metrics fetch failed", "error", err)
		return ""
	}
	return parseBuildVersion(resp.Body)
}

func parseBuildVersion(metrics string) string {
	for _, line := range strings.Split(metrics, "\n") {
		if !strings.HasPrefix(line, buildInfoMetric) {
			continue
		}
		start := strings.IndexByte(line, '{')
		end := strings.IndexByte(line, '}')
		if start < 0 || end < start {
			continue
		}
		for _, label := range strings.Split(line[start+1:end], ",") {
			k, v, ok := strings.Cut(label, "=")
			if !ok {
				continue
			}
			if k == "gitVersion" {
				return strings.Trim(v, `"`)
			}
		}
	}
	return ""
}

// privilegedContainers flags every container declaring a privileged security
// context, in pod-then-container order.
func privilegedContainers(list model.PodList) []model.PodContainer {
	var hits []model.PodContainer
	for _, pod := range list.Items {
		for _, c := range pod.Spec.Containers {
			if c.Privileged() {
				hits = append(hits, model.PodContainer{
					Pod:       pod.Metadata.Name,
					Container: c.Name,
				})
			}
		}
	}
	return hits
}

func (p *ReadOnly) healthz(ctx context.Context, s *kubelet.Session) (string, bool) {
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

func privilegedEvidence(hits []model.PodContainer) string {
	return fmt.Sprintf("pod: %s, container: %s, count: %d",
		hits[0].Pod, hits[0].Container, len(hits))
}

func podsEvidence(list model.PodList) string {
	return fmt.Sprintf("count: %d", len(list.Items))
}
