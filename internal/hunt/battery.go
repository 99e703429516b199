package hunt

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/nodehound/nodehound/internal/kubelet"
	"github.com/nodehound/nodehound/internal/log"
	"github.com/nodehound/nodehound/internal/model"

	"golang.org/x/sync/errgroup"
)

// Response-shape markers. Several kubelet handlers sit behind proxies that
// answer 200 for anything, so a status code alone does not prove a handler
// works. The CRI redirect markers and the <pre> directory listing do.
const (
	execMarker    = "/cri/exec/"
	attachMarker  = "/cri/attach/"
	sysLogsMarker = "<pre>"

	streamProtocolHeader = "X-Stream-Protocol-Version"
	streamProtocolV2     = "v2.channel.k8s.io"
)

// battery drives one probe per debug capability against a single target.
// Probes are independent, run concurrently and each publishes at most one
// finding. A panic or transport failure in one probe never stops another.
type battery struct {
	session *kubelet.Session
	target  Target
	host    string
	port    int
	publish func(ctx context.Context, f *model.Finding)
}

func (bt *battery) run(ctx context.Context) {
	probes := []struct {
		name string
		fn   func(context.Context)
	}{
		{"running pods", bt.runningPods},
		{"cmdline", bt.cmdline},
		{"container logs", bt.containerLogs},
		{"exec", bt.exec},
		{"run", bt.runHandler},
		{"port forward", bt.portForward},
		{"attach", bt.attach},
		{"system logs", bt.systemLogs},
	}

	var g errgroup.Group
	for _, probe := range probes {
		probeCtx := log.ContextAttrs(ctx, slog.String("probe", probe.name))
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					slog.ErrorContext(probeCtx, "probe panicked",
						"panic", r,
						"stack", string(debug.Stack()),
					)
				}
			}()
			probe.fn(probeCtx)
			return nil
		})
	}
	_ = g.Wait()
}

func (bt *battery) vars() kubelet.Vars {
	return kubelet.Vars{
		Namespace: bt.target.Namespace,
		Pod:       bt.target.Pod,
		Container: bt.target.Container,
	}
}

// containerLogs: plain 200 on the logs endpoint of the target container.
func (bt *battery) containerLogs(ctx context.Context) {
	resp, err := bt.session.Get(ctx, kubelet.ContainerLogs.Resolve(bt.vars()), nil)
	if err != nil {
		slog.DebugContext(ctx, "probe failed", "error", err)
		return
	}
	if resp.StatusCode == http.StatusOK {
		bt.publish(ctx, model.New(model.KindExposedContainerLogs, bt.host, bt.port))
	}
}

// exec: the response to an upgrade request leaks an internal CRI redirect
// when the handler exists and authorized the request.
func (bt *battery) exec(ctx context.Context) {
	h := http.Header{}
	h.Set(streamProtocolHeader, streamProtocolV2)
	resp, err := bt.session.Get(ctx, kubelet.Exec.Resolve(bt.vars()), h)
	if err != nil {
		slog.DebugContext(ctx, "probe failed", "error", err)
		return
	}
	if strings.Contains(resp.Body, execMarker) {
		bt.publish(ctx, model.New(model.KindExposedExec, bt.host, bt.port))
	}
}

// portForward: reachability only. No conclusive positive or negative signal
// is defined for the upgrade response, so no finding is derived.
func (bt *battery) portForward(ctx context.Context) {
	h := http.Header{}
	h.Set("Upgrade", "websocket")
	h.Set("Connection", "Upgrade")
	h.Set("Sec-Websocket-Key", "s")
	h.Set("Sec-Websocket-Version", "13")
	h.Set("Sec-Websocket-Protocol", "SPDY")

	vars := bt.vars()
	vars.Port = "80"
	resp, err := bt.session.Get(ctx, kubelet.PortForward.Resolve(vars), h)
	if err != nil {
		slog.DebugContext(ctx, "probe failed", "error", err)
		return
	}
	slog.DebugContext(ctx, "port forward reachable", "status", resp.StatusCode)
}

// runHandler: GET against the POST-only run endpoint. 405 Method Not Allowed
// proves the handler exists and the request passed authentication and
// authorization, anything else disproves it.
func (bt *battery) runHandler(ctx context.Context) {
	vars := kubelet.Vars{Namespace: "test", Pod: "test", Container: "test"}
	resp, err := bt.session.Get(ctx, kubelet.Run.Resolve(vars), nil)
	if err != nil {
		slog.DebugContext(ctx, "probe failed", "error", err)
		return
	}
	if resp.StatusCode == http.StatusMethodNotAllowed {
		bt.publish(ctx, model.New(model.KindExposedRun, bt.host, bt.port))
	}
}

// runningPods: 200 plus a parsable pods collection; the finding carries the
// running pod count.
func (bt *battery) runningPods(ctx context.Context) {
	resp, err := bt.session.Get(ctx, kubelet.RunningPods.Resolve(kubelet.Vars{}), nil)
	if err != nil {
		slog.DebugContext(ctx, "probe failed", "error", err)
		return
	}
	if resp.StatusCode != http.StatusOK {
		return
	}
	list, err := model.ParsePodList(resp.Body)
	if err != nil {
		slog.DebugContext(ctx, "running pods unusable", "error", err)
		return
	}
	f := model.New(model.KindExposedRunningPods, bt.host, bt.port)
	f.Count = len(list.Items)
	f.Evidence = fmt.Sprintf("%d running pods", f.Count)
	bt.publish(ctx, f)
}

// attach: same CRI redirect heuristic as exec, different handler.
func (bt *battery) attach(ctx context.Context) {
	resp, err := bt.session.Get(ctx, kubelet.Attach.Resolve(bt.vars()), nil)
	if err != nil {
		slog.DebugContext(ctx, "probe failed", "error", err)
		return
	}
	if strings.Contains(resp.Body, attachMarker) {
		bt.publish(ctx, model.New(model.KindExposedAttach, bt.host, bt.port))
	}
}

// systemLogs: the node filesystem logs handler renders a directory listing
// inside a <pre> block.
func (bt *battery) systemLogs(ctx context.Context) {
	resp, err := bt.session.Get(ctx, kubelet.Logs.Resolve(kubelet.Vars{}), nil)
	if err != nil {
		slog.DebugContext(ctx, "probe failed", "error", err)
		return
	}
	if strings.Contains(resp.Body, sysLogsMarker) {
		bt.publish(ctx, model.New(model.KindExposedSystemLogs, bt.host, bt.port))
	}
}

// cmdline: the pprof cmdline endpoint returns the kubelet's own command line.
func (bt *battery) cmdline(ctx context.Context) {
	resp, err := bt.session.Get(ctx, kubelet.PprofCmdline.Resolve(kubelet.Vars{}), nil)
	if err != nil {
		slog.DebugContext(ctx, "probe failed", "error", err)
		return
	}
	if resp.StatusCode != http.StatusOK || resp.Body == "" {
		return
	}
	f := model.New(model.KindExposedCmdline, bt.host, bt.port)
	f.Cmdline = resp.Body
	f.Evidence = "cmdline: " + resp.Body
	bt.publish(ctx, f)
}
