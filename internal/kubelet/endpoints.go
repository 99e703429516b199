package kubelet

import (
	"strings"
)

// Handler is one logical debug/management operation of the kubelet API.
type Handler int

const (
	Pods Handler = iota
	ContainerLogs
	RunningPods
	Exec
	Run
	PortForward
	Attach
	Logs
	PprofCmdline
)

// templates maps handlers to their URL path templates. The grammar is fixed
// by the kubelet API and must be reproduced exactly, including the query
// parameter names: exec/attach take command/input/output/tty, the legacy run
// path takes cmd.
var templates = map[Handler]string{
	// GET
	Pods: "pods",
	// GET
	ContainerLogs: "containerLogs/{namespace}/{pod}/{container}",
	// GET
	RunningPods: "runningpods",
	// GET -> WebSocket
	Exec: "exec/{namespace}/{pod}/{container}?command={command}&input=1&output=1&tty=1",
	// POST, for legacy reasons it uses a different query param than exec
	Run: "run/{namespace}/{pod}/{container}?cmd={command}",
	// GET/POST
	PortForward: "portForward/{namespace}/{pod}?port={port}",
	// GET -> WebSocket
	Attach: "attach/{namespace}/{pod}/{container}?command={command}&input=1&output=1&tty=1",
	// GET
	Logs: "logs/{path}",
	// GET
	PprofCmdline: "debug/pprof/cmdline",
}

// Vars holds the named placeholder values of an endpoint template. Zero
// values resolve to empty placeholders, which is what several probes rely on
// (an empty command still exercises the handler's auth path).
type Vars struct {
	Namespace string
	Pod       string
	Container string
	Command   string
	Port      string
	Path      string
}

// Resolve renders the handler's path template with the given values.
func (h Handler) Resolve(vars Vars) string {
	r := strings.NewReplacer(
		"{namespace}", vars.Namespace,
		"{pod}", vars.Pod,
		"{container}", vars.Container,
		"{command}", vars.Command,
		"{port}", vars.Port,
		"{path}", vars.Path,
	)
	return r.Replace(templates[h])
}

func (h Handler) String() string {
	path := templates[h]
	if i := strings.IndexByte(path, '/'); i > 0 {
		return path[:i]
	}
	return path
}
