package model

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// Component tells which part of the cluster is affected by a finding.
type Component int

const (
	ComponentKubelet Component = iota
	ComponentCluster
)

func (c Component) String() string {
	switch c {
	case ComponentKubelet:
		return "kubelet"
	case ComponentCluster:
		return "cluster"
	default:
		return fmt.Sprintf("component(%d)", int(c))
	}
}

// Category is the risk class of a finding.
type Category int

const (
	CategoryInformationDisclosure Category = iota
	CategoryRemoteCodeExec
	CategoryAccessRisk
)

func (c Category) String() string {
	switch c {
	case CategoryInformationDisclosure:
		return "information disclosure"
	case CategoryRemoteCodeExec:
		return "remote code execution"
	case CategoryAccessRisk:
		return "access risk"
	default:
		return fmt.Sprintf("category(%d)", int(c))
	}
}

// Kind enumerates every finding this tool can produce. Findings are a tagged
// union: one struct, the Kind selects which payload fields are meaningful.
type Kind int

const (
	KindVersionDisclosure Kind = iota
	KindAnonymousAuth
	KindExposedPods
	KindExposedHealthz
	KindPrivilegedContainers
	KindExposedContainerLogs
	KindExposedRunningPods
	KindExposedExec
	KindExposedRun
	KindExposedPortForward
	KindExposedAttach
	KindExposedSystemLogs
	KindExposedCmdline
)

// meta is the fixed name/component/category/identifier table keyed by Kind.
// The KHV identifiers are stable report codes and must stay verbatim.
type meta struct {
	name      string
	component Component
	category  Category
	id        string
}

var kinds = map[Kind]meta{
	KindVersionDisclosure:    {"K8s Version Disclosure", ComponentKubelet, CategoryInformationDisclosure, "KHV002"},
	KindAnonymousAuth:        {"Anonymous Authentication", ComponentKubelet, CategoryRemoteCodeExec, "KHV036"},
	KindExposedContainerLogs: {"Exposed Container Logs", ComponentKubelet, CategoryInformationDisclosure, "KHV037"},
	KindExposedRunningPods:   {"Exposed Running Pods", ComponentKubelet, CategoryInformationDisclosure, "KHV038"},
	KindExposedExec:          {"Exposed Exec On Container", ComponentKubelet, CategoryRemoteCodeExec, "KHV039"},
	KindExposedRun:           {"Exposed Run Inside Container", ComponentKubelet, CategoryRemoteCodeExec, "KHV040"},
	KindExposedPortForward:   {"Exposed Port Forward", ComponentKubelet, CategoryRemoteCodeExec, "KHV041"},
	KindExposedAttach:        {"Exposed Attaching To Container", ComponentKubelet, CategoryRemoteCodeExec, "KHV042"},
	KindExposedHealthz:       {"Cluster Health Disclosure", ComponentKubelet, CategoryInformationDisclosure, "KHV043"},
	KindPrivilegedContainers: {"Privileged Container", ComponentCluster, CategoryAccessRisk, "KHV044"},
	KindExposedSystemLogs:    {"Exposed System Logs", ComponentKubelet, CategoryInformationDisclosure, "KHV045"},
	KindExposedCmdline:       {"Exposed Kubelet Cmdline", ComponentKubelet, CategoryInformationDisclosure, "KHV046"},
	KindExposedPods:          {"Exposed Pods", ComponentKubelet, CategoryInformationDisclosure, ""},
}

func (k Kind) String() string {
	if m, ok := kinds[k]; ok {
		return m.name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Topic is the bus topic findings of this kind are published under.
func (k Kind) Topic() string {
	return "finding/" + strings.ReplaceAll(strings.ToLower(k.String()), " ", "-")
}

// Kinds returns every known finding kind, e.g. for subscribing a collector
// to all finding topics.
func Kinds() []Kind {
	ret := make([]Kind, 0, len(kinds))
	for k := range kinds {
		ret = append(ret, k)
	}
	return ret
}

// PodContainer is one (pod, container) pair, e.g. a privileged container hit.
type PodContainer struct {
	Pod       string `json:"pod"`
	Container string `json:"container"`
}

// Response is the reduced view of an HTTP exchange the probers work with.
type Response struct {
	StatusCode int
	Body       string
}

// Session is the capability a finding carries so that a proof hunter can
// reuse the exact authenticated channel the finding was discovered over.
// Declared as an interface so model stays a leaf package.
type Session interface {
	Get(ctx context.Context, path string, h http.Header) (Response, error)
	Post(ctx context.Context, path string, h http.Header) (Response, error)
	BaseURL() string
}

// Finding is a single security observation about one probed node. Identity
// fields are set once by New; Evidence (and Proctitles for system logs) may
// be overwritten later by a proof-of-exploit hunter holding the same
// instance.
type Finding struct {
	Kind      Kind      `json:"-"`
	Name      string    `json:"name"`
	Component Component `json:"component"`
	Category  Category  `json:"category"`
	ID        string    `json:"id,omitempty"`
	Host      string    `json:"host"`
	Port      int       `json:"port"`
	Evidence  string    `json:"evidence,omitempty"`

	// payload fields, meaningful per Kind only
	Pods       []Pod          `json:"pods,omitempty"`       // KindExposedPods
	Count      int            `json:"count,omitempty"`      // KindExposedRunningPods
	Status     string         `json:"status,omitempty"`     // KindExposedHealthz
	Containers []PodContainer `json:"containers,omitempty"` // KindPrivilegedContainers
	Cmdline    string         `json:"cmdline,omitempty"`    // KindExposedCmdline
	Proctitles []string       `json:"proctitles,omitempty"` // KindExposedSystemLogs, set by proof

	Session Session `json:"-"`
}

// New creates a finding of the given kind with its identity fields filled
// from the kinds table.
func New(kind Kind, host string, port int) *Finding {
	m, ok := kinds[kind]
	if !ok {
		panic(fmt.Sprintf("model: unknown finding kind %d", int(kind)))
	}
	return &Finding{
		Kind:      kind,
		Name:      m.name,
		Component: m.component,
		Category:  m.category,
		ID:        m.id,
		Host:      host,
		Port:      port,
	}
}

// Complete reports whether the finding carries at least one of evidence or a
// kind-specific payload. Incomplete findings must not be published.
func (f *Finding) Complete() bool {
	if f.Evidence != "" {
		return true
	}
	switch f.Kind {
	case KindExposedPods:
		return len(f.Pods) > 0
	case KindExposedRunningPods:
		return f.Count > 0
	case KindExposedHealthz:
		return f.Status != ""
	case KindPrivilegedContainers:
		return len(f.Containers) > 0
	case KindExposedCmdline:
		return f.Cmdline != ""
	case KindAnonymousAuth, KindExposedContainerLogs, KindExposedExec,
		KindExposedRun, KindExposedPortForward, KindExposedAttach,
		KindExposedSystemLogs:
		// presence of the capability is the whole observation
		return true
	}
	return false
}

func (f *Finding) String() string {
	var sb strings.Builder
	sb.WriteString(f.Name)
	if f.ID != "" {
		fmt.Fprintf(&sb, " (%s)", f.ID)
	}
	fmt.Fprintf(&sb, " on %s:%d", f.Host, f.Port)
	if f.Evidence != "" {
		fmt.Fprintf(&sb, ", evidence: %s", f.Evidence)
	}
	return sb.String()
}
