// Package report renders a finished run as a CycloneDX 1.6 document: one
// component per probed node, one vulnerability entry per finding.
package report

import (
	"context"
	"fmt"
	"io"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/nodehound/nodehound/internal/bus"
	"github.com/nodehound/nodehound/internal/model"

	cdx "github.com/CycloneDX/cyclonedx-go"
	"github.com/google/uuid"
)

var version string

func init() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		version = "unknown"
	} else {
		version = info.Main.Version
	}
}

// Property names carried on vulnerability entries.
const (
	PropCategory   = "nodehound:finding:category"
	PropCmdline    = "nodehound:finding:cmdline"
	PropPodCount   = "nodehound:finding:pod-count"
	PropProctitle  = "nodehound:finding:proctitle"
	PropHealth     = "nodehound:finding:health-status"
	PropPrivileged = "nodehound:finding:privileged-container"
)

// Collector accumulates findings as the bus delivers them. Safe for
// concurrent appends; Report must be called only after the bus drained.
type Collector struct {
	mu       sync.Mutex
	findings []*model.Finding
}

func NewCollector() *Collector {
	return &Collector{}
}

// Register subscribes the collector to every finding topic.
func (c *Collector) Register(b *bus.Bus) {
	for _, kind := range model.Kinds() {
		bus.Subscribe(b, kind.Topic(), func(_ context.Context, f *model.Finding) {
			c.Append(f)
		})
	}
}

func (c *Collector) Append(f *model.Finding) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.findings = append(c.findings, f)
}

// Findings returns the collected findings in a stable node/name order.
func (c *Collector) Findings() []*model.Finding {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*model.Finding, len(c.findings))
	copy(out, c.findings)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Host != out[j].Host {
			return out[i].Host < out[j].Host
		}
		if out[i].Port != out[j].Port {
			return out[i].Port < out[j].Port
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// BOM renders the collected findings as a CycloneDX BOM.
func (c *Collector) BOM() cdx.BOM {
	findings := c.Findings()

	// schema does not allow null collections
	components := []cdx.Component{}
	vulnerabilities := []cdx.Vulnerability{}

	seen := map[string]bool{}
	for _, f := range findings {
		ref := nodeRef(f.Host, f.Port)
		if !seen[ref] {
			seen[ref] = true
			components = append(components, cdx.Component{
				BOMRef:  ref,
				Type:    cdx.ComponentTypeDevice,
				Name:    fmt.Sprintf("%s:%d", f.Host, f.Port),
				Version: "",
			})
		}
		vulnerabilities = append(vulnerabilities, vulnerability(f, ref))
	}

	return cdx.BOM{
		JSONSchema:   "https://cyclonedx.org/schema/bom-1.6.schema.json",
		BOMFormat:    "CycloneDX",
		SpecVersion:  cdx.SpecVersion1_6,
		SerialNumber: "urn:uuid:" + uuid.New().String(),
		Version:      1,
		Metadata: &cdx.Metadata{
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Lifecycles: &[]cdx.Lifecycle{
				{Phase: "operations"},
			},
			Component: &cdx.Component{
				Type:    "application",
				Name:    "nodehound",
				Version: version,
			},
		},
		Components:      &components,
		Vulnerabilities: &vulnerabilities,
	}
}

// AsJSON encodes the report into pretty JSON.
func (c *Collector) AsJSON(w io.Writer) error {
	bom := c.BOM()
	return cdx.NewBOMEncoder(w, cdx.BOMFileFormatJSON).SetPretty(true).Encode(&bom)
}

func nodeRef(host string, port int) string {
	return fmt.Sprintf("node:%s:%d", host, port)
}

func vulnerability(f *model.Finding, ref string) cdx.Vulnerability {
	props := []cdx.Property{
		{Name: PropCategory, Value: f.Category.String()},
	}
	switch f.Kind {
	case model.KindExposedCmdline:
		props = append(props, cdx.Property{Name: PropCmdline, Value: f.Cmdline})
	case model.KindExposedRunningPods:
		props = append(props, cdx.Property{Name: PropPodCount, Value: fmt.Sprintf("%d", f.Count)})
	case model.KindExposedPods:
		props = append(props, cdx.Property{Name: PropPodCount, Value: fmt.Sprintf("%d", len(f.Pods))})
	case model.KindExposedHealthz:
		props = append(props, cdx.Property{Name: PropHealth, Value: f.Status})
	case model.KindPrivilegedContainers:
		for _, pc := range f.Containers {
			props = append(props, cdx.Property{
				Name:  PropPrivileged,
				Value: pc.Pod + "/" + pc.Container,
			})
		}
	case model.KindExposedSystemLogs:
		for _, title := range f.Proctitles {
			props = append(props, cdx.Property{Name: PropProctitle, Value: title})
		}
	}

	id := f.ID
	if id == "" {
		id = f.Name
	}
	return cdx.Vulnerability{
		BOMRef:      fmt.Sprintf("%s/%s", ref, id),
		ID:          id,
		Description: f.Name,
		Detail:      f.Evidence,
		Ratings: &[]cdx.VulnerabilityRating{
			{Severity: severity(f.Category)},
		},
		Affects: &[]cdx.Affects{
			{Ref: ref},
		},
		Properties: &props,
	}
}

func severity(c model.Category) cdx.Severity {
	switch c {
	case model.CategoryRemoteCodeExec:
		return cdx.SeverityCritical
	case model.CategoryAccessRisk:
		return cdx.SeverityHigh
	default:
		return cdx.SeverityMedium
	}
}
