package report_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/nodehound/nodehound/internal/bus"
	"github.com/nodehound/nodehound/internal/model"
	"github.com/nodehound/nodehound/internal/report"

	cdx "github.com/CycloneDX/cyclonedx-go"
	"github.com/stretchr/testify/require"
)

func sampleFindings() []*model.Finding {
	anon := model.New(model.KindAnonymousAuth, "10.0.0.2", 10250)
	anon.Evidence = "anonymous requests are served"

	cmdline := model.New(model.KindExposedCmdline, "10.0.0.2", 10250)
	cmdline.Cmdline = "/usr/bin/kubelet"
	cmdline.Evidence = "cmdline: /usr/bin/kubelet"

	health := model.New(model.KindExposedHealthz, "10.0.0.1", 10255)
	health.Status = "ok"
	health.Evidence = "status: ok"

	return []*model.Finding{anon, cmdline, health}
}

func TestCollectorBOM(t *testing.T) {
	t.Parallel()
	c := report.NewCollector()
	for _, f := range sampleFindings() {
		c.Append(f)
	}

	bom := c.BOM()
	require.Equal(t, cdx.SpecVersion1_6, bom.SpecVersion)
	require.Contains(t, bom.SerialNumber, "urn:uuid:")

	require.Len(t, *bom.Components, 2)
	require.Equal(t, "node:10.0.0.1:10255", (*bom.Components)[0].BOMRef)
	require.Equal(t, "node:10.0.0.2:10250", (*bom.Components)[1].BOMRef)

	vulns := *bom.Vulnerabilities
	require.Len(t, vulns, 3)

	// findings come out sorted by node, then name
	require.Equal(t, "KHV043", vulns[0].ID)
	require.Equal(t, "KHV036", vulns[1].ID)
	require.Equal(t, "KHV046", vulns[2].ID)
	require.Equal(t, "node:10.0.0.2:10250", (*vulns[1].Affects)[0].Ref)
	require.Equal(t, cdx.SeverityCritical, (*vulns[1].Ratings)[0].Severity)
	require.Equal(t, cdx.SeverityMedium, (*vulns[0].Ratings)[0].Severity)
}

func TestCollectorRegister(t *testing.T) {
	t.Parallel()
	b := bus.New()
	c := report.NewCollector()
	c.Register(b)

	f := model.New(model.KindAnonymousAuth, "10.0.0.2", 10250)
	f.Evidence = "anonymous requests are served"
	b.Publish(t.Context(), f.Kind.Topic(), f)
	b.Wait()

	require.Len(t, c.Findings(), 1)
}

func TestCollectorAsJSON(t *testing.T) {
	t.Parallel()
	c := report.NewCollector()
	for _, f := range sampleFindings() {
		c.Append(f)
	}

	var buf bytes.Buffer
	require.NoError(t, c.AsJSON(&buf))

	var doc map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	require.Equal(t, "CycloneDX", doc["bomFormat"])
	require.Contains(t, buf.String(), "KHV036")
	require.Contains(t, buf.String(), "nodehound:finding:cmdline")
}

func TestEmptyReport(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	require.NoError(t, report.NewCollector().AsJSON(&buf))
	require.Contains(t, buf.String(), `"vulnerabilities": []`)
}
