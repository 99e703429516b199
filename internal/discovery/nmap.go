package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Ullaakut/nmap/v3"
)

// nmapPorts scans the two kubelet ports of host with nmap. Slower than a
// direct dial but survives environments where half-open probes get filtered.
func nmapPorts(ctx context.Context, host, binary string, timeout time.Duration) (readonly, secure bool, err error) {
	options := []nmap.Option{
		nmap.WithTargets(host),
		nmap.WithPorts(fmt.Sprintf("%d,%d", SecurePort, ReadOnlyPort)),
	}
	if binary != "" {
		options = append(options, nmap.WithBinaryPath(binary))
	}

	scanCtx, cancel := context.WithTimeout(ctx, 10*timeout)
	defer cancel()

	scanner, err := nmap.NewScanner(scanCtx, options...)
	if err != nil {
		return false, false, fmt.Errorf("creating nmap scanner: %w", err)
	}

	result, warningsp, err := scanner.Run()
	if err != nil {
		return false, false, fmt.Errorf("nmap scan: %w", err)
	}
	if warningsp != nil {
		for _, warn := range *warningsp {
			slog.WarnContext(ctx, "nmap", "warning", warn)
		}
	}

	for _, h := range result.Hosts {
		for _, port := range h.Ports {
			if !strings.EqualFold(port.State.State, "open") {
				continue
			}
			switch int(port.ID) {
			case ReadOnlyPort:
				readonly = true
			case SecurePort:
				secure = true
			}
		}
	}
	return readonly, secure, nil
}
