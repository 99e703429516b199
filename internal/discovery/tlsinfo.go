package discovery

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/nodehound/nodehound/internal/model"

	"github.com/zmap/zgrab2"
)

// PeekCertificate performs a TLS handshake against host:port and returns the
// leaf certificate's subject plus SANs. Kubelet certificates are self-signed
// and routinely leak node or cluster names, worth recording alongside the
// secure-port event. zgrab2's lenient handshake is used so that odd or
// ancient TLS stacks still answer.
func PeekCertificate(ctx context.Context, host string, port int) (string, error) {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("%s:%d", host, port), 5*time.Second)
	if err != nil {
		return "", fmt.Errorf("dial: %w", err)
	}
	defer func() {
		_ = conn.Close()
	}()

	var tlsFlags zgrab2.TLSFlags
	wrapper := zgrab2.GetDefaultTLSWrapper(&tlsFlags)
	target := &zgrab2.ScanTarget{
		IP:   net.ParseIP(host),
		Port: uint(port),
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	tlsConn, err := wrapper(connCtx, target, conn)
	if err != nil {
		return "", fmt.Errorf("tls wrap: %w", err)
	}
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return "", fmt.Errorf("tls handshake: %w", err)
	}

	state := tlsConn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return "", model.ErrNoMatch
	}

	leaf := state.PeerCertificates[0]
	parts := []string{leaf.Subject.String()}
	if len(leaf.DNSNames) > 0 {
		parts = append(parts, "dns:"+strings.Join(leaf.DNSNames, ","))
	}
	for _, ip := range leaf.IPAddresses {
		parts = append(parts, "ip:"+ip.String())
	}
	return strings.Join(parts, " "), nil
}
