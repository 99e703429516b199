package discovery

// Default kubelet ports.
const (
	ReadOnlyPort = 10255
	SecurePort   = 10250
)

// Topics the probers subscribe to.
const (
	TopicReadOnlyPort = "discovery/kubelet/readonly"
	TopicSecurePort   = "discovery/kubelet/secure"
)

// ReadOnlyPortEvent announces a reachable unauthenticated management port.
type ReadOnlyPortEvent struct {
	Host string
	Port int
}

// SecurePortEvent announces a reachable authenticated management port.
// AnonymousAuthEnabled is determined here, during discovery: when an
// unauthenticated pods request is not rejected, the kubelet runs with
// anonymous auth on.
type SecurePortEvent struct {
	Host                 string
	Port                 int
	Authenticated        bool
	AnonymousAuthEnabled bool
	BearerToken          string
	// CertSubject is filled by the TLS peek when available, empty otherwise.
	CertSubject string
}
