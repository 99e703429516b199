package discovery

// exported for black-box tests in discovery_test
var DialPort = dialPort
