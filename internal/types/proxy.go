package types

import (
	"net"
	"strconv"
)

// ProxyConfig describes the upstream HTTP proxy the browser is routed through.
// The JSON layout is the on-disk format of the stored proxy settings record.
type ProxyConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	User string `json:"user"`
	Pass string `json:"pass"`
}

// Equal reports whether all four fields match.
func (p ProxyConfig) Equal(other ProxyConfig) bool {
	return p.Host == other.Host &&
		p.Port == other.Port &&
		p.User == other.User &&
		p.Pass == other.Pass
}

// Addr returns host:port, bracketing IPv6 literals.
func (p ProxyConfig) Addr() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// HasCredentials returns true if a username or password is set.
func (p ProxyConfig) HasCredentials() bool {
	return p.User != "" || p.Pass != ""
}
