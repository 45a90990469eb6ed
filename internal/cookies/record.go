// Package cookies saves browser cookies to named jar files and restores them.
package cookies

import (
	"github.com/go-rod/rod/lib/proto"
)

// Jar is the part of a browser session that owns cookies.
// *rod.Browser satisfies it.
type Jar interface {
	GetCookies() ([]*proto.NetworkCookie, error)
	SetCookies(cookies []*proto.NetworkCookieParam) error
}

// Record is one cookie as stored in a jar file.
// Expiry is in seconds since the epoch and omitted for session cookies.
type Record struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	Domain   string `json:"domain"`
	Path     string `json:"path"`
	Expiry   int64  `json:"expiry,omitempty"`
	HTTPOnly bool   `json:"httpOnly"`
	Secure   bool   `json:"secure"`
	SameSite string `json:"sameSite,omitempty"`
}

// FromNetworkCookie converts a CDP cookie into a Record.
func FromNetworkCookie(c *proto.NetworkCookie) Record {
	r := Record{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   c.Domain,
		Path:     c.Path,
		HTTPOnly: c.HTTPOnly,
		Secure:   c.Secure,
		SameSite: string(c.SameSite),
	}
	if !c.Session && c.Expires > 0 {
		r.Expiry = int64(c.Expires)
	}
	return r
}

// Param converts the record into a CDP cookie parameter.
// A record without a domain is bound to fallbackURL instead.
func (r Record) Param(fallbackURL string) *proto.NetworkCookieParam {
	p := &proto.NetworkCookieParam{
		Name:     r.Name,
		Value:    r.Value,
		Domain:   r.Domain,
		Path:     r.Path,
		Secure:   r.Secure,
		HTTPOnly: r.HTTPOnly,
	}
	if r.Domain == "" {
		p.URL = fallbackURL
	}
	if r.Path == "" {
		p.Path = "/"
	}
	if r.Expiry > 0 {
		p.Expires = proto.TimeSinceEpoch(r.Expiry)
	}
	switch proto.NetworkCookieSameSite(r.SameSite) {
	case proto.NetworkCookieSameSiteStrict, proto.NetworkCookieSameSiteLax, proto.NetworkCookieSameSiteNone:
		p.SameSite = proto.NetworkCookieSameSite(r.SameSite)
	}
	return p
}
