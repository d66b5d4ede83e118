package executor

import (
	"net/url"
	"strings"

	"github.com/kru5ty7/browser-agent-project/pkg/tasks"
)

// DomainPolicy is the admission allow-list. An empty policy admits every
// domain. A host is allowed when it equals an entry or is a subdomain of
// one, so "example.com" admits "www.example.com" but not "badexample.com".
type DomainPolicy struct {
	allowed []string
}

// NewDomainPolicy normalizes domains (lower case, surrounding dots and a
// leading "*." removed). Blank entries are ignored.
func NewDomainPolicy(domains []string) DomainPolicy {
	var p DomainPolicy
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(d))
		d = strings.TrimPrefix(d, "*.")
		d = strings.Trim(d, ".")
		if d != "" {
			p.allowed = append(p.allowed, d)
		}
	}
	return p
}

// Enabled reports whether an allow-list is configured.
func (p DomainPolicy) Enabled() bool { return len(p.allowed) > 0 }

// Domains returns the normalized allow-list.
func (p DomainPolicy) Domains() []string {
	return append([]string(nil), p.allowed...)
}

// Allows reports whether host passes the allow-list.
func (p DomainPolicy) Allows(host string) bool {
	if !p.Enabled() {
		return true
	}
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	for _, d := range p.allowed {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// Check returns a *tasks.DomainNotAllowedError for the first URL whose
// host is not allowed.
func (p DomainPolicy) Check(urls []string) error {
	if !p.Enabled() {
		return nil
	}
	for _, raw := range urls {
		host := hostOf(raw)
		if !p.Allows(host) {
			if host == "" {
				host = raw
			}
			return &tasks.DomainNotAllowedError{Domain: host, URL: raw}
		}
	}
	return nil
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
