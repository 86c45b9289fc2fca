// Package acl implements a CIDR allow-list for the relay ingress.
package acl

import (
	"fmt"
	"net/netip"
	"strings"
)

// List is a collection of CIDR prefixes allowed to connect.
// An empty List allows all source addresses.
type List struct {
	prefixes []netip.Prefix
}

// New creates an ACL from a comma-separated string of CIDR blocks.
func New(cidrs string) (*List, error) {
	if strings.TrimSpace(cidrs) == "" {
		return &List{}, nil
	}

	var prefixes []netip.Prefix
	for _, part := range strings.Split(cidrs, ",") {
		p, err := netip.ParsePrefix(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("invalid CIDR %q: %w", strings.TrimSpace(part), err)
		}
		prefixes = append(prefixes, p)
	}

	return &List{prefixes: prefixes}, nil
}

// Allows reports whether the given address may connect.
// If no prefixes are configured, all addresses are allowed.
func (l *List) Allows(addr netip.Addr) bool {
	if len(l.prefixes) == 0 {
		return true
	}

	// 4-in-6 addresses arrive from dual-stack listeners; compare in
	// their IPv4 form so IPv4 prefixes match.
	addr = addr.Unmap()
	for _, p := range l.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
