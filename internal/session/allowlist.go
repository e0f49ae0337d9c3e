package session

import (
	"fmt"
	"net/netip"
	"strings"
)

// AllowList holds the client networks permitted to sign in. Entries are
// single addresses or CIDR prefixes.
type AllowList struct {
	prefixes []netip.Prefix
}

// ParseAllowList parses entries such as "10.0.0.0/8" or "201.175.10.4".
func ParseAllowList(entries []string) (*AllowList, error) {
	l := &AllowList{}
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if strings.Contains(e, "/") {
			p, err := netip.ParsePrefix(e)
			if err != nil {
				return nil, fmt.Errorf("invalid allowed IP range %q: %w", e, err)
			}
			l.prefixes = append(l.prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(e)
		if err != nil {
			return nil, fmt.Errorf("invalid allowed IP %q: %w", e, err)
		}
		addr = addr.Unmap()
		l.prefixes = append(l.prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return l, nil
}

// Empty reports whether the list places no restriction.
func (l *AllowList) Empty() bool {
	return l == nil || len(l.prefixes) == 0
}

// Allows reports whether ip falls in any entry. An empty list allows every
// address; an unparsable ip is never allowed by a non-empty list.
func (l *AllowList) Allows(ip string) bool {
	if l.Empty() {
		return true
	}
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range l.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
