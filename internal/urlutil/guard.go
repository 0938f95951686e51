package urlutil

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"
	"syscall"
	"time"
)

// ErrBlockedTarget is returned for outbound targets on loopback, private or
// link-local networks.
var ErrBlockedTarget = errors.New("blocked target address")

var sharedAddressSpace = netip.MustParsePrefix("100.64.0.0/10")

// Resolver looks up the addresses of a host. *net.Resolver satisfies it.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// Guard rejects outbound requests that would reach internal networks.
type Guard struct {
	Resolver Resolver
}

// NewGuard returns a Guard backed by the system resolver.
func NewGuard() *Guard {
	return &Guard{Resolver: net.DefaultResolver}
}

// IsBlockedAddr reports whether addr is loopback, private, link-local,
// unspecified or in the carrier-grade NAT range.
func IsBlockedAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	return addr.IsLoopback() ||
		addr.IsPrivate() ||
		addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() ||
		addr.IsInterfaceLocalMulticast() ||
		addr.IsUnspecified() ||
		sharedAddressSpace.Contains(addr)
}

func isLocalhost(host string) bool {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	return host == "localhost" || strings.HasSuffix(host, ".localhost")
}

// Check resolves the URL's host and fails with ErrBlockedTarget if the host
// is localhost or any resolved address is blocked.
func (g *Guard) Check(ctx context.Context, u *url.URL) error {
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("%w: empty host", ErrBlockedTarget)
	}
	if isLocalhost(host) {
		return fmt.Errorf("%w: %s", ErrBlockedTarget, host)
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		if IsBlockedAddr(addr) {
			return fmt.Errorf("%w: %s", ErrBlockedTarget, addr)
		}
		return nil
	}
	addrs, err := g.Resolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", host, err)
	}
	if len(addrs) == 0 {
		return fmt.Errorf("failed to resolve %s: no addresses", host)
	}
	for _, addr := range addrs {
		if IsBlockedAddr(addr) {
			return fmt.Errorf("%w: %s resolves to %s", ErrBlockedTarget, host, addr)
		}
	}
	return nil
}

// SafeDialer returns a dialer that refuses to connect to blocked addresses,
// so a DNS answer that changes after Check cannot reach an internal host.
func SafeDialer(timeout time.Duration) *net.Dialer {
	return &net.Dialer{
		Timeout: timeout,
		Control: func(network, address string, _ syscall.RawConn) error {
			ap, err := netip.ParseAddrPort(address)
			if err != nil {
				return fmt.Errorf("%w: %s", ErrBlockedTarget, address)
			}
			if IsBlockedAddr(ap.Addr()) {
				return fmt.Errorf("%w: %s", ErrBlockedTarget, ap.Addr())
			}
			return nil
		},
	}
}
