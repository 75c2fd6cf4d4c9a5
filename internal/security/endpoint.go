package security

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"
	"time"
)

// ErrBlockedEndpoint is wrapped by every rejection from ValidateSubmissionEndpoint.
var ErrBlockedEndpoint = errors.New("endpoint not allowed")

// Resolver resolves host names; *net.Resolver satisfies it.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// blockedHosts are cloud metadata and loopback names never reachable as a
// regulatory authority.
var blockedHosts = []string{"localhost", "metadata.google.internal", "metadata.google", "metadata"}

// cgnat is the shared address space (RFC 6598), not covered by IsPrivate.
var cgnat = netip.MustParsePrefix("100.64.0.0/10")

// ValidateSubmissionEndpoint checks that a regulatory submission URL points at
// a public host. Compliance reports are signed and sent server side, so
// private, loopback, link-local and unspecified addresses are rejected,
// both as literals and after resolution. requireTLS rejects plain http.
func ValidateSubmissionEndpoint(ctx context.Context, rawURL string, requireTLS bool) error {
	return validateEndpoint(ctx, net.DefaultResolver, rawURL, requireTLS)
}

func validateEndpoint(ctx context.Context, r Resolver, rawURL string, requireTLS bool) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: invalid URL", ErrBlockedEndpoint)
	}
	switch {
	case u.Scheme == "https":
	case u.Scheme == "http" && !requireTLS:
	default:
		return fmt.Errorf("%w: scheme %q", ErrBlockedEndpoint, u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("%w: missing host", ErrBlockedEndpoint)
	}
	if u.User != nil {
		return fmt.Errorf("%w: credentials in URL", ErrBlockedEndpoint)
	}
	for _, b := range blockedHosts {
		if strings.EqualFold(host, b) {
			return fmt.Errorf("%w: host %q", ErrBlockedEndpoint, host)
		}
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		return checkAddr(addr)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	addrs, err := r.LookupNetIP(ctx, "ip", host)
	if err != nil || len(addrs) == 0 {
		return fmt.Errorf("%w: cannot resolve %q", ErrBlockedEndpoint, host)
	}
	for _, addr := range addrs {
		if err := checkAddr(addr); err != nil {
			return fmt.Errorf("host %q: %w", host, err)
		}
	}
	return nil
}

func checkAddr(addr netip.Addr) error {
	addr = addr.Unmap()
	switch {
	case addr.IsLoopback():
		return fmt.Errorf("%w: loopback address %s", ErrBlockedEndpoint, addr)
	case addr.IsPrivate(), cgnat.Contains(addr):
		return fmt.Errorf("%w: private address %s", ErrBlockedEndpoint, addr)
	case addr.IsLinkLocalUnicast(), addr.IsLinkLocalMulticast():
		return fmt.Errorf("%w: link-local address %s", ErrBlockedEndpoint, addr)
	case addr.IsUnspecified(), addr.IsMulticast():
		return fmt.Errorf("%w: address %s", ErrBlockedEndpoint, addr)
	}
	return nil
}
