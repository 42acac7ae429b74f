// Package platform holds host-level helpers the capture needs before it attaches.
package platform

import (
	"context"
	"fmt"
	"net"
	"time"
)

// DefaultAddrInterval is the retry period used when WaitForAddr gets a zero interval.
const DefaultAddrInterval = 100 * time.Millisecond

type addrLookup func(iface string) ([]net.Addr, error)

func interfaceAddrs(iface string) ([]net.Addr, error) {
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		return nil, err
	}
	return ifi.Addrs()
}

// WaitForAddr blocks until iface carries an IPv4 address or ctx is done.
// Lookup failures (for instance an interface that is not up yet) are retried.
func WaitForAddr(ctx context.Context, iface string, interval time.Duration) (net.IP, error) {
	return waitForAddr(ctx, iface, interval, interfaceAddrs)
}

func waitForAddr(ctx context.Context, iface string, interval time.Duration, lookup addrLookup) (net.IP, error) {
	if interval <= 0 {
		interval = DefaultAddrInterval
	}

	var lastErr error
	for {
		addrs, err := lookup(iface)
		if err == nil {
			if ip := firstIPv4(addrs); ip != nil {
				return ip, nil
			}
		}
		lastErr = err

		select {
		case <-ctx.Done():
			if lastErr != nil {
				return nil, fmt.Errorf("wait for address on %s: %w (last lookup: %v)", iface, ctx.Err(), lastErr)
			}
			return nil, fmt.Errorf("wait for address on %s: %w", iface, ctx.Err())
		case <-time.After(interval):
		}
	}
}

func firstIPv4(addrs []net.Addr) net.IP {
	for _, a := range addrs {
		var ip net.IP
		switch v := a.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		}
		if ip4 := ip.To4(); ip4 != nil {
			return ip4
		}
	}
	return nil
}
