// Package dns resolves the signaling server host, falling back to public
// resolvers when the system resolver fails.
package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	localTimeout  = time.Second
	publicTimeout = 2 * time.Second
)

// publicResolvers are queried in parallel when the local lookup fails.
var publicResolvers = []string{
	"1.1.1.1",                // Cloudflare
	"1.0.0.1",                // Cloudflare
	"[2606:4700:4700::1111]", // Cloudflare
	"8.8.8.8",                // Google
	"8.8.4.4",                // Google
	"[2001:4860:4860::8888]", // Google
	"9.9.9.9",                // Quad9
	"149.112.112.112",        // Quad9
	"208.67.222.222",         // Cisco OpenDNS
	"208.67.220.220",         // Cisco OpenDNS
}

// ErrNoAddress is returned when a resolver answers without any address.
var ErrNoAddress = errors.New("no addresses found")

// Resolver looks a host up through one resolver.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// Lookup resolves host to one IP, preferring IPv4. IP literals are returned
// unchanged.
func Lookup(ctx context.Context, host string) (string, error) {
	return lookup(ctx, host, &net.Resolver{}, publicResolverSet())
}

func lookup(ctx context.Context, host string, local Resolver, public []Resolver) (string, error) {
	if ip := net.ParseIP(host); ip != nil {
		return host, nil
	}

	lctx, cancel := context.WithTimeout(ctx, localTimeout)
	ip, err := resolve(lctx, local, host)
	cancel()
	if err == nil {
		return ip, nil
	}

	logrus.WithError(err).WithField("host", host).Debug("system dns failed, racing public resolvers")
	return race(ctx, host, public)
}

func publicResolverSet() []Resolver {
	set := make([]Resolver, 0, len(publicResolvers))
	for _, server := range publicResolvers {
		set = append(set, &net.Resolver{
			PreferGo: true,
			Dial: func(ctx context.Context, network, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, network, net.JoinHostPort(trimBrackets(server), "53"))
			},
		})
	}
	return set
}

func trimBrackets(s string) string {
	if len(s) > 1 && s[0] == '[' && s[len(s)-1] == ']' {
		return s[1 : len(s)-1]
	}
	return s
}

// race returns the first successful answer among resolvers.
func race(ctx context.Context, host string, resolvers []Resolver) (string, error) {
	if len(resolvers) == 0 {
		return "", fmt.Errorf("failed to resolve %s: no resolvers", host)
	}

	ctx, cancel := context.WithTimeout(ctx, publicTimeout)
	defer cancel()

	type result struct {
		ip  string
		err error
	}
	results := make(chan result, len(resolvers))
	for _, r := range resolvers {
		go func(r Resolver) {
			ip, err := resolve(ctx, r, host)
			results <- result{ip: ip, err: err}
		}(r)
	}

	for range resolvers {
		select {
		case res := <-results:
			if res.err == nil {
				return res.ip, nil
			}
		case <-ctx.Done():
			return "", fmt.Errorf("failed to resolve %s: %w", host, ctx.Err())
		}
	}
	return "", fmt.Errorf("failed to resolve %s: all %d resolvers failed", host, len(resolvers))
}

func resolve(ctx context.Context, r Resolver, host string) (string, error) {
	ips, err := r.LookupHost(ctx, host)
	if err != nil {
		return "", err
	}
	if len(ips) == 0 {
		return "", ErrNoAddress
	}
	for _, ip := range ips {
		if parsed := net.ParseIP(ip); parsed != nil && parsed.To4() != nil {
			return ip, nil
		}
	}
	return ips[0], nil
}

// DialContext dials addr after resolving its host with Lookup. It fits
// websocket.Dialer.NetDialContext.
func DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}

	ip, err := Lookup(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("dns lookup failed: %w", err)
	}

	var d net.Dialer
	return d.DialContext(ctx, network, net.JoinHostPort(ip, port))
}
