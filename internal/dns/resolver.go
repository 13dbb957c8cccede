package dns

/*
o365scan — resumable Microsoft 365 MX classification of address lists
Copyright (C) 2025  Pepijn van der Stap <rxtls@vanderstap.info>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	mdns "github.com/miekg/dns"
)

const (
	// DefaultTimeout bounds a single exchange with one nameserver.
	DefaultTimeout = 5 * time.Second
	// resolvConf is where system nameservers are read from.
	resolvConf = "/etc/resolv.conf"
)

// fallbackNameservers are used when resolv.conf is missing or empty.
var fallbackNameservers = []string{"8.8.8.8:53", "1.1.1.1:53"}

// ResolverConfig contains configuration for the DNS resolver.
type ResolverConfig struct {
	// Nameservers is a list of DNS servers to query (e.g., "8.8.8.8:53").
	// If empty, system resolvers from /etc/resolv.conf are used,
	// falling back to public DNS (8.8.8.8, 1.1.1.1).
	Nameservers []string

	// Timeout is the timeout for individual exchanges. Default is 5 seconds.
	// The caller's context deadline still bounds the whole lookup.
	Timeout time.Duration

	// Retries is the number of extra passes over the nameserver list.
	// Zero means a single pass.
	Retries int
}

// DNSResolver implements the Resolver interface using github.com/miekg/dns.
type DNSResolver struct {
	config ResolverConfig
	client *mdns.Client
}

// NewResolver creates a new miekg-backed resolver.
func NewResolver(config ResolverConfig) *DNSResolver {
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.Retries < 0 {
		config.Retries = 0
	}
	if len(config.Nameservers) == 0 {
		config.Nameservers = getSystemNameservers()
	} else {
		config.Nameservers = normalizeNameservers(config.Nameservers)
	}

	return &DNSResolver{
		config: config,
		client: &mdns.Client{
			Timeout: config.Timeout,
		},
	}
}

// getSystemNameservers tries to get system DNS servers from resolv.conf.
func getSystemNameservers() []string {
	config, err := mdns.ClientConfigFromFile(resolvConf)
	if err != nil || len(config.Servers) == 0 {
		return append([]string(nil), fallbackNameservers...)
	}

	servers := make([]string, 0, len(config.Servers))
	for _, s := range config.Servers {
		servers = append(servers, net.JoinHostPort(s, config.Port))
	}
	return servers
}

// normalizeNameservers appends the default port to bare addresses.
func normalizeNameservers(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, _, err := net.SplitHostPort(s); err != nil {
			s = net.JoinHostPort(strings.Trim(s, "[]"), "53")
		}
		out = append(out, s)
	}
	return out
}

// query performs a DNS query with retries across the configured nameservers.
func (r *DNSResolver) query(ctx context.Context, name string, qtype uint16) (*mdns.Msg, error) {
	m := new(mdns.Msg)
	m.SetQuestion(ensureAbsolute(name), qtype)
	m.RecursionDesired = true

	var lastErr error

	for i := 0; i <= r.config.Retries; i++ {
		for _, server := range r.config.Nameservers {
			if err := ctx.Err(); err != nil {
				return nil, contextError(err)
			}

			resp, _, err := r.client.ExchangeContext(ctx, m, server)
			if err != nil {
				lastErr = exchangeError(ctx, err)
				continue
			}

			switch resp.Rcode {
			case mdns.RcodeSuccess:
				return resp, nil
			case mdns.RcodeNameError: // NXDOMAIN
				return nil, ErrDNSNotFound
			case mdns.RcodeServerFailure:
				lastErr = ErrDNSServFail
				continue
			case mdns.RcodeRefused:
				lastErr = ErrDNSRefused
				continue
			default:
				lastErr = fmt.Errorf("%w: unexpected rcode %s", ErrDNSServFail, mdns.RcodeToString[resp.Rcode])
				continue
			}
		}
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, ErrDNSServFail
}

// LookupMX retrieves MX records for the given domain.
func (r *DNSResolver) LookupMX(ctx context.Context, name string) (Result[*net.MX], error) {
	resp, err := r.query(ctx, name, mdns.TypeMX)
	if err != nil {
		return Result[*net.MX]{}, err
	}

	var records []*net.MX
	for _, rr := range resp.Answer {
		if mx, ok := rr.(*mdns.MX); ok {
			records = append(records, &net.MX{
				Host: mx.Mx,
				Pref: mx.Preference,
			})
		}
	}

	if len(records) == 0 {
		return Result[*net.MX]{}, ErrDNSNotFound
	}

	return Result[*net.MX]{Records: records}, nil
}

// Config returns the resolver's current configuration.
func (r *DNSResolver) Config() ResolverConfig {
	return r.config
}

// exchangeError maps a transport error from miekg onto the package errors.
// A cancelled caller context is passed through untouched.
func exchangeError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return contextError(ctxErr)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrDNSTimeout
	}
	return fmt.Errorf("%w: %v", ErrDNSServFail, err)
}

// contextError turns an expired deadline into ErrDNSTimeout and keeps
// cancellation as is.
func contextError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrDNSTimeout
	}
	return err
}
