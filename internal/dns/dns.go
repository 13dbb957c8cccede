/*
Package dns provides the MX lookup surface used by the domain classifier.

Two real backends are available: DNSResolver, which talks to explicit
nameservers through github.com/miekg/dns, and StdResolver, which goes through
the Go standard library resolver. MockResolver serves canned records for tests.
All backends map failures onto the sentinel errors below so callers can reason
about them without caring which backend produced them.
*/
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
	"net"
	"strings"
)

// Sentinel errors returned by every Resolver implementation.
var (
	// ErrDNSNotFound covers NXDOMAIN as well as a successful answer without MX records.
	ErrDNSNotFound = errors.New("dns: no such record")
	// ErrDNSTimeout is returned when the lookup lifetime expires.
	ErrDNSTimeout = errors.New("dns: query timed out")
	// ErrDNSServFail is returned for SERVFAIL and other temporary upstream failures.
	ErrDNSServFail = errors.New("dns: server failure")
	// ErrDNSRefused is returned when every nameserver refused the query.
	ErrDNSRefused = errors.New("dns: query refused")
)

// Resolver looks up MX records for a domain.
type Resolver interface {
	// LookupMX returns the MX records of name in the order the upstream
	// answered them. The order is significant to callers.
	LookupMX(ctx context.Context, name string) (Result[*net.MX], error)
}

// Result wraps the records of a lookup.
type Result[T any] struct {
	Records []T
}

// IsNotFound reports whether err means the domain has no MX records.
func IsNotFound(err error) bool { return errors.Is(err, ErrDNSNotFound) }

// IsTimeout reports whether err is a lookup timeout.
func IsTimeout(err error) bool { return errors.Is(err, ErrDNSTimeout) }

// IsServFail reports whether err is an upstream server failure.
func IsServFail(err error) bool { return errors.Is(err, ErrDNSServFail) }

// IsTemporary reports whether err is likely to clear up on its own.
// Timeouts and server failures are temporary; a missing record is not.
func IsTemporary(err error) bool {
	return IsTimeout(err) || IsServFail(err)
}

// ensureAbsolute ensures the domain name ends with a dot (FQDN format).
func ensureAbsolute(name string) string {
	if !strings.HasSuffix(name, ".") {
		return name + "."
	}
	return name
}
