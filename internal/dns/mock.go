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

package dns

import (
	"context"
	"net"
	"sync"
	"time"
)

// MockResolver is a Resolver used for testing.
// Set MX records in the MX field, which maps FQDNs (with trailing dot) to records.
// It counts the queries it receives so tests can assert on cache behaviour.
type MockResolver struct {
	MX map[string][]*net.MX

	// Fail maps an FQDN to the error its lookup returns.
	Fail map[string]error

	// Delay is applied to every lookup. The lookup honours ctx while waiting,
	// which makes it suitable for timeout tests.
	Delay time.Duration

	mu      sync.Mutex
	queries map[string]int
}

var _ Resolver = (*MockResolver)(nil)

// ensureFQDN ensures the name ends with a dot.
func ensureFQDN(name string) string {
	if len(name) == 0 || name[len(name)-1] != '.' {
		return name + "."
	}
	return name
}

// LookupMX returns MX records for the given domain.
func (r *MockResolver) LookupMX(ctx context.Context, name string) (Result[*net.MX], error) {
	fqdn := ensureFQDN(name)

	r.mu.Lock()
	if r.queries == nil {
		r.queries = make(map[string]int)
	}
	r.queries[fqdn]++
	r.mu.Unlock()

	if r.Delay > 0 {
		t := time.NewTimer(r.Delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return Result[*net.MX]{}, contextError(ctx.Err())
		}
	}
	if err := ctx.Err(); err != nil {
		return Result[*net.MX]{}, contextError(err)
	}

	if err, ok := r.Fail[fqdn]; ok {
		return Result[*net.MX]{}, err
	}

	records, ok := r.MX[fqdn]
	if !ok || len(records) == 0 {
		return Result[*net.MX]{}, ErrDNSNotFound
	}

	return Result[*net.MX]{Records: records}, nil
}

// Queries returns how many lookups were issued for name.
func (r *MockResolver) Queries(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.queries[ensureFQDN(name)]
}

// TotalQueries returns the number of lookups issued across all names.
func (r *MockResolver) TotalQueries() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, n := range r.queries {
		total += n
	}
	return total
}
