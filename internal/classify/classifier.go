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

package classify

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/x-stp/o365scan/internal/dns"
	"github.com/x-stp/o365scan/internal/metrics"
	"go.uber.org/zap"
)

// DefaultTimeout bounds a single domain lookup, retries included.
const DefaultTimeout = dns.DefaultTimeout

// o365Markers are matched as plain substrings of the lower-cased MX host.
// The second marker is covered by the first and is kept for readability.
var o365Markers = []string{"outlook.com", "mail.protection.outlook.com"}

// IsO365Host reports whether an MX exchange host belongs to Exchange Online.
// The match is a substring test, so a host such as "notoutlook.com.evil" also
// matches.
func IsO365Host(host string) bool {
	h := strings.ToLower(host)
	for _, m := range o365Markers {
		if strings.Contains(h, m) {
			return true
		}
	}
	return false
}

// Throttle gates outbound lookups. Wait blocks until a query may be issued
// and Observe reports how the query went.
type Throttle interface {
	Wait(ctx context.Context) error
	Observe(success bool)
}

// Config tunes a Classifier.
type Config struct {
	// Timeout is the lifetime of one domain lookup. Zero means DefaultTimeout.
	Timeout time.Duration
	// Throttle, when set, is consulted before every uncached lookup.
	Throttle Throttle
}

// Classifier resolves domains to classifications through a Resolver.
// It holds no per-run state; the cache is passed in by the caller.
type Classifier struct {
	resolver dns.Resolver
	timeout  time.Duration
	throttle Throttle
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// New returns a Classifier backed by resolver.
func New(resolver dns.Resolver, cfg Config, logger *zap.Logger) *Classifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{
		resolver: resolver,
		timeout:  cfg.Timeout,
		throttle: cfg.Throttle,
		logger:   logger,
		metrics:  metrics.GetMetrics(),
	}
}

// Classify returns the classification of domain, consulting cache first and
// storing a freshly computed result in it.
//
// Lookup failures of any kind are folded into NoMX and never returned as
// errors. The only error Classify returns is the parent context's, in which
// case nothing is cached for domain.
func (c *Classifier) Classify(ctx context.Context, domain string, cache *Cache) (Result, error) {
	domain = strings.ToLower(domain)

	if r, ok := cache.Get(domain); ok {
		c.metrics.RecordCacheLookup(true)
		return r, nil
	}
	c.metrics.RecordCacheLookup(false)

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	r, err := c.lookup(ctx, domain)
	if err != nil {
		return Result{}, err
	}
	return cache.PutIfAbsent(domain, r), nil
}

// lookup performs the uncached path of Classify.
func (c *Classifier) lookup(ctx context.Context, domain string) (Result, error) {
	if domain == "" {
		return NoMXResult(), nil
	}

	if c.throttle != nil {
		if err := c.throttle.Wait(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Result{}, ctxErr
			}
			// The limiter refused to wait, which only happens when the
			// wait would outlive ctx. Treat it like a timeout.
			c.logger.Debug("Throttle refused lookup", zap.String("domain", domain), zap.Error(err))
			return NoMXResult(), nil
		}
	}

	qctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	res, err := c.resolver.LookupMX(qctx, domain)
	took := time.Since(start)

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		if c.throttle != nil {
			c.throttle.Observe(!dns.IsTemporary(err))
		}
		c.metrics.RecordDNSError(errorType(err))
		c.metrics.RecordClassification("no_mx", took)
		c.logger.Debug("MX lookup failed",
			zap.String("domain", domain),
			zap.Duration("took", took),
			zap.Error(err))
		return NoMXResult(), nil
	}
	if c.throttle != nil {
		c.throttle.Observe(true)
	}

	for _, mx := range res.Records {
		if mx == nil {
			continue
		}
		if IsO365Host(mx.Host) {
			c.metrics.RecordClassification("o365", took)
			return O365Result(strings.ToLower(mx.Host)), nil
		}
	}
	c.metrics.RecordClassification("other", took)
	return OtherResult(), nil
}

func errorType(err error) string {
	switch {
	case dns.IsNotFound(err):
		return "not_found"
	case dns.IsTimeout(err):
		return "timeout"
	case dns.IsServFail(err):
		return "servfail"
	case errors.Is(err, dns.ErrDNSRefused):
		return "refused"
	default:
		return "other"
	}
}
