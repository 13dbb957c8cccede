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

package main

import (
	"fmt"
	"io"

	"github.com/x-stp/o365scan/internal/checkpoint"
	"github.com/x-stp/o365scan/internal/classify"
	"github.com/x-stp/o365scan/internal/config"
	"github.com/x-stp/o365scan/internal/core"
	"github.com/x-stp/o365scan/internal/dns"
	"github.com/x-stp/o365scan/internal/logging"
	"go.uber.org/dig"
	"go.uber.org/zap"
)

// runDeps are the dependencies a command resolves from the container.
type runDeps struct {
	dig.In

	Config     *config.Config
	Logger     *zap.Logger
	Classifier *classify.Classifier
	Runner     *core.BatchRunner
	Limiter    *core.RateLimiter `optional:"true"` // Absent when dns.qps is 0.
}

// classifierParams are the inputs of NewClassifier.
type classifierParams struct {
	dig.In

	Config   *config.Config
	Resolver dns.Resolver
	Limiter  *core.RateLimiter `optional:"true"`
	Logger   *zap.Logger
}

// BuildContainer wires config, logger, resolver, classifier, checkpoint store
// and runner. Console lines from the runner go to out.
func BuildContainer(cfg *config.Config, out io.Writer) (*dig.Container, error) {
	container := dig.New()

	// Register configuration
	if err := container.Provide(func() *config.Config { return cfg }); err != nil {
		return nil, err
	}

	// Register logger, tagged with the run ID
	if err := container.Provide(func(cfg *config.Config) (*zap.Logger, error) {
		lc := cfg.GetLog()
		logger, err := logging.InitLogger(lc.Level, lc.Format)
		if err != nil {
			return nil, err
		}
		logger, _ = logging.WithRunID(logger)
		return logger, nil
	}); err != nil {
		return nil, err
	}

	// Register MX resolver
	if err := container.Provide(NewResolver); err != nil {
		return nil, err
	}

	// Register the DNS rate limiter only when a ceiling is configured
	if qps := cfg.GetDNS().QPS; qps > 0 {
		if err := container.Provide(func() *core.RateLimiter {
			return core.NewRateLimiter(qps)
		}); err != nil {
			return nil, err
		}
	}

	// Register classifier
	if err := container.Provide(NewClassifier); err != nil {
		return nil, err
	}

	// Register checkpoint store
	if err := container.Provide(func(cfg *config.Config, logger *zap.Logger) checkpoint.Store {
		cp := cfg.GetCheckpoint()
		if !cp.Enabled {
			logger.Info("Checkpointing disabled, progress will not be persisted")
			return checkpoint.NopStore{}
		}
		store := checkpoint.NewFileStore(cp.Path)
		logger.Debug("Using checkpoint file", zap.String("path", store.Path()))
		return store
	}); err != nil {
		return nil, err
	}

	// Register batch runner
	if err := container.Provide(func(cfg *config.Config, c *classify.Classifier, store checkpoint.Store, logger *zap.Logger) *core.BatchRunner {
		cp := cfg.GetCheckpoint()
		return core.NewBatchRunner(c, store, core.RunnerConfig{
			SaveEvery:     cp.SaveEvery,
			ProgressEvery: cp.ProgressEvery,
			Workers:       cfg.GetWorkers(),
		}, out, logger)
	}); err != nil {
		return nil, err
	}

	return container, nil
}

// NewResolver builds the configured MX resolver backend.
func NewResolver(cfg *config.Config, logger *zap.Logger) (dns.Resolver, error) {
	d := cfg.GetDNS()
	switch d.Backend {
	case config.BackendStd:
		logger.Debug("Using standard library resolver")
		return dns.NewStdResolver(), nil
	case config.BackendMiekg:
		r := dns.NewResolver(dns.ResolverConfig{
			Nameservers: d.Nameservers,
			Timeout:     d.Timeout,
			Retries:     d.Retries,
		})
		logger.Debug("Using miekg/dns resolver", zap.Strings("nameservers", r.Config().Nameservers))
		return r, nil
	default:
		return nil, fmt.Errorf("%w: unknown dns backend %q", config.ErrInvalid, d.Backend)
	}
}

// NewClassifier builds the domain classifier, throttled by the rate limiter
// when one is registered.
func NewClassifier(p classifierParams) *classify.Classifier {
	cc := classify.Config{Timeout: p.Config.GetDNS().Timeout}
	if p.Limiter != nil {
		cc.Throttle = p.Limiter
		p.Logger.Debug("DNS rate limit enabled", zap.Float64("qps", p.Limiter.GetCurrentRate()))
	}
	return classify.New(p.Resolver, cc, p.Logger)
}
