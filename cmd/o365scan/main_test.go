package main

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/x-stp/o365scan/internal/classify"
	"github.com/x-stp/o365scan/internal/config"
	"github.com/x-stp/o365scan/internal/core"
	"github.com/x-stp/o365scan/internal/dns"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestClassifyDomainsOutput(t *testing.T) {
	t.Parallel()
	resolver := &dns.MockResolver{MX: map[string][]*net.MX{
		"contoso.com.": {{Host: "contoso-com.mail.protection.outlook.com.", Pref: 0}},
		"example.org.": {{Host: "mx.example.org.", Pref: 10}},
	}}
	c := classify.New(resolver, classify.Config{}, zap.NewNop())

	var out bytes.Buffer
	if err := classifyDomains(context.Background(), c, []string{"contoso.com", "example.org", "missing.test"}, &out); err != nil {
		t.Fatalf("classifyDomains: %v", err)
	}
	want := "contoso.com\tO365\tcontoso-com.mail.protection.outlook.com.\n" +
		"example.org\tOther\t-\n" +
		"missing.test\tNo MX\t-\n"
	if got := out.String(); got != want {
		t.Fatalf("output =\n%s\nwant\n%s", got, want)
	}
}

func TestShowCheckpoint(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	data := `{"index": 3, "results": ["a@x.com\tx.com\tx-com.mail.protection.outlook.com."], ` +
		`"domain_cache": {"x.com": [true, "x-com.mail.protection.outlook.com."], "y.com": [false, "Other"], "z.com": [false, "No MX"]}}`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	var out bytes.Buffer
	if err := showCheckpoint(path, &out); err != nil {
		t.Fatalf("showCheckpoint: %v", err)
	}
	for _, want := range []string{
		"Next index:    3\n",
		"O365 results:  1\n",
		"Cached domains: 3 (O365 1, Other 1, No MX 1)\n",
	} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}

func TestShowCheckpointMissing(t *testing.T) {
	t.Parallel()
	if err := showCheckpoint(filepath.Join(t.TempDir(), "absent.json"), &bytes.Buffer{}); err == nil {
		t.Fatal("expected an error for a missing checkpoint")
	}
}

func TestBuildContainerResolvesDeps(t *testing.T) {
	t.Parallel()
	cfg := config.New()
	cfg.Set(config.KeyDNSBackend, config.BackendStd)
	cfg.Set(config.KeyDNSQPS, 50)
	cfg.Set(config.KeyCheckpointEnabled, false)

	container, err := BuildContainer(cfg, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("BuildContainer: %v", err)
	}
	err = container.Invoke(func(c runDeps) {
		if c.Runner == nil || c.Classifier == nil || c.Logger == nil {
			t.Errorf("unresolved dependencies: %+v", c)
		}
		if c.Limiter == nil || c.Limiter.GetCurrentRate() != 50 {
			t.Errorf("rate limiter not wired for qps=50: %v", c.Limiter)
		}
	})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
}

func TestBuildContainerWithoutRateLimit(t *testing.T) {
	t.Parallel()
	cfg := config.New()
	cfg.Set(config.KeyDNSBackend, config.BackendStd)
	cfg.Set(config.KeyCheckpointPath, filepath.Join(t.TempDir(), "checkpoint.json"))

	container, err := BuildContainer(cfg, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("BuildContainer: %v", err)
	}
	err = container.Invoke(func(c runDeps) {
		if c.Limiter != nil {
			t.Errorf("rate limiter registered with qps=0")
		}
		if c.Classifier == nil {
			t.Errorf("classifier not resolved")
		}
	})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
}

func TestLogLimiterStats(t *testing.T) {
	t.Parallel()
	obs, logs := observer.New(zap.InfoLevel)
	rl := core.NewRateLimiter(10)
	rl.Observe(false)
	rl.Observe(true)

	logLimiterStats(zap.New(obs), rl)

	entries := logs.FilterMessage("DNS rate limiter").All()
	if len(entries) != 1 {
		t.Fatalf("got %d limiter log entries, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["successes"] != uint64(1) || fields["failures"] != uint64(1) || fields["ceiling"] != float64(10) {
		t.Fatalf("limiter fields = %v", fields)
	}
}

func TestNewResolverRejectsUnknownBackend(t *testing.T) {
	t.Parallel()
	cfg := config.New()
	cfg.Set(config.KeyDNSBackend, "bind")
	if _, err := NewResolver(cfg, zap.NewNop()); err == nil {
		t.Fatal("expected an error for an unknown backend")
	}
}
