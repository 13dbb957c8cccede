package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func TestDefaults(t *testing.T) {
	t.Parallel()
	c := New()
	if err := c.Validate(); err != nil {
		t.Fatalf("defaults do not validate: %v", err)
	}

	if got := c.GetIO(); got != (IOConfig{Input: "input.rtf", Output: "output_o365.rtf"}) {
		t.Errorf("GetIO() = %+v", got)
	}
	cp := c.GetCheckpoint()
	if cp.Path != "checkpoint.json" || !cp.Enabled || cp.SaveEvery != 5000 || cp.ProgressEvery != 1000 {
		t.Errorf("GetCheckpoint() = %+v", cp)
	}
	d := c.GetDNS()
	if d.Backend != BackendMiekg || d.Timeout != 5*time.Second || d.Retries != 1 || d.QPS != 0 || len(d.Nameservers) != 0 {
		t.Errorf("GetDNS() = %+v", d)
	}
	if c.GetWorkers() != 1 || c.GetMetricsAddr() != "" {
		t.Errorf("workers=%d metrics=%q", c.GetWorkers(), c.GetMetricsAddr())
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		key   string
		value any
	}{
		{"zero save cadence", KeySaveEvery, 0},
		{"zero progress cadence", KeyProgressEvery, 0},
		{"zero timeout", KeyDNSTimeout, "0s"},
		{"negative retries", KeyDNSRetries, -1},
		{"negative qps", KeyDNSQPS, -5},
		{"unknown backend", KeyDNSBackend, "bind"},
		{"too many workers", KeyWorkers, 1 << 20},
		{"no workers", KeyWorkers, 0},
		{"bad log level", KeyLogLevel, "trace"},
		{"bad log format", KeyLogFormat, "xml"},
		{"empty checkpoint path", KeyCheckpointPath, ""},
		{"empty output", KeyOutput, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := New()
			c.Set(tt.key, tt.value)
			if err := c.Validate(); !errors.Is(err, ErrInvalid) {
				t.Fatalf("Validate() = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestStdBackendRejectsNameservers(t *testing.T) {
	t.Parallel()
	c := New()
	c.Set(KeyDNSBackend, BackendStd)
	c.Set(KeyDNSNameservers, []string{"9.9.9.9"})
	if err := c.Validate(); !errors.Is(err, ErrInvalid) {
		t.Fatalf("Validate() = %v, want ErrInvalid", err)
	}
}

func TestCheckpointingOffAllowsEmptyPath(t *testing.T) {
	t.Parallel()
	c := New()
	c.Set(KeyCheckpointEnabled, false)
	c.Set(KeyCheckpointPath, "")
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "o365scan.yaml")
	yaml := "workers: 4\ndns:\n  timeout: 2s\n  nameservers: [\"9.9.9.9\"]\ncheckpoint:\n  save_every: 100\n"
	if err := os.WriteFile(file, []byte(yaml), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	t.Setenv("O365SCAN_CHECKPOINT_SAVE_EVERY", "250")
	t.Setenv("O365SCAN_DNS_QPS", "40")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("workers", 1, "")
	flags.Float64("qps", 0, "")
	flags.String("output", "output_o365.rtf", "")
	if err := flags.Parse([]string{"--workers=8"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	c, err := Load(file, flags)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if got := c.GetWorkers(); got != 8 {
		t.Errorf("workers = %d, want flag value 8", got)
	}
	d := c.GetDNS()
	if d.Timeout != 2*time.Second {
		t.Errorf("timeout = %v, want file value 2s", d.Timeout)
	}
	if !reflect.DeepEqual(d.Nameservers, []string{"9.9.9.9"}) {
		t.Errorf("nameservers = %v", d.Nameservers)
	}
	if d.QPS != 40 {
		t.Errorf("qps = %v, want env value 40", d.QPS)
	}
	if got := c.GetCheckpoint().SaveEvery; got != 250 {
		t.Errorf("save_every = %d, want env value 250", got)
	}
	if got := c.GetIO().Output; got != "output_o365.rtf" {
		t.Errorf("output = %q, unset flag must not override", got)
	}
}

func TestLoadMissingConfigFile(t *testing.T) {
	t.Parallel()
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), nil); err == nil {
		t.Fatal("expected an error for an explicit config file that does not exist")
	}
}
