package checkpoint

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/x-stp/o365scan/internal/classify"
)

func TestLoadMissingFileReturnsEmpty(t *testing.T) {
	t.Parallel()
	s := NewFileStore(filepath.Join(t.TempDir(), "checkpoint.json"))

	c, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.NextIndex != 0 || len(c.Results) != 0 || c.DomainCache.Len() != 0 {
		t.Fatalf("expected empty checkpoint, got %+v", c)
	}
}

func TestSaveLoadRoundTripIsByteStable(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	s := NewFileStore(path)

	c := New()
	c.NextIndex = 3
	c.Results = []string{"a@x.com\tx.com\tx-com.mail.protection.outlook.com."}
	c.DomainCache.PutIfAbsent("x.com", classify.O365Result("x-com.mail.protection.outlook.com."))
	c.DomainCache.PutIfAbsent("y.com", classify.OtherResult())
	c.DomainCache.PutIfAbsent("z.com", classify.NoMXResult())
	if err := s.Save(c); err != nil {
		t.Fatalf("Save: %v", err)
	}
	first, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	for i := 0; i < 2; i++ {
		loaded, err := s.Load()
		if err != nil {
			t.Fatalf("Load #%d: %v", i, err)
		}
		if err := s.Save(loaded); err != nil {
			t.Fatalf("Save #%d: %v", i, err)
		}
		again, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("read #%d: %v", i, err)
		}
		if !bytes.Equal(first, again) {
			t.Fatalf("checkpoint drifted on round %d:\n%s\n%s", i, first, again)
		}
	}

	want := `{"index":3,"results":["a@x.com\tx.com\tx-com.mail.protection.outlook.com."],` +
		`"domain_cache":{"x.com":[true,"x-com.mail.protection.outlook.com."],"y.com":[false,"Other"],"z.com":[false,"No MX"]}}`
	if string(first) != want {
		t.Fatalf("persisted form:\n got %s\nwant %s", first, want)
	}
}

func TestLoadLegacyFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	legacy := `{"index": 2, "results": ["b@x.com\tx.com\tx-com.mail.protection.outlook.com."], ` +
		`"domain_cache": {"x.com": [true, "x-com.mail.protection.outlook.com."], "q.org": [false, "No MX"]}}`
	if err := os.WriteFile(path, []byte(legacy), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	c, err := NewFileStore(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.NextIndex != 2 || len(c.Results) != 1 {
		t.Fatalf("unexpected checkpoint: %+v", c)
	}
	r, ok := c.DomainCache.Get("x.com")
	if !ok || !r.IsO365() || r.Exchange != "x-com.mail.protection.outlook.com." {
		t.Fatalf("x.com cached as %+v", r)
	}
	if r, _ := c.DomainCache.Get("q.org"); r.Kind != classify.NoMX {
		t.Fatalf("q.org cached as %+v", r)
	}
}

func TestLoadRejectsCorruptFiles(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		data string
	}{
		{"truncated", `{"index": 4, "results": [`},
		{"negative index", `{"index": -1, "results": [], "domain_cache": {}}`},
		{"more results than processed", `{"index": 1, "results": ["a","b"], "domain_cache": {}}`},
		{"bad cache entry", `{"index": 0, "results": [], "domain_cache": {"x.com": "O365"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), "checkpoint.json")
			if err := os.WriteFile(path, []byte(tt.data), 0o644); err != nil {
				t.Fatalf("seed: %v", err)
			}
			if _, err := NewFileStore(path).Load(); !errors.Is(err, ErrCorrupt) {
				t.Fatalf("expected ErrCorrupt, got %v", err)
			}
		})
	}
}

func TestLoadNullCollections(t *testing.T) {
	t.Parallel()
	c, err := Unmarshal([]byte(`{"index": 0, "results": null, "domain_cache": null}`))
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	b, err := c.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(b) != `{"index":0,"results":[],"domain_cache":{}}` {
		t.Fatalf("Marshal = %s", b)
	}
}

func TestNopStore(t *testing.T) {
	t.Parallel()
	var s Store = NopStore{}
	c, err := s.Load()
	if err != nil || c.NextIndex != 0 {
		t.Fatalf("Load = %+v, %v", c, err)
	}
	c.NextIndex = 10
	if err := s.Save(c); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if again, _ := s.Load(); again.NextIndex != 0 {
		t.Fatalf("NopStore persisted state")
	}
}

func TestDescribe(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	c := New()
	c.NextIndex = 4
	c.Results = []string{"a@x.com\tx.com\th."}
	c.DomainCache.PutIfAbsent("x.com", classify.O365Result("h."))
	c.DomainCache.PutIfAbsent("y.com", classify.OtherResult())
	if err := NewFileStore(path).Save(c); err != nil {
		t.Fatalf("Save: %v", err)
	}

	info, err := Describe(path)
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if info.NextIndex != 4 || info.Results != 1 || info.Cached != 2 || info.O365 != 1 || info.Other != 1 || info.NoMX != 0 {
		t.Fatalf("Describe = %+v", info)
	}
}

func TestAcquireLockIsExclusive(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("flock not available")
	}
	t.Parallel()
	path := filepath.Join(t.TempDir(), "checkpoint.json")

	l, err := AcquireLock(path)
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}
	if _, err := AcquireLock(path); !errors.Is(err, ErrLocked) {
		t.Fatalf("second AcquireLock = %v, want ErrLocked", err)
	}
	if err := l.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}

	l2, err := AcquireLock(path)
	if err != nil {
		t.Fatalf("AcquireLock after release: %v", err)
	}
	_ = l2.Release()
}
