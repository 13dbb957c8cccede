/*
Package checkpoint persists batch progress so an interrupted run can resume.

A Checkpoint is written wholesale as a single JSON object:

	{"index": 5000, "results": ["a@x.com\tx.com\tx-com.mail.protection.outlook.com."], "domain_cache": {"x.com": [true, "x-com.mail.protection.outlook.com."]}}

FileStore replaces the file atomically, so a crash during Save leaves the
previous checkpoint readable.
*/
package checkpoint

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
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/x-stp/o365scan/internal/classify"
	"github.com/x-stp/o365scan/internal/metrics"
	"github.com/x-stp/o365scan/internal/util"
)

var (
	// ErrCorrupt is returned when the checkpoint file exists but cannot be decoded.
	ErrCorrupt = errors.New("checkpoint: corrupt file")
	// ErrLocked is returned when another process holds the checkpoint lock.
	ErrLocked = errors.New("checkpoint: locked by another process")
)

// Checkpoint is the durable state of a batch run.
type Checkpoint struct {
	// NextIndex is the number of addresses already processed.
	NextIndex int `json:"index"`
	// Results holds the formatted O365 lines for addresses in [0, NextIndex).
	Results []string `json:"results"`
	// DomainCache memoizes classifications across runs.
	DomainCache *classify.Cache `json:"domain_cache"`
}

// New returns an empty checkpoint.
func New() *Checkpoint {
	return &Checkpoint{
		Results:     []string{},
		DomainCache: classify.NewCache(),
	}
}

// Validate checks the invariants a loaded checkpoint must satisfy.
func (c *Checkpoint) Validate() error {
	if c.NextIndex < 0 {
		return fmt.Errorf("%w: negative index %d", ErrCorrupt, c.NextIndex)
	}
	if len(c.Results) > c.NextIndex {
		return fmt.Errorf("%w: %d results for %d processed addresses", ErrCorrupt, len(c.Results), c.NextIndex)
	}
	return nil
}

// Marshal encodes c in its persisted form. Equal checkpoints encode to
// identical bytes.
func (c *Checkpoint) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(c.normalized()); err != nil {
		return nil, err
	}
	// Encoder appends a newline; the file has none.
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Unmarshal decodes a persisted checkpoint.
func Unmarshal(data []byte) (*Checkpoint, error) {
	c := New()
	if err := json.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	c = c.normalized()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// normalized fills nil collections so they encode as [] and {}.
func (c *Checkpoint) normalized() *Checkpoint {
	if c.Results == nil {
		c.Results = []string{}
	}
	if c.DomainCache == nil {
		c.DomainCache = classify.NewCache()
	}
	return c
}

// Store loads and saves checkpoints.
type Store interface {
	// Load returns the persisted checkpoint, or an empty one if none exists.
	Load() (*Checkpoint, error)
	// Save replaces the persisted checkpoint with c.
	Save(c *Checkpoint) error
}

// FileStore keeps the checkpoint in a single JSON file.
type FileStore struct {
	path string
	perm os.FileMode
}

var _ Store = (*FileStore)(nil)

// NewFileStore returns a store backed by path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, perm: 0o644}
}

// Path returns the checkpoint file path.
func (s *FileStore) Path() string { return s.path }

// Load reads the checkpoint file. A missing file yields an empty checkpoint.
func (s *FileStore) Load() (*Checkpoint, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint %s: %w", s.path, err)
	}
	c, err := Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.path, err)
	}
	return c, nil
}

// Save atomically replaces the checkpoint file with c.
func (s *FileStore) Save(c *Checkpoint) error {
	m := metrics.GetMetrics()
	defer metrics.MeasureDuration(m.CheckpointSaveDuration)()

	data, err := c.Marshal()
	if err != nil {
		m.RecordCheckpointSave(err, 0)
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	if err := util.WriteBytesAtomic(s.path, data, s.perm); err != nil {
		m.RecordCheckpointSave(err, 0)
		return fmt.Errorf("save checkpoint: %w", err)
	}
	m.RecordCheckpointSave(nil, len(data))
	return nil
}

// NopStore backs the checkpointing-off mode: every run starts from scratch
// and nothing is written.
type NopStore struct{}

var _ Store = NopStore{}

// Load returns an empty checkpoint.
func (NopStore) Load() (*Checkpoint, error) { return New(), nil }

// Save discards c.
func (NopStore) Save(*Checkpoint) error { return nil }

// Info summarizes a checkpoint for display.
type Info struct {
	NextIndex int
	Results   int
	Cached    int
	O365      int
	Other     int
	NoMX      int
	Modified  time.Time
}

// Describe loads the checkpoint at path and summarizes it.
func Describe(path string) (Info, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return Info{}, fmt.Errorf("stat checkpoint: %w", err)
	}
	c, err := NewFileStore(path).Load()
	if err != nil {
		return Info{}, err
	}
	counts := c.DomainCache.Counts()
	return Info{
		NextIndex: c.NextIndex,
		Results:   len(c.Results),
		Cached:    c.DomainCache.Len(),
		O365:      counts[classify.O365],
		Other:     counts[classify.Other],
		NoMX:      counts[classify.NoMX],
		Modified:  fi.ModTime(),
	}, nil
}
