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
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Cache maps a lower-cased domain to its classification. Entries are never
// evicted or replaced once written. It is safe for concurrent use.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]Result
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]Result)}
}

// Get returns the cached classification of domain.
func (c *Cache) Get(domain string) (Result, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.entries[domain]
	return r, ok
}

// PutIfAbsent stores r for domain unless an entry exists, and returns the
// entry that ends up in the cache.
func (c *Cache) PutIfAbsent(domain string, r Result) Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries == nil {
		c.entries = make(map[string]Result)
	}
	if existing, ok := c.entries[domain]; ok {
		return existing
	}
	c.entries[domain] = r
	return r
}

// Len returns the number of cached domains.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Counts returns how many cached domains fall into each Kind.
func (c *Cache) Counts() map[Kind]int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	counts := make(map[Kind]int, 3)
	for _, r := range c.entries {
		counts[r.Kind]++
	}
	return counts
}

// MarshalJSON writes the cache as a JSON object with keys in sorted order,
// so saving the same cache twice produces identical bytes.
func (c *Cache) MarshalJSON() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		val, err := c.entries[k].MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("domain %q: %w", k, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON replaces the cache contents with the decoded object.
// A JSON null yields an empty cache.
func (c *Cache) UnmarshalJSON(data []byte) error {
	var entries map[string]Result
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("domain cache: %w", err)
	}
	if entries == nil {
		entries = make(map[string]Result)
	}
	c.mu.Lock()
	c.entries = entries
	c.mu.Unlock()
	return nil
}
