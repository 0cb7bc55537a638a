// Copyright (C) 2025 Atlaspack Go Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

package assetgraph

import (
	"github.com/dgraph-io/ristretto/v2"
)

// ContentCache is a bounded, cost-aware in-memory cache of transformed
// asset source bytes, keyed by AssetID. It exists purely to avoid holding
// every transformed file's full source in memory for the lifetime of a
// large build; unlike the request tracker's result map (kept for the
// whole build), this is a best-effort cache — a miss just means
// re-reading TransformResult.Asset's bytes from the Asset node's own
// fields, which are retained regardless.
//
// Ristretto serves here purely as an in-memory, admission-aware cache;
// nothing is persisted to disk.
type ContentCache struct {
	cache *ristretto.Cache[string, []byte]
}

// NewContentCache creates a ContentCache with the given approximate byte
// budget.
func NewContentCache(maxBytes int64) (*ContentCache, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: maxBytes / 8, // ~10x the number of items we expect to track
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &ContentCache{cache: c}, nil
}

// Put stores content for id, costed by its byte length.
func (c *ContentCache) Put(id AssetID, content []byte) {
	c.cache.Set(string(id), content, int64(len(content)))
}

// Get returns the cached content for id, if present.
func (c *ContentCache) Get(id AssetID) ([]byte, bool) {
	return c.cache.Get(string(id))
}

// Close releases background goroutines ristretto maintains internally.
func (c *ContentCache) Close() {
	c.cache.Close()
}
