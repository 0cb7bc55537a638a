// Copyright (C) 2025 Atlaspack Go Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

package idealgraph

import (
	"sort"

	"github.com/atlaspack-go/core/internal/assetgraph"
)

// AssetKey is the small dense integer assigned to each interned asset
// id, letting availability sets be
// represented as bitsets indexed by AssetKey rather than map[AssetID].
type AssetKey int

// Interner sorts asset ids and assigns each a small integer AssetKey.
type Interner struct {
	keyOf map[assetgraph.AssetID]AssetKey
	idOf  []assetgraph.AssetID // idOf[key] == id
}

// Stats are the input statistics recorded for the decision log.
type Stats struct {
	Assets  int
	Deps    int
	Entries int
}

// NewInterner sorts ids and assigns AssetKeys 0..len(ids)-1 in that
// order, so iteration by AssetKey is stable across runs of the same
// input.
func NewInterner(ids []assetgraph.AssetID) *Interner {
	sorted := append([]assetgraph.AssetID{}, ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	in := &Interner{
		keyOf: make(map[assetgraph.AssetID]AssetKey, len(sorted)),
		idOf:  sorted,
	}
	for i, id := range sorted {
		in.keyOf[id] = AssetKey(i)
	}
	return in
}

// Key returns id's AssetKey.
func (in *Interner) Key(id assetgraph.AssetID) AssetKey { return in.keyOf[id] }

// ID returns the asset id for key.
func (in *Interner) ID(key AssetKey) assetgraph.AssetID { return in.idOf[key] }

// Len is the number of interned assets — the size every bitset in this
// package's availability computation is allocated to.
func (in *Interner) Len() int { return len(in.idOf) }
