// Copyright (C) 2025 Atlaspack Go Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

package idealgraph

import "github.com/bits-and-blooms/bitset"

// AssetSet is a bitset of AssetKeys, sized to the number of interned
// assets and backed by github.com/bits-and-blooms/bitset, so
// union/intersect run one machine word at a time instead of per-element
// map operations.
type AssetSet struct {
	bits *bitset.BitSet
}

// NewAssetSet creates an empty set sized for n interned assets.
func NewAssetSet(n int) *AssetSet {
	return &AssetSet{bits: bitset.New(uint(n))}
}

// Add sets key's bit.
func (s *AssetSet) Add(key AssetKey) { s.bits.Set(uint(key)) }

// Has reports whether key's bit is set.
func (s *AssetSet) Has(key AssetKey) bool { return s.bits.Test(uint(key)) }

// Clone returns an independent copy.
func (s *AssetSet) Clone() *AssetSet { return &AssetSet{bits: s.bits.Clone()} }

// Union returns a new set containing every key in s or other.
func (s *AssetSet) Union(other *AssetSet) *AssetSet {
	return &AssetSet{bits: s.bits.Union(other.bits)}
}

// Intersect returns a new set containing only keys in both s and other.
func (s *AssetSet) Intersect(other *AssetSet) *AssetSet {
	return &AssetSet{bits: s.bits.Intersection(other.bits)}
}

// UnionInPlace merges other into s.
func (s *AssetSet) UnionInPlace(other *AssetSet) { s.bits.InPlaceUnion(other.bits) }

// Keys returns every set key in ascending order.
func (s *AssetSet) Keys() []AssetKey {
	out := make([]AssetKey, 0, s.bits.Count())
	for i, ok := s.bits.NextSet(0); ok; i, ok = s.bits.NextSet(i + 1) {
		out = append(out, AssetKey(i))
	}
	return out
}
