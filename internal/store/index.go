// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package store

import (
	"slices"
	"strings"

	"golang.org/x/text/cases"

	"github.com/holomush/playerdb/internal/record"
)

// nameKey is the case-folded form used by every name index.
func nameKey(name string) string {
	return cases.Fold().String(name)
}

type prefixEntry struct {
	key string
	rec *record.Record
}

// prefixIndex keeps records sorted by folded name so every prefix maps to
// a contiguous run.
type prefixIndex struct {
	entries []prefixEntry
}

func comparePrefixEntry(e prefixEntry, key string) int {
	return strings.Compare(e.key, key)
}

func (p *prefixIndex) insert(key string, rec *record.Record) {
	i, found := slices.BinarySearchFunc(p.entries, key, comparePrefixEntry)
	if found {
		p.entries[i].rec = rec
		return
	}
	p.entries = slices.Insert(p.entries, i, prefixEntry{key: key, rec: rec})
}

func (p *prefixIndex) remove(key string) {
	if i, found := slices.BinarySearchFunc(p.entries, key, comparePrefixEntry); found {
		p.entries = slices.Delete(p.entries, i, i+1)
	}
}

// find returns up to limit records whose key starts with prefix, in key
// order. A limit of zero or less means no limit.
func (p *prefixIndex) find(prefix string, limit int) []*record.Record {
	i, _ := slices.BinarySearchFunc(p.entries, prefix, comparePrefixEntry)
	var out []*record.Record
	for ; i < len(p.entries) && strings.HasPrefix(p.entries[i].key, prefix); i++ {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, p.entries[i].rec)
	}
	return out
}
