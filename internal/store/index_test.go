// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package store

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/holomush/playerdb/internal/record"
)

func TestPrefixIndex(t *testing.T) {
	recs := map[string]*record.Record{}
	var idx prefixIndex
	for _, name := range []string{"Carla", "alice", "Albert", "al", "Bob"} {
		r := record.FromData(record.Data{ID: FirstPlayerID + len(recs), Name: name})
		recs[nameKey(name)] = r
		idx.insert(nameKey(name), r)
	}

	keys := make([]string, len(idx.entries))
	for i, e := range idx.entries {
		keys[i] = e.key
	}
	assert.Equal(t, []string{"al", "albert", "alice", "bob", "carla"}, keys)

	assert.Equal(t, []*record.Record{recs["al"], recs["albert"], recs["alice"]}, idx.find("al", 0))
	assert.Equal(t, []*record.Record{recs["albert"]}, idx.find("alb", 0))
	assert.Len(t, idx.find("a", 2), 2)
	assert.Empty(t, idx.find("d", 0))
	assert.Empty(t, idx.find("zz", 0))

	idx.remove("albert")
	idx.remove("missing")
	assert.Equal(t, []*record.Record{recs["al"], recs["alice"]}, idx.find("al", 0))

	replacement := record.FromData(record.Data{ID: 999, Name: "Bob"})
	idx.insert("bob", replacement)
	assert.Equal(t, []*record.Record{replacement}, idx.find("bob", 0))
	assert.Len(t, idx.entries, 4)
}

func TestNameKeyFoldsCase(t *testing.T) {
	assert.Equal(t, nameKey("ALICE"), nameKey("alice"))
	assert.NotEqual(t, nameKey("alice"), nameKey("alicf"))
}
