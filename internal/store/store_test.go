// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package store_test

import (
	"context"
	"errors"
	"net/netip"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/playerdb/internal/rank"
	"github.com/holomush/playerdb/internal/record"
	"github.com/holomush/playerdb/internal/record/recordtest"
	"github.com/holomush/playerdb/internal/store"
	"github.com/holomush/playerdb/internal/store/storetest"
	"github.com/holomush/playerdb/pkg/errutil"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newRankModel(t *testing.T) *rank.Model {
	t.Helper()
	m, err := rank.DefaultDefinitions().Build()
	require.NoError(t, err)
	return m
}

func newLoadedStore(t *testing.T, backend store.Backend) (*store.Store, *rank.Model) {
	t.Helper()
	ranks := newRankModel(t)
	s := store.New(ranks, backend, store.WithClock(recordtest.NewClock(epoch)))
	_, err := s.Load(context.Background())
	require.NoError(t, err)
	return s, ranks
}

func addPlayers(t *testing.T, s *store.Store, names ...string) []*record.Record {
	t.Helper()
	out := make([]*record.Record, len(names))
	for i, n := range names {
		rec, err := s.AddPlayer(n, netip.MustParseAddr("192.0.2.1"), s.Ranks().DefaultRank(), record.RankChangeDefault)
		require.NoError(t, err)
		out[i] = rec
	}
	return out
}

func TestStore_LoadEmpty(t *testing.T) {
	s, ranks := newLoadedStore(t, storetest.NewMemoryBackend())
	assert.True(t, s.Loaded())
	assert.True(t, ranks.Frozen())
	assert.Zero(t, s.Count())
	assert.Equal(t, store.FirstPlayerID-1, s.MaxID())

	_, err := s.Load(context.Background())
	errutil.AssertErrorCode(t, err, store.CodeAlreadyLoaded)
}

func TestStore_LoadSkipsBadRecords(t *testing.T) {
	ranks := newRankModel(t)
	guest := ranks.FindRank("guest")
	backend := storetest.NewMemoryBackend(
		record.Data{ID: 300, Name: "Alice", Rank: guest},
		record.Data{ID: 12, Name: "Reserved", Rank: guest},
		record.Data{ID: 300, Name: "Clone", Rank: guest},
		record.Data{ID: 301, Name: "ALICE", Rank: guest},
		record.Data{ID: 302, Name: "", Rank: guest},
		record.Data{ID: 299, Name: "Bert"},
	)
	s := store.New(ranks, backend)

	records, err := s.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "Bert", records[0].Name())
	assert.Equal(t, "Alice", records[1].Name())
	assert.Same(t, guest, records[0].Rank(), "missing rank falls back to default")
	assert.Equal(t, 302, s.MaxID())
	assert.False(t, records[0].Dirty())
}

func TestStore_LoadFailure(t *testing.T) {
	backend := storetest.NewMemoryBackend()
	backend.FailLoad(errors.New("disk on fire"))
	s := store.New(newRankModel(t), backend)

	_, err := s.Load(context.Background())
	errutil.AssertErrorCode(t, err, store.CodeLoadFailed)
	assert.False(t, s.Loaded())
}

func TestStore_OperationsRequireLoad(t *testing.T) {
	ranks := newRankModel(t)
	s := store.New(ranks, storetest.NewMemoryBackend())

	_, err := s.AddPlayer("Alice", netip.MustParseAddr("192.0.2.1"), ranks.DefaultRank(), record.RankChangeDefault)
	errutil.AssertErrorCode(t, err, store.CodeNotLoaded)
	errutil.AssertErrorCode(t, s.Save(context.Background()), store.CodeNotLoaded)
}

func TestStore_AddPlayerAllocatesMonotonicIDs(t *testing.T) {
	s, _ := newLoadedStore(t, storetest.NewMemoryBackend())
	recs := addPlayers(t, s, "Alice", "Bert", "Carla")

	assert.Equal(t, store.FirstPlayerID, recs[0].ID())
	assert.Equal(t, store.FirstPlayerID+1, recs[1].ID())
	assert.Equal(t, store.FirstPlayerID+2, recs[2].ID())
	assert.True(t, recs[0].Dirty())

	require.NoError(t, s.Remove(recs[2]))
	recs = addPlayers(t, s, "Dora")
	assert.Equal(t, store.FirstPlayerID+3, recs[0].ID(), "ids are never reused")
}

func TestStore_AddPlayerValidation(t *testing.T) {
	s, ranks := newLoadedStore(t, storetest.NewMemoryBackend())
	addPlayers(t, s, "Alice")
	ip := netip.MustParseAddr("192.0.2.1")

	tests := []struct {
		name string
		add  func() error
		code string
	}{
		{"duplicate ignoring case", func() error {
			_, err := s.AddPlayer("alice", ip, ranks.DefaultRank(), record.RankChangeDefault)
			return err
		}, store.CodeDuplicateName},
		{"invalid name", func() error {
			_, err := s.AddPlayer("no spaces", ip, ranks.DefaultRank(), record.RankChangeDefault)
			return err
		}, record.CodeInvalidArgument},
		{"missing rank", func() error {
			_, err := s.AddPlayer("Bert", ip, nil, record.RankChangeDefault)
			return err
		}, store.CodeInvalidArgument},
		{"missing address", func() error {
			_, err := s.AddPlayer("Bert", netip.Addr{}, ranks.DefaultRank(), record.RankChangeDefault)
			return err
		}, store.CodeInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errutil.AssertErrorCode(t, tt.add(), tt.code)
			assert.Equal(t, 1, s.Count())
		})
	}
}

func TestStore_AddUnrecognizedPlayer(t *testing.T) {
	s, ranks := newLoadedStore(t, storetest.NewMemoryBackend())
	builder := ranks.FindRank("builder")

	rec, err := s.AddUnrecognizedPlayer("Ghost", builder, record.RankChangePromoted)
	require.NoError(t, err)
	d := rec.Snapshot()
	assert.False(t, d.LastIP.IsValid())
	assert.Equal(t, record.RankChangePromoted, d.RankChangeType)
	assert.Equal(t, epoch, d.RankChangeDate)
	assert.Same(t, rec, s.FindExact("ghost"))
}

func TestStore_AddSuperPlayer(t *testing.T) {
	s, ranks := newLoadedStore(t, storetest.NewMemoryBackend())

	console, err := s.AddSuperPlayer(1, "(console)", ranks.Highest())
	require.NoError(t, err)
	assert.Same(t, console, s.FindByID(1))
	assert.Nil(t, s.FindExact("(console)"))
	assert.Zero(t, s.Count())
	assert.False(t, console.Dirty())

	for _, id := range []int{0, 256, -1} {
		_, err := s.AddSuperPlayer(id, "x", ranks.Highest())
		errutil.AssertErrorCode(t, err, store.CodeReservedID)
	}
	_, err = s.AddSuperPlayer(1, "(other)", ranks.Highest())
	errutil.AssertErrorCode(t, err, store.CodeReservedID)
}

func TestStore_FindOneByPartialName(t *testing.T) {
	s, _ := newLoadedStore(t, storetest.NewMemoryBackend())
	recs := addPlayers(t, s, "Alice", "Albert", "Bob", "Bobby")

	tests := []struct {
		query     string
		want      *record.Record
		ambiguous bool
	}{
		{"al", nil, true},
		{"ali", recs[0], false},
		{"ALBERT", recs[1], false},
		{"bob", recs[2], false},
		{"bobb", recs[3], false},
		{"zed", nil, false},
		{"", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got, ambiguous := s.FindOneByPartialName(tt.query)
			assert.Same(t, tt.want, got)
			assert.Equal(t, tt.ambiguous, ambiguous)
		})
	}
}

func TestStore_FindOneByPartialNameSingleRecord(t *testing.T) {
	s, _ := newLoadedStore(t, storetest.NewMemoryBackend())
	recs := addPlayers(t, s, "Alice")

	got, ambiguous := s.FindOneByPartialName("al")
	assert.Same(t, recs[0], got)
	assert.False(t, ambiguous)
}

func TestStore_FindByPartialName(t *testing.T) {
	s, _ := newLoadedStore(t, storetest.NewMemoryBackend())
	addPlayers(t, s, "Carla", "Alice", "Albert", "alfred")

	assert.Equal(t, []string{"Albert", "alfred", "Alice"}, names(s.FindByPartialName("AL", 0)))
	assert.Equal(t, []string{"Albert", "alfred"}, names(s.FindByPartialName("al", 2)))
	assert.Empty(t, s.FindByPartialName("", 0))
}

func TestStore_FindByPattern(t *testing.T) {
	s, _ := newLoadedStore(t, storetest.NewMemoryBackend())
	addPlayers(t, s, "Alice", "Albert", "Malice", "Bob")

	got, err := s.FindByPattern("*LICE", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"Alice", "Malice"}, names(got))

	got, err = s.FindByPattern("?ob", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"Bob"}, names(got))

	got, err = s.FindByPattern("*", 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	_, err = s.FindByPattern("[a", 0)
	errutil.AssertErrorCode(t, err, store.CodeInvalidArgument)
}

func TestStore_FindByIPFollowsLogins(t *testing.T) {
	s, ranks := newLoadedStore(t, storetest.NewMemoryBackend())
	home := netip.MustParseAddr("198.51.100.1")
	cafe := netip.MustParseAddr("198.51.100.2")

	alice, err := s.AddPlayer("Alice", home, ranks.DefaultRank(), record.RankChangeDefault)
	require.NoError(t, err)
	bert, err := s.AddPlayer("Bert", home, ranks.DefaultRank(), record.RankChangeDefault)
	require.NoError(t, err)

	assert.Equal(t, []*record.Record{alice, bert}, s.FindByIP(home, 0))
	assert.Equal(t, []*record.Record{alice}, s.FindByIP(home, 1))

	require.NoError(t, bert.ProcessLogin(&recordtest.Session{Addr: cafe}))
	assert.Equal(t, []*record.Record{alice}, s.FindByIP(home, 0))
	assert.Equal(t, []*record.Record{bert}, s.FindByIP(cafe, 0))
	assert.Empty(t, s.FindByIP(netip.Addr{}, 0))

	mapped := netip.AddrFrom16(cafe.As16())
	assert.Equal(t, []*record.Record{bert}, s.FindByIP(mapped, 0))
}

func TestStore_Remove(t *testing.T) {
	s, _ := newLoadedStore(t, storetest.NewMemoryBackend())
	recs := addPlayers(t, s, "Alice", "Bert")

	require.NoError(t, s.Remove(recs[0]))
	assert.Nil(t, s.FindExact("Alice"))
	assert.Nil(t, s.FindByID(recs[0].ID()))
	assert.Empty(t, s.FindByPartialName("ali", 0))
	assert.Equal(t, []*record.Record{recs[1]}, s.FindByIP(netip.MustParseAddr("192.0.2.1"), 0))

	errutil.AssertErrorCode(t, s.Remove(recs[0]), store.CodeInvalidArgument)

	require.NoError(t, recs[1].ProcessLogin(recordtest.NewSession("192.0.2.1")))
	errutil.AssertErrorCode(t, s.Remove(recs[1]), store.CodeInvalidArgument)
}

func TestStore_SaveCollectsDirtyRecords(t *testing.T) {
	backend := storetest.NewMemoryBackend()
	s, _ := newLoadedStore(t, backend)
	recs := addPlayers(t, s, "Alice", "Bert", "Carla")
	require.NoError(t, s.Remove(recs[2]))

	require.NoError(t, s.Save(context.Background()))
	batch := backend.LastBatch()
	require.NotNil(t, batch)
	assert.Len(t, batch.All, 2)
	assert.Len(t, batch.Changed, 2)
	assert.Equal(t, []int{recs[2].ID()}, batch.Removed)
	assert.Equal(t, recs[2].ID(), batch.MaxID)
	assert.False(t, recs[0].Dirty())

	recs[1].ProcessMessageWritten()
	require.NoError(t, s.Save(context.Background()))
	batch = backend.LastBatch()
	assert.Len(t, batch.All, 2)
	require.Len(t, batch.Changed, 1)
	assert.Equal(t, "Bert", batch.Changed[0].Name)
	assert.Empty(t, batch.Removed)
}

func TestStore_FailedSaveKeepsRecordsDirty(t *testing.T) {
	backend := storetest.NewMemoryBackend()
	s, _ := newLoadedStore(t, backend)
	recs := addPlayers(t, s, "Alice")
	backend.FailNextSave(errors.New("disk full"))

	err := s.Save(context.Background())
	errutil.AssertErrorCode(t, err, store.CodeSaveFailed)
	errutil.AssertErrorContext(t, err, "backend", "memory")
	assert.True(t, recs[0].Dirty())

	require.NoError(t, s.Save(context.Background()))
	assert.Len(t, backend.LastBatch().Changed, 1)
}

func TestStore_MassRankChange(t *testing.T) {
	s, ranks := newLoadedStore(t, storetest.NewMemoryBackend())
	recs := addPlayers(t, s, "Alice", "Bert", "Carla")
	builder := ranks.FindRank("builder")
	require.NoError(t, recs[1].ProcessRankChange(builder, "x", "", record.RankChangePromoted))
	console, err := s.AddSuperPlayer(1, "(console)", ranks.Highest())
	require.NoError(t, err)

	n, err := s.MassRankChange(console, ranks.DefaultRank(), ranks.FindRank("regular"), "cleanup")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	d := recs[0].Snapshot()
	assert.Equal(t, "regular", d.Rank.Name())
	assert.Equal(t, "guest", d.PreviousRank.Name())
	assert.Equal(t, record.RankChangePromoted, d.RankChangeType)
	assert.Equal(t, "(console)", d.RankChangedBy)
	assert.Same(t, builder, recs[1].Rank())

	_, err = s.MassRankChange(console, builder, builder, "")
	errutil.AssertErrorCode(t, err, store.CodeInvalidArgument)
}

func TestStore_SwapInfoReindexesAddresses(t *testing.T) {
	s, ranks := newLoadedStore(t, storetest.NewMemoryBackend())
	a, err := s.AddPlayer("Alice", netip.MustParseAddr("198.51.100.1"), ranks.DefaultRank(), record.RankChangeDefault)
	require.NoError(t, err)
	b, err := s.AddPlayer("Bert", netip.MustParseAddr("198.51.100.2"), ranks.Highest(), record.RankChangeDefault)
	require.NoError(t, err)

	require.NoError(t, s.SwapInfo(a, b))
	assert.Same(t, ranks.Highest(), a.Rank())
	assert.Same(t, a, s.FindExact("alice"))
	assert.Equal(t, []*record.Record{a}, s.FindByIP(netip.MustParseAddr("198.51.100.2"), 0))
	assert.Equal(t, []*record.Record{b}, s.FindByIP(netip.MustParseAddr("198.51.100.1"), 0))
}

func TestStore_ConcurrentFindOrAddCreatesOnce(t *testing.T) {
	s, ranks := newLoadedStore(t, storetest.NewMemoryBackend())
	ip := netip.MustParseAddr("192.0.2.1")
	var decisions sync.Map

	const workers = 32
	results := make([]*record.Record, workers)
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, _, err := s.FindOrAdd("Racer", ip, func() (*rank.Rank, error) {
				decisions.Store(strconv.Itoa(i), true)
				return ranks.DefaultRank(), nil
			})
			assert.NoError(t, err)
			results[i] = rec
		}()
	}
	wg.Wait()

	calls := 0
	decisions.Range(func(any, any) bool { calls++; return true })
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, s.Count())
	for _, rec := range results {
		assert.Same(t, results[0], rec)
	}
}

func TestStore_FindOrAddDecisionError(t *testing.T) {
	s, _ := newLoadedStore(t, storetest.NewMemoryBackend())
	veto := errors.New("vetoed")

	_, created, err := s.FindOrAdd("Alice", netip.MustParseAddr("192.0.2.1"), func() (*rank.Rank, error) {
		return nil, veto
	})
	assert.ErrorIs(t, err, veto)
	assert.False(t, created)
	assert.Zero(t, s.Count())
}

type listener struct {
	added, removed []string
}

func (l *listener) RecordAdded(r *record.Record)   { l.added = append(l.added, r.Name()) }
func (l *listener) RecordRemoved(r *record.Record) { l.removed = append(l.removed, r.Name()) }

func TestStore_ListenerSeesStructuralChanges(t *testing.T) {
	l := &listener{}
	ranks := newRankModel(t)
	s := store.New(ranks, storetest.NewMemoryBackend(), store.WithListener(l))
	_, err := s.Load(context.Background())
	require.NoError(t, err)

	recs := addPlayers(t, s, "Alice", "Bert")
	require.NoError(t, s.Remove(recs[0]))
	_, err = s.AddSuperPlayer(1, "(console)", ranks.Highest())
	require.NoError(t, err)

	assert.Equal(t, []string{"Alice", "Bert"}, l.added)
	assert.Equal(t, []string{"Alice"}, l.removed)
}

func TestStore_Close(t *testing.T) {
	backend := storetest.NewMemoryBackend()
	s, _ := newLoadedStore(t, backend)
	require.NoError(t, s.Close())
	assert.True(t, backend.Closed())
}

func names(recs []*record.Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Name()
	}
	return out
}
