// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package directory_test

import (
	"context"
	"net/netip"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/playerdb/internal/directory"
	"github.com/holomush/playerdb/internal/event"
	"github.com/holomush/playerdb/internal/rank"
	"github.com/holomush/playerdb/internal/record"
	"github.com/holomush/playerdb/internal/record/recordtest"
	"github.com/holomush/playerdb/internal/store"
	"github.com/holomush/playerdb/internal/store/storetest"
	"github.com/holomush/playerdb/pkg/errutil"
)

var (
	epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	addr  = netip.MustParseAddr("198.51.100.7")
)

type fixture struct {
	dir     *directory.Directory
	ranks   *rank.Model
	clock   *recordtest.Clock
	backend *storetest.MemoryBackend
}

func newFixture(t *testing.T, records ...record.Data) fixture {
	t.Helper()
	ranks, err := rank.DefaultDefinitions().Build()
	require.NoError(t, err)
	return newFixtureWithRanks(t, ranks, records...)
}

func newFixtureWithRanks(t *testing.T, ranks *rank.Model, records ...record.Data) fixture {
	t.Helper()
	clock := recordtest.NewClock(epoch)
	backend := storetest.NewMemoryBackend(records...)
	st := store.New(ranks, backend, store.WithClock(clock))
	dir := directory.New(st)
	_, err := dir.Load(context.Background())
	require.NoError(t, err)
	return fixture{dir: dir, ranks: ranks, clock: clock, backend: backend}
}

func (f fixture) create(t *testing.T, names ...string) []*record.Record {
	t.Helper()
	out := make([]*record.Record, len(names))
	for i, n := range names {
		rec, err := f.dir.FindOrCreateInfoForPlayer(n, addr)
		require.NoError(t, err)
		out[i] = rec
	}
	return out
}

func names(recs []*record.Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Name()
	}
	return out
}

func ids(recs []*record.Record) []int {
	out := make([]int, len(recs))
	for i, r := range recs {
		out[i] = r.ID()
	}
	return out
}

func TestDirectory_LoadRegistersConsole(t *testing.T) {
	f := newFixture(t)

	console := f.dir.Console()
	require.NotNil(t, console)
	assert.Equal(t, directory.ConsoleID, console.ID())
	assert.Equal(t, directory.ConsoleName, console.Name())
	assert.Same(t, f.ranks.Highest(), console.Rank())
	assert.Same(t, console, f.dir.FindByID(directory.ConsoleID))
	assert.Zero(t, f.dir.Count(), "super players are not listed")
}

func TestDirectory_LoadBuildsSortedList(t *testing.T) {
	ranks, err := rank.DefaultDefinitions().Build()
	require.NoError(t, err)
	guest := ranks.FindRank("guest")
	f := newFixtureWithRanks(t, ranks,
		record.Data{ID: 410, Name: "Zed", Rank: guest},
		record.Data{ID: 260, Name: "Amy", Rank: guest},
		record.Data{ID: 300, Name: "Max", Rank: guest},
	)

	assert.Equal(t, []int{260, 300, 410}, ids(f.dir.List()))
	assert.Equal(t, "Max", f.dir.FindByID(300).Name())
	assert.Nil(t, f.dir.FindByID(301))
	assert.Nil(t, f.dir.FindByID(100), "unused reserved id")
}

func TestDirectory_LoadFailurePropagates(t *testing.T) {
	ranks, err := rank.DefaultDefinitions().Build()
	require.NoError(t, err)
	backend := storetest.NewMemoryBackend()
	backend.FailLoad(oops.Errorf("disk on fire"))
	dir := directory.New(store.New(ranks, backend))

	_, err = dir.Load(context.Background())
	errutil.AssertErrorCode(t, err, store.CodeLoadFailed)
	assert.Nil(t, dir.Console())
}

func TestDirectory_ConsistencySweep(t *testing.T) {
	ranks, err := rank.DefaultDefinitions().Build()
	require.NoError(t, err)
	guest := ranks.FindRank("guest")
	clock := recordtest.NewClock(epoch)
	backend := storetest.NewMemoryBackend(
		record.Data{ID: 256, Name: "Griefer", Rank: guest, BanStatus: record.Banned,
			IsHidden: true, IsFrozen: true, FrozenBy: "Mod", MutedUntil: epoch.Add(time.Hour), MutedBy: "Mod"},
		record.Data{ID: 257, Name: "Spammer", Rank: guest, BanStatus: record.Banned,
			MutedUntil: epoch.Add(-time.Hour)},
		record.Data{ID: 258, Name: "Lurker", Rank: guest, IsHidden: true, IsFrozen: true},
	)
	dir := directory.New(store.New(ranks, backend, store.WithClock(clock)))

	res, err := dir.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, directory.SweepResult{Banned: 2, Unhidden: 1, Unfrozen: 1, Unmuted: 1}, res)

	griefer := dir.FindExact("griefer")
	assert.False(t, griefer.IsHidden())
	assert.False(t, griefer.IsFrozen())
	assert.False(t, griefer.IsMuted())
	assert.True(t, griefer.IsBanned())
	assert.True(t, griefer.Dirty(), "sweep corrections are persisted by the next save")

	assert.False(t, dir.FindExact("spammer").Dirty())

	lurker := dir.FindExact("lurker")
	assert.True(t, lurker.IsHidden(), "unbanned records keep their state")
	assert.True(t, lurker.IsFrozen())
}

func TestDirectory_FindOrCreateCreatesOnce(t *testing.T) {
	f := newFixture(t)
	var created []*directory.Created
	f.dir.Events().Created.Subscribe(event.Normal, func(ev *directory.Created) {
		created = append(created, ev)
	})

	rec, err := f.dir.FindOrCreateInfoForPlayer("Alice", addr)
	require.NoError(t, err)
	assert.Equal(t, store.FirstPlayerID, rec.ID())
	assert.Same(t, f.ranks.DefaultRank(), rec.Rank())
	assert.Equal(t, addr, rec.LastIP())

	again, err := f.dir.FindOrCreateInfoForPlayer("ALICE", addr)
	require.NoError(t, err)
	assert.Same(t, rec, again)

	require.Len(t, created, 1)
	assert.Same(t, rec, created[0].Record)
	assert.Equal(t, []string{"Alice"}, names(f.dir.List()))
	assert.Same(t, rec, f.dir.FindByID(rec.ID()))
}

func TestDirectory_FindOrCreateRejectsInvalidInput(t *testing.T) {
	f := newFixture(t)

	_, err := f.dir.FindOrCreateInfoForPlayer("no spaces", addr)
	errutil.AssertErrorCode(t, err, record.CodeInvalidArgument)

	_, err = f.dir.FindOrCreateInfoForPlayer("Alice", netip.Addr{})
	errutil.AssertErrorCode(t, err, store.CodeInvalidArgument)
	assert.Zero(t, f.dir.Count())
}

func TestDirectory_CreatingCanChangeStartingRank(t *testing.T) {
	f := newFixture(t)
	builder := f.ranks.FindRank("builder")
	f.dir.Events().Creating.Subscribe(event.Normal, func(ev *directory.Creating) {
		if ev.Name == "Trusted" {
			ev.StartingRank = builder
		}
	})

	recs := f.create(t, "Trusted", "Stranger")
	assert.Same(t, builder, recs[0].Rank())
	assert.Same(t, f.ranks.DefaultRank(), recs[1].Rank())
}

func TestDirectory_CreatingRankMustBelongToModel(t *testing.T) {
	f := newFixture(t)
	foreign := rank.New("foreign", rank.NewID())
	f.dir.Events().Creating.Subscribe(event.Normal, func(ev *directory.Creating) {
		ev.StartingRank = foreign
	})

	_, err := f.dir.FindOrCreateInfoForPlayer("Alice", addr)
	errutil.AssertErrorCode(t, err, directory.CodeInvalidArgument)
	assert.Zero(t, f.dir.Count())
}

func TestDirectory_CreatingCancelRejectsLogin(t *testing.T) {
	f := newFixture(t)
	createdFired := false
	f.dir.Events().Creating.Subscribe(event.High, func(ev *directory.Creating) {
		if ev.IP == addr {
			ev.Cancel()
		}
	})
	f.dir.Events().Created.Subscribe(event.Normal, func(*directory.Created) { createdFired = true })

	rec, err := f.dir.FindOrCreateInfoForPlayer("Alice", addr)
	assert.Nil(t, rec)
	errutil.AssertErrorCode(t, err, record.CodeCancelled)
	errutil.AssertErrorContext(t, err, "event", "creating")
	assert.False(t, createdFired)
	assert.Zero(t, f.dir.Count())
	assert.Nil(t, f.dir.FindExact("Alice"))

	rec, err = f.dir.FindOrCreateInfoForPlayer("Alice", netip.MustParseAddr("192.0.2.99"))
	require.NoError(t, err)
	assert.Equal(t, store.FirstPlayerID, rec.ID(), "a cancelled creation does not consume an id")
}

func TestDirectory_ConcurrentFindOrCreate(t *testing.T) {
	f := newFixture(t)
	var mu sync.Mutex
	createdCount := 0
	f.dir.Events().Created.Subscribe(event.Normal, func(*directory.Created) {
		mu.Lock()
		createdCount++
		mu.Unlock()
	})

	const workers = 32
	results := make([]*record.Record, workers)
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			name := "Player" + strconv.Itoa(i%4)
			rec, err := f.dir.FindOrCreateInfoForPlayer(name, addr)
			assert.NoError(t, err)
			results[i] = rec
		}()
	}
	wg.Wait()

	assert.Equal(t, 4, f.dir.Count())
	assert.Equal(t, 4, createdCount)
	for i, rec := range results {
		assert.Same(t, results[i%4], rec)
	}
	assert.IsIncreasing(t, ids(f.dir.List()))
}

func TestDirectory_SnapshotIsStable(t *testing.T) {
	f := newFixture(t)
	f.create(t, "Alice", "Bob")

	before := f.dir.List()
	f.create(t, "Carol")
	require.NoError(t, f.dir.Remove(f.dir.FindExact("Alice")))

	assert.Equal(t, []string{"Alice", "Bob"}, names(before), "earlier snapshots are unaffected")
	assert.Equal(t, []string{"Bob", "Carol"}, names(f.dir.List()))
	assert.Equal(t, 2, f.dir.Count())
	assert.Nil(t, f.dir.FindByID(store.FirstPlayerID))
}

func TestDirectory_FindPlayerInfoOrPrintMatches(t *testing.T) {
	f := newFixture(t)
	f.create(t, "Alice", "Alfred", "Bob", "Bobby")

	tests := []struct {
		name      string
		query     string
		wantName  string
		wantCode  string
		wantNames []string
	}{
		{name: "exact match", query: "alice", wantName: "Alice"},
		{name: "exact wins over prefix", query: "BOB", wantName: "Bob"},
		{name: "unique prefix", query: "bobb", wantName: "Bobby"},
		{name: "surrounding space ignored", query: "  alf ", wantName: "Alfred"},
		{name: "no match", query: "zed", wantCode: directory.CodeNoMatch},
		{name: "blank", query: "   ", wantCode: directory.CodeInvalidArgument},
		{name: "ambiguous", query: "al", wantCode: directory.CodeAmbiguousName, wantNames: []string{"Alice", "Alfred"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := f.dir.FindPlayerInfoOrPrintMatches(nil, tt.query)
			if tt.wantCode != "" {
				assert.Nil(t, rec)
				errutil.AssertErrorCode(t, err, tt.wantCode)
				if tt.wantNames != nil {
					errutil.AssertErrorContext(t, err, "candidates", tt.wantNames)
				}
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, rec.Name())
		})
	}
}

func TestDirectory_CandidateOrder(t *testing.T) {
	f := newFixture(t)
	recs := f.create(t, "Sam", "Sally", "Sandy", "Sara", "Saul")
	sam, sally, sandy, sara, saul := recs[0], recs[1], recs[2], recs[3], recs[4]
	console := f.dir.Console()

	require.NoError(t, sally.ProcessRankChange(f.ranks.FindRank("op"), "test", "", record.RankChangePromoted))
	require.NoError(t, sara.ProcessRankChange(f.ranks.FindRank("builder"), "test", "", record.RankChangePromoted))

	// Sandy is online but hidden. Saul and Sam left later, Sam last.
	require.NoError(t, sandy.ProcessLogin(recordtest.NewSession("192.0.2.3")))
	sandy.ProcessSetHidden(true)
	f.clock.Advance(time.Hour)
	require.NoError(t, saul.ProcessLogin(recordtest.NewSession("192.0.2.1")))
	saul.ProcessLogout(nil, record.LeaveClientQuit)
	f.clock.Advance(time.Hour)
	require.NoError(t, sam.ProcessLogin(recordtest.NewSession("192.0.2.2")))
	sam.ProcessLogout(nil, record.LeaveClientQuit)

	tests := []struct {
		name      string
		requester *record.Record
		want      []string
	}{
		{
			name: "anonymous requester does not see hidden players",
			want: []string{"Sally", "Sara", "Sam", "Saul", "Sandy"},
		},
		{
			name:      "requester that can see hidden players",
			requester: console,
			want:      []string{"Sandy", "Sally", "Sara", "Sam", "Saul"},
		},
		{
			name:      "hidden player sees themselves",
			requester: sandy,
			want:      []string{"Sandy", "Sally", "Sara", "Sam", "Saul"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, names(f.dir.Matches(tt.requester, "sa")))
		})
	}
}

func TestDirectory_CanSee(t *testing.T) {
	f := newFixture(t)
	recs := f.create(t, "Owner", "Op", "Guest", "Other")
	owner, op, guest, other := recs[0], recs[1], recs[2], recs[3]
	require.NoError(t, owner.ProcessRankChange(f.ranks.FindRank("owner"), "test", "", record.RankChangePromoted))
	require.NoError(t, op.ProcessRankChange(f.ranks.FindRank("op"), "test", "", record.RankChangePromoted))
	owner.ProcessSetHidden(true)
	guest.ProcessSetHidden(true)

	assert.True(t, f.dir.CanSee(other, op), "visible players are seen by everyone")
	assert.True(t, f.dir.CanSee(op, guest), "op may hide guests")
	assert.False(t, f.dir.CanSee(op, owner), "op may not affect owners")
	assert.False(t, f.dir.CanSee(other, guest))
	assert.True(t, f.dir.CanSee(guest, guest))
	assert.False(t, f.dir.CanSee(nil, guest))
}

func TestDirectory_PlayerMessage(t *testing.T) {
	f := newFixture(t)
	many := make([]string, 12)
	for i := range many {
		many[i] = "Clone" + strconv.Itoa(i+10)
	}
	f.create(t, many...)
	f.create(t, "Alice", "Alfred")

	_, err := f.dir.FindPlayerInfoOrPrintMatches(nil, "al")
	assert.Equal(t, `More than one player matches "al": Alice, Alfred.`, directory.PlayerMessage(err))

	_, err = f.dir.FindPlayerInfoOrPrintMatches(nil, "clone")
	msg := directory.PlayerMessage(err)
	assert.Contains(t, msg, "and 2 more.")
	assert.Contains(t, msg, "Clone10, Clone11")

	_, err = f.dir.FindPlayerInfoOrPrintMatches(nil, "nobody")
	assert.Equal(t, `No players found matching "nobody".`, directory.PlayerMessage(err))

	_, err = f.dir.FindOrCreateInfoForPlayer("bad name", addr)
	assert.Equal(t, record.PlayerMessage(err), directory.PlayerMessage(err))
}

func TestDirectory_AddUnrecognizedPlayer(t *testing.T) {
	f := newFixture(t)
	fired := 0
	f.dir.Events().Created.Subscribe(event.Normal, func(*directory.Created) { fired++ })

	rec, err := f.dir.AddUnrecognizedPlayer("Ghost", nil)
	require.NoError(t, err)
	assert.Same(t, f.ranks.DefaultRank(), rec.Rank())
	assert.False(t, rec.LastIP().IsValid())
	assert.Equal(t, 1, fired)
	assert.Same(t, rec, f.dir.FindByID(rec.ID()))

	_, err = f.dir.AddUnrecognizedPlayer("ghost", nil)
	errutil.AssertErrorCode(t, err, store.CodeDuplicateName)
	assert.Equal(t, 1, fired)
}

func TestDirectory_Delegations(t *testing.T) {
	f := newFixture(t)
	recs := f.create(t, "Alice", "Alfred", "Bob")
	alice, bob := recs[0], recs[2]

	assert.Same(t, bob, f.dir.FindExact("bob"))
	assert.Equal(t, []string{"Alfred", "Alice"}, names(f.dir.FindByPartialName("al", 0)))

	one, ambiguous := f.dir.FindOneByPartialName("al")
	assert.Nil(t, one)
	assert.True(t, ambiguous)

	assert.Len(t, f.dir.FindByIP(addr, 0), 3)

	matched, err := f.dir.FindByPattern("a*d", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"Alfred"}, names(matched))

	n, err := f.dir.MassRankChange(f.dir.Console(), f.ranks.DefaultRank(), f.ranks.FindRank("regular"), "cleanup")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	require.NoError(t, alice.ProcessRankChange(f.ranks.FindRank("builder"), "test", "", record.RankChangePromoted))
	require.NoError(t, f.dir.SwapInfo(alice, bob))
	assert.Equal(t, "builder", bob.Rank().Name())
	assert.Equal(t, "regular", alice.Rank().Name())
}

func TestDirectory_SaveUpdatesStats(t *testing.T) {
	f := newFixture(t)
	recs := f.create(t, "Alice", "Bob", "Carol")
	require.NoError(t, recs[0].ProcessBan("Mod", "griefing"))
	require.NoError(t, recs[1].ProcessLogin(recordtest.NewSession("192.0.2.5")))
	require.NoError(t, recs[2].ProcessMute("Mod", time.Minute))
	require.NoError(t, recs[2].ProcessRankChange(f.ranks.FindRank("builder"), "Mod", "", record.RankChangePromoted))

	require.NoError(t, f.dir.Save(context.Background()))
	require.NotNil(t, f.backend.LastBatch())
	assert.Len(t, f.backend.LastBatch().Changed, 3)

	stats := f.dir.Stats()
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 1, stats.Banned)
	assert.Equal(t, 1, stats.Online)
	assert.Equal(t, 1, stats.Muted)
	assert.Equal(t, 2, stats.ByRank["guest"])
	assert.Equal(t, 1, stats.ByRank["builder"])
	assert.Zero(t, stats.ByRank["owner"], "every rank is listed")
	assert.Contains(t, stats.ByRank, "owner")
}
