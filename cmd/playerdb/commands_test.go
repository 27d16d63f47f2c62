// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/playerdb/internal/directory"
	"github.com/holomush/playerdb/internal/rank"
	"github.com/holomush/playerdb/internal/record"
	"github.com/holomush/playerdb/pkg/errutil"
)

func TestAdmin_Actions(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "players.dat")
	seed(t, path, "Alice", "Bob")

	res := run(t, "admin", "ban", "ali", "--reason", "griefing", "--storage-path", path)
	require.NoError(t, res.err, res.stderr)
	assert.Contains(t, res.stdout, "Alice is now banned.")

	res = run(t, "admin", "mute", "Bob", "--for", "1h", "--storage-path", path)
	require.NoError(t, res.err, res.stderr)

	res = run(t, "admin", "rank", "Bob", "builder", "--reason", "trusted", "--storage-path", path)
	require.NoError(t, res.err, res.stderr)
	assert.Contains(t, res.stdout, "Bob is now builder.")

	dir := openFile(t, path)
	alice := dir.FindExact("Alice")
	require.NotNil(t, alice)
	assert.True(t, alice.IsBanned())
	assert.Equal(t, "griefing", alice.Snapshot().BanReason)

	bob := dir.FindExact("Bob")
	require.NotNil(t, bob)
	assert.True(t, bob.IsMuted())
	assert.Greater(t, bob.MuteRemaining(), 59*time.Minute)
	assert.Equal(t, "builder", bob.Rank().Name(), "rank survives a reload with the built-in ranks")
}

func TestAdmin_ReportsPlayerFacingErrors(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "players.dat")
	seed(t, path, "Alice", "Alfred")

	res := run(t, "admin", "freeze", "al", "--storage-path", path)
	errutil.AssertErrorCode(t, res.err, directory.CodeAmbiguousName)
	assert.Contains(t, res.stderr, `More than one player matches "al"`)
	assert.Contains(t, res.stderr, "Alfred")

	res = run(t, "admin", "freeze", "zed", "--storage-path", path)
	errutil.AssertErrorCode(t, res.err, directory.CodeNoMatch)

	res = run(t, "admin", "unban", "Alice", "--storage-path", path)
	errutil.AssertErrorCode(t, res.err, record.CodeNotBanned)

	res = run(t, "admin", "rank", "Alice", "emperor", "--storage-path", path)
	errutil.AssertErrorCode(t, res.err, rank.CodeNotFound)
}

func TestAdmin_RequireReason(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "players.dat")
	seed(t, path, "Alice")

	res := run(t, "admin", "ban", "Alice", "--require-reason", "ban", "--storage-path", path)
	errutil.AssertErrorCode(t, res.err, record.CodeReasonRequired)
	assert.False(t, openFile(t, path).FindExact("Alice").IsBanned())

	res = run(t, "admin", "ban", "Alice", "--require-reason", "ban", "--reason", "spam", "--storage-path", path)
	require.NoError(t, res.err, res.stderr)
}

func TestStats_JSON(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "players.dat")
	seed(t, path, "Alice", "Bob", "Carol")
	require.NoError(t, run(t, "admin", "ban", "Carol", "--storage-path", path).err)

	res := run(t, "stats", "--json", "--storage-path", path)
	require.NoError(t, res.err, res.stderr)

	var got statsOutput
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &got))
	assert.Equal(t, 3, got.Total)
	assert.Equal(t, 1, got.Banned)
	assert.Equal(t, 3, got.ByRank["guest"])
	assert.Equal(t, 0, got.ByRank["owner"])
}

func TestStats_Table(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "players.dat")
	seed(t, path, "Alice")

	res := run(t, "stats", "--storage-path", path)
	require.NoError(t, res.err, res.stderr)
	assert.Regexp(t, `total\s+1`, res.stdout)
	assert.Regexp(t, `rank guest\s+1`, res.stdout)
}

func TestConvert_FlatFileToFlatFile(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	from := filepath.Join(dir, "old.dat")
	to := filepath.Join(dir, "new.dat")
	seed(t, from, "Alice", "Bob")

	res := run(t, "convert", "--to", "flatfile", "--storage-path", from, "--to-path", to)
	require.NoError(t, res.err, res.stderr)
	assert.Contains(t, res.stdout, "Converted 2 records from flatfile to flatfile")

	src := openFile(t, from)
	dst := openFile(t, to)
	assert.Equal(t, src.Store().MaxID(), dst.Store().MaxID())
	require.NotNil(t, dst.FindExact("Alice"))
	assert.Equal(t, src.FindExact("Alice").ID(), dst.FindExact("Alice").ID())
}

func TestConvert_RejectsBadTargets(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "players.dat")
	seed(t, path, "Alice")

	res := run(t, "convert", "--to", "flatfile", "--storage-path", path)
	require.Error(t, res.err)
	assert.Contains(t, res.err.Error(), "same file")

	res = run(t, "convert", "--to", "postgres", "--storage-path", path)
	require.Error(t, res.err)
	assert.Contains(t, res.err.Error(), "storage.database_url")

	res = run(t, "convert", "--storage-path", path)
	require.Error(t, res.err, "--to is required")
}

func TestRanks_InitShowCheck(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "conf", "ranks.yaml")

	res := run(t, "ranks", "init", path)
	require.NoError(t, res.err, res.stderr)
	assert.Contains(t, res.stdout, "Wrote 5 ranks")

	res = run(t, "ranks", "init", path)
	errutil.AssertErrorCode(t, res.err, "FILE_EXISTS")
	require.NoError(t, run(t, "ranks", "init", path, "--force").err)

	res = run(t, "ranks", "check", path)
	require.NoError(t, res.err, res.stderr)
	assert.Contains(t, res.stdout, "5 ranks, default guest")

	res = run(t, "ranks", "show", "--ranks-file", path, "--default-rank", "regular")
	require.NoError(t, res.err, res.stderr)
	assert.Contains(t, res.stdout, "regular (default)")
	assert.Contains(t, res.stdout, "builtin-owner")
	assert.Regexp(t, `owner\s+builtin-owner\s+\+\s+\*`, res.stdout)
}

func TestRanks_CheckReportsProblems(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "ranks.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ranks:\n  - name: solo\n    permissions: [fly]\n"), 0o600))

	res := run(t, "ranks", "check", path)
	errutil.AssertErrorCode(t, res.err, rank.CodeInvalidDefinitions)
}

func TestServe_SavesOnShutdown(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "players.dat")
	seed(t, path, "Alice")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cmd := NewRootCmd()
	var stdout, stderr lockedBuffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs([]string{"serve", "--storage-path", path, "--metrics-addr=", "--log-format", "text"})

	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	require.Eventually(t, func() bool {
		return strings.Contains(stderr.String(), "player directory ready")
	}, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop")
	}
	assert.Contains(t, stderr.String(), "player records saved")
	assert.NotNil(t, openFile(t, path).FindExact("Alice"))
}
