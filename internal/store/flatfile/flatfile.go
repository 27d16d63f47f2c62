// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package flatfile stores records in a single versioned CSV file.
//
// The first line is a header of the form "playerdb,<version>,<max id>".
// Every following line is one record. Saves write a temporary file next to
// the canonical one and rename it into place, keeping the previous file as
// "<name>.bak".
package flatfile

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/samber/oops"

	"github.com/holomush/playerdb/internal/store"
)

// Backend is the flat file store.Backend.
type Backend struct {
	path    string
	version int
	logger  *slog.Logger
}

var _ store.Backend = (*Backend)(nil)

// Option configures a Backend.
type Option func(*Backend)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Backend) {
		if l != nil {
			b.logger = l
		}
	}
}

// withVersion writes an older layout. Only tests use it.
func withVersion(v int) Option {
	return func(b *Backend) { b.version = v }
}

// New creates a backend for the file at path.
func New(path string, opts ...Option) *Backend {
	b := &Backend{path: path, version: CurrentVersion, logger: slog.Default()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name implements store.Backend.
func (b *Backend) Name() string { return "flatfile" }

// Path returns the canonical file path.
func (b *Backend) Path() string { return b.path }

// BackupPath returns where the previous file is kept after a save.
func (b *Backend) BackupPath() string { return b.path + ".bak" }

// Load implements store.Backend. A missing file means nothing has been
// stored yet. Lines that cannot be decoded are skipped and logged.
func (b *Backend) Load(ctx context.Context, ranks store.RankResolver) (*store.Dataset, error) {
	f, err := os.Open(b.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, oops.In("flatfile").With("path", b.path).Wrapf(err, "open record file")
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(bufio.NewReader(f))
	r.FieldsPerRecord = -1
	r.ReuseRecord = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, oops.In("flatfile").With("path", b.path).Wrapf(err, "read header")
	}
	version, maxID, err := parseHeader(header)
	if err != nil {
		return nil, oops.In("flatfile").With("path", b.path).Wrap(err)
	}

	layout := version
	switch {
	case version > CurrentVersion:
		b.logger.Warn("record file was written by a newer version, reading known columns only",
			"path", b.path, "version", version, "supported", CurrentVersion)
		layout = CurrentVersion
	case version < CurrentVersion:
		b.logger.Info("upgrading legacy record file", "path", b.path, "version", version, "current", CurrentVersion)
	}

	ds := &store.Dataset{Version: version, MaxID: maxID}
	for {
		if err := ctx.Err(); err != nil {
			return nil, oops.In("flatfile").Wrap(err)
		}
		fields, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			b.logger.Warn("skipping unreadable line", "path", b.path, "line", parseErr.Line, "error", parseErr.Err)
			continue
		}
		if err != nil {
			return nil, oops.In("flatfile").With("path", b.path).Wrapf(err, "read records")
		}

		s, err := decode(fields, layout)
		if err != nil {
			line, _ := r.FieldPos(0)
			b.logger.Warn("skipping corrupt record", "path", b.path, "line", line, "error", err)
			continue
		}
		s.data.Rank = store.ResolveRank(ranks, s.rank, false, b.logger, s.data.Name)
		s.data.PreviousRank = store.ResolveRank(ranks, s.previousRank, true, b.logger, s.data.Name)
		ds.Records = append(ds.Records, s.data)
	}
	return ds, nil
}

func parseHeader(header []string) (version, maxID int, err error) {
	if len(header) < 3 || header[0] != headerMagic {
		return 0, 0, oops.Errorf("not a record file header")
	}
	version, err = strconv.Atoi(header[1])
	if err != nil || version < 1 {
		return 0, 0, oops.With("version", header[1]).Errorf("invalid format version")
	}
	maxID, err = strconv.Atoi(header[2])
	if err != nil || maxID < 0 {
		return 0, 0, oops.With("max_id", header[2]).Errorf("invalid max id")
	}
	return version, maxID, nil
}

// Save implements store.Backend. It writes every record in batch.All; the
// file on disk is only replaced once the new one is complete.
func (b *Backend) Save(ctx context.Context, batch *store.Batch) error {
	if err := ctx.Err(); err != nil {
		return oops.In("flatfile").Wrap(err)
	}
	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return oops.In("flatfile").With("dir", dir).Wrapf(err, "create data directory")
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(b.path)+".*.tmp")
	if err != nil {
		return oops.In("flatfile").With("dir", dir).Wrapf(err, "create temporary file")
	}
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if err := b.write(tmp, batch); err != nil {
		return oops.In("flatfile").With("path", tmp.Name()).Wrapf(err, "write records")
	}
	if err := tmp.Sync(); err != nil {
		return oops.In("flatfile").With("path", tmp.Name()).Wrapf(err, "sync records")
	}
	if err := tmp.Close(); err != nil {
		return oops.In("flatfile").With("path", tmp.Name()).Wrapf(err, "close records")
	}

	if err := b.backup(); err != nil {
		b.logger.Warn("could not keep backup of record file", "path", b.path, "error", err)
	}
	if err := os.Rename(tmp.Name(), b.path); err != nil {
		return oops.In("flatfile").With("path", b.path).Wrapf(err, "replace record file")
	}
	committed = true
	return nil
}

func (b *Backend) write(f io.Writer, batch *store.Batch) error {
	bw := bufio.NewWriter(f)
	w := csv.NewWriter(bw)
	if err := w.Write([]string{headerMagic, strconv.Itoa(b.version), strconv.Itoa(batch.MaxID)}); err != nil {
		return err
	}
	for _, d := range batch.All {
		if err := w.Write(encode(d, b.version)); err != nil {
			return oops.With("player", d.Name).Wrap(err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return bw.Flush()
}

// backup replaces the .bak file with the current canonical file. A hard
// link keeps the canonical file in place; copying is the fallback for
// filesystems without links.
func (b *Backend) backup() error {
	if _, err := os.Stat(b.path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	bak := b.BackupPath()
	if err := os.Remove(bak); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if err := os.Link(b.path, bak); err == nil {
		return nil
	}
	return copyFile(b.path, bak)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// Close implements store.Backend.
func (b *Backend) Close() error { return nil }
