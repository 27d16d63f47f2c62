// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/playerdb/internal/config"
	"github.com/holomush/playerdb/internal/record"
	"github.com/holomush/playerdb/internal/store"
)

type convertOptions struct {
	from   string
	to     string
	toPath string
}

// NewConvertCmd creates the convert subcommand.
func NewConvertCmd() *cobra.Command {
	opts := &convertOptions{}
	cmd := &cobra.Command{
		Use:   "convert",
		Short: "Copy every player record from one backend to another",
		Long: `Load every record with the --from backend and write them all with the
--to backend. Connection settings come from the storage configuration;
--to-path names the destination file when both sides are flat files.`,
		Example: `  playerdb convert --from flatfile --to postgres --database-url postgres://localhost/game
  playerdb convert --from flatfile --to flatfile --storage-path old.dat --to-path new.dat`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConvert(cmd.Context(), cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.from, "from", "", "source backend (default: the configured backend)")
	cmd.Flags().StringVar(&opts.to, "to", "", "destination backend")
	cmd.Flags().StringVar(&opts.toPath, "to-path", "", "destination file for the flatfile backend")
	_ = cmd.MarkFlagRequired("to") //nolint:errcheck // flag is defined above

	return cmd
}

func runConvert(ctx context.Context, cmd *cobra.Command, opts *convertOptions) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := setupLogging(cmd, cfg)
	if err != nil {
		return err
	}

	src := cfg.Storage
	if opts.from != "" {
		src.Backend = opts.from
	}
	dst := cfg.Storage
	dst.Backend = opts.to
	if opts.toPath != "" {
		dst.Path = opts.toPath
	}
	for _, side := range []*config.StorageConfig{&src, &dst} {
		if err := side.ResolveDefaults(); err != nil {
			return err
		}
		if problems := side.Problems(); len(problems) > 0 {
			return oops.In("cli").
				Code(config.CodeInvalidConfig).
				With("problems", problems).
				Errorf("cannot convert: %s", strings.Join(problems, "; "))
		}
	}
	if src.Backend == config.BackendFlatFile && dst.Backend == config.BackendFlatFile && src.Path == dst.Path {
		return oops.In("cli").
			Code(config.CodeInvalidConfig).
			With("path", src.Path).
			Errorf("source and destination are the same file; pass --to-path")
	}

	ranks, err := loadRanks(cfg.Ranks)
	if err != nil {
		return err
	}

	source, err := openBackend(ctx, src, logger)
	if err != nil {
		return err
	}
	st := store.New(ranks, source, store.WithLogger(logger))
	defer func() { _ = st.Close() }() //nolint:errcheck // read-only side
	records, err := st.Load(ctx)
	if err != nil {
		return err
	}

	data := make([]record.Data, len(records))
	for i, rec := range records {
		data[i] = rec.Snapshot()
	}

	target, err := openBackend(ctx, dst, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := target.Close(); closeErr != nil {
			logger.Warn("close destination backend", "error", closeErr)
		}
	}()

	batch := &store.Batch{MaxID: st.MaxID(), All: data, Changed: data}
	if err := target.Save(ctx, batch); err != nil {
		return oops.In("cli").
			Code(store.CodeSaveFailed).
			With("from", src.Backend).
			With("to", dst.Backend).
			Wrapf(err, "write converted records")
	}

	cmd.Printf("Converted %d records from %s to %s (next id %d)\n",
		len(data), source.Name(), target.Name(), st.MaxID()+1)
	return nil
}
