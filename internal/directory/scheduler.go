// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package directory

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/holomush/playerdb/pkg/errutil"
)

// SaveSchedule configures periodic persistence.
type SaveSchedule struct {
	// Interval between saves.
	Interval time.Duration
	// Jitter is the largest random delay added to each interval.
	Jitter time.Duration
	// RetryBase is the first backoff after a failed save.
	RetryBase time.Duration
	// MaxBackoff caps the backoff between retries.
	MaxBackoff time.Duration
	// MaxRetries is how many times a failed save is retried before waiting
	// for the next interval.
	MaxRetries uint64
}

// DefaultSaveSchedule saves every minute.
func DefaultSaveSchedule() SaveSchedule {
	return SaveSchedule{
		Interval:   time.Minute,
		Jitter:     5 * time.Second,
		RetryBase:  time.Second,
		MaxBackoff: 30 * time.Second,
		MaxRetries: 5,
	}
}

// Validate reports a schedule the saver cannot run.
func (s SaveSchedule) Validate() error {
	switch {
	case s.Interval <= 0:
		return oops.In("directory").Code(CodeInvalidArgument).With("interval", s.Interval).Errorf("save interval must be positive")
	case s.Jitter < 0:
		return oops.In("directory").Code(CodeInvalidArgument).With("jitter", s.Jitter).Errorf("save jitter must not be negative")
	case s.RetryBase <= 0:
		return oops.In("directory").Code(CodeInvalidArgument).With("retry_base", s.RetryBase).Errorf("retry base must be positive")
	case s.MaxBackoff < s.RetryBase:
		return oops.In("directory").Code(CodeInvalidArgument).With("max_backoff", s.MaxBackoff).Errorf("max backoff must be at least the retry base")
	default:
		return nil
	}
}

// Saver persists a directory on a schedule.
type Saver struct {
	dir      *Directory
	schedule SaveSchedule
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// StartSaving begins periodic saves of d until Stop is called or ctx ends.
func (d *Directory) StartSaving(ctx context.Context, schedule SaveSchedule) (*Saver, error) {
	if err := schedule.Validate(); err != nil {
		return nil, err
	}
	s := &Saver{dir: d, schedule: schedule}
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.run(ctx)
	return s, nil
}

// Stop ends the schedule, waits for a save in progress and performs a
// final save with ctx.
func (s *Saver) Stop(ctx context.Context) error {
	s.cancel()
	s.wg.Wait()
	if err := s.dir.Save(ctx); err != nil {
		return oops.In("directory").Wrapf(err, "final save")
	}
	return nil
}

func (s *Saver) run(ctx context.Context) {
	defer s.wg.Done()

	timer := time.NewTimer(s.next())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			if err := s.saveWithRetry(ctx); err != nil && ctx.Err() == nil {
				errutil.LogError(s.dir.logger, "scheduled save failed", err)
			}
			timer.Reset(s.next())
		}
	}
}

func (s *Saver) next() time.Duration {
	if s.schedule.Jitter <= 0 {
		return s.schedule.Interval
	}
	return s.schedule.Interval + rand.N(s.schedule.Jitter)
}

// saveWithRetry retries failed saves with capped exponential backoff.
// Dirty flags survive a failed save, so each attempt writes everything
// still pending.
func (s *Saver) saveWithRetry(ctx context.Context) error {
	backoff := retry.WithMaxRetries(s.schedule.MaxRetries,
		retry.WithCappedDuration(s.schedule.MaxBackoff, retry.NewExponential(s.schedule.RetryBase)))
	attempt := 0
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if err := s.dir.Save(ctx); err != nil {
			if attempt <= int(s.schedule.MaxRetries) {
				errutil.LogWarn(s.dir.logger, "save failed, retrying", err, "attempt", attempt)
			}
			return retry.RetryableError(err)
		}
		return nil
	})
}
