package profiler

import (
	"context"
	"errors"
	"slices"
	"time"
)

// SaveOption tunes a Save call.
type SaveOption func(*saveOptions)

type saveOptions struct {
	cleanup bool
}

// WithoutCleanup keeps the recorded spans, errors and extras after Save.
func WithoutCleanup() SaveOption {
	return func(o *saveOptions) { o.cleanup = false }
}

var errNoStorage = errors.New("no storage configured")

// Save persists the recorded profile.
//
// Open spans are closed first, innermost first. Unless WithoutCleanup is
// given, the in-memory state is reset as soon as the snapshot exists,
// whether or not persistence later succeeds. A profile without spans is
// skipped, and a hook returning nil cancels the save; neither is an error.
func (p *Profiler) Save(ctx context.Context, opts ...SaveOption) (SaveResult, error) {
	o := saveOptions{cleanup: true}
	for _, opt := range opts {
		opt(&o)
	}

	p.mu.Lock()
	storage := p.storage
	if storage == nil {
		p.mu.Unlock()
		return SaveResult{}, &ConfigurationError{Op: "save", Err: errNoStorage}
	}
	if len(p.entries) == 0 {
		p.mu.Unlock()
		return SaveResult{Status: StatusSkipped}, nil
	}
	now := p.clock.Now()
	for len(p.open) > 0 {
		p.stopLocked(now)
	}
	snap := p.snapshotLocked()
	if o.cleanup {
		p.resetLocked()
	}
	hook := p.hook
	p.mu.Unlock()

	if hook != nil {
		snap = hook(snap)
		if snap == nil {
			p.logger.Debug().Str("identifier", p.identifier).Msg("Save cancelled by hook")
			return SaveResult{Status: StatusCancelled}, nil
		}
	}

	if err := normalize(snap, p.logger); err != nil {
		return SaveResult{}, err
	}

	id, err := p.persist(ctx, storage, snap)
	if err != nil {
		return SaveResult{}, err
	}

	p.logger.Debug().
		Int64("profile_id", id).
		Str("identifier", snap.Identifier).
		Int("entries", len(snap.Entries)).
		Float64("duration", snap.Duration).
		Msg("Profile saved")
	return SaveResult{
		Status:    StatusSaved,
		ProfileID: id,
		Entries:   len(snap.Entries),
		Errors:    len(snap.Errors),
	}, nil
}

// snapshotLocked copies the recorded state; the hook may mutate the result
// freely.
func (p *Profiler) snapshotLocked() *Snapshot {
	root := p.entries[0]
	return &Snapshot{
		ExecutionContext: p.contextFn(),
		Identifier:       p.identifier,
		Group:            p.group,
		Start:            root.Start,
		Duration:         root.Duration,
		MemoryPeak:       p.memory.PeakBytes(),
		Entries:          slices.Clone(p.entries),
		EntriesCount:     len(p.entries),
		Errors:           slices.Clone(p.errors),
		Extras:           slices.Clone(p.extras),
	}
}

// persist writes the snapshot and its metrics in one transaction.
func (p *Profiler) persist(ctx context.Context, storage Storage, snap *Snapshot) (int64, error) {
	started := time.Now()
	ctx, err := storage.BeginTransaction(ctx)
	if err != nil {
		return 0, storageErr("begin transaction", err)
	}

	id, err := p.write(ctx, storage, snap)
	if err != nil {
		if rbErr := storage.RollbackTransaction(ctx); rbErr != nil {
			p.logger.Warn().Err(rbErr).AnErr("cause", err).Msg("Rollback failed")
		}
		return 0, err
	}

	if err := storage.CommitTransaction(ctx); err != nil {
		if rbErr := storage.RollbackTransaction(ctx); rbErr != nil {
			p.logger.Warn().Err(rbErr).AnErr("cause", err).Msg("Rollback after failed commit failed")
		}
		return 0, storageErr("commit transaction", err)
	}
	p.logger.Trace().Dur("elapsed", time.Since(started)).Msg("Transaction committed")
	return id, nil
}

func (p *Profiler) write(ctx context.Context, storage Storage, snap *Snapshot) (int64, error) {
	id, err := storage.SaveProfileInfo(ctx, snap)
	if err != nil {
		return 0, storageErr("save profile info", err)
	}
	if err := storage.SaveProfileEntries(ctx, id, snap.Entries); err != nil {
		return 0, storageErr("save profile entries", err)
	}

	profile := Sample(snap.Identifier, MetricTypeProfile, snap.Group, id, snap.Duration, snap.MemoryPeak)
	if err := storage.SaveProfileMetric(ctx, profile); err != nil {
		return 0, storageErr("save profile metric", err)
	}
	for _, h := range aggregateHits(snap.Entries) {
		if err := storage.SaveProfileMetric(ctx, h.update(id)); err != nil {
			return 0, storageErr("save entry metric", err)
		}
	}
	return id, nil
}
