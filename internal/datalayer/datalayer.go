// Package datalayer holds the latest known gateway state and owns the log
// tailer. The UI polls Refresh on a timer and drains logs between polls.
package datalayer

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"clawdash/internal/authstore"
	"clawdash/internal/gateway"
	"clawdash/internal/logtail"
)

var errNoFetcher = errors.New("no status fetcher configured")

type StatusFetcher interface {
	FetchModelStatus(ctx context.Context) (gateway.ModelStatus, error)
}

type HealthFetcher interface {
	FetchGatewayHealth(ctx context.Context) gateway.Health
}

type ProfileReader interface {
	Read(now time.Time) []authstore.Profile
}

type Options struct {
	Status   StatusFetcher
	Health   HealthFetcher
	Profiles ProfileReader
	Queue    *logtail.Queue
	// Tailer is optional; without it DrainLogs only sees what was pushed
	// onto Queue directly.
	Tailer *logtail.Tailer
	Now    func() time.Time
}

// Snapshot is a consistent copy of everything the layer holds.
type Snapshot struct {
	Status      gateway.ModelStatus
	HasStatus   bool
	Profiles    []authstore.Profile
	Health      gateway.Health
	HasHealth   bool
	LastSuccess time.Time
	LastAttempt time.Time
	LastErr     error
	ReadAt      time.Time
}

// Stale reports that the held status is older than the most recent attempt.
func (s Snapshot) Stale() bool {
	return s.HasStatus && s.LastErr != nil
}

type DataLayer struct {
	opts Options

	mu       sync.RWMutex
	status   gateway.ModelStatus
	has      bool
	profiles []authstore.Profile
	readAt   time.Time
	health   gateway.Health
	hasHP    bool
	okAt     time.Time
	tryAt    time.Time
	lastErr  error
}

func New(opts Options) *DataLayer {
	if opts.Queue == nil {
		opts.Queue = logtail.NewQueue(logtail.DefaultQueueCapacity)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &DataLayer{opts: opts}
}

// Start launches the tailer, if any.
func (d *DataLayer) Start(ctx context.Context) {
	if d.opts.Tailer != nil {
		d.opts.Tailer.Start(ctx)
	}
}

// Stop asks the tailer to exit and waits for it.
func (d *DataLayer) Stop() {
	if d.opts.Tailer != nil {
		d.opts.Tailer.Stop()
	}
}

// Refresh re-fetches the model status, keeping the previous snapshot when
// the fetch fails, and always re-reads auth profiles. The returned error is
// the status fetch's.
func (d *DataLayer) Refresh(ctx context.Context) error {
	var (
		status gateway.ModelStatus
		err    = errNoFetcher
	)
	if d.opts.Status != nil {
		status, err = d.opts.Status.FetchModelStatus(ctx)
	}
	now := d.opts.Now()
	var profiles []authstore.Profile
	if d.opts.Profiles != nil {
		profiles = d.opts.Profiles.Read(now)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.tryAt = now
	d.lastErr = err
	if err == nil {
		d.status = status
		d.has = true
		d.okAt = now
	} else {
		log.Debug().Err(err).Msg("model status refresh failed; keeping previous snapshot")
	}
	d.profiles = profiles
	d.readAt = now
	return err
}

// RefreshHealth re-runs the health check. It never fails; an unreachable
// gateway is recorded as StateErr.
func (d *DataLayer) RefreshHealth(ctx context.Context) gateway.Health {
	h := gateway.Health{State: gateway.StateErr}
	if d.opts.Health != nil {
		h = d.opts.Health.FetchGatewayHealth(ctx)
	}
	d.mu.Lock()
	d.health, d.hasHP = h, true
	d.mu.Unlock()
	return h
}

// DrainLogs returns everything queued since the last drain, oldest first.
func (d *DataLayer) DrainLogs() []logtail.Event {
	return d.opts.Queue.Drain()
}

// Rotation is empty until the first successful fetch.
func (d *DataLayer) Rotation() []gateway.RotationEntry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Clone(d.status.Rotation)
}

func (d *DataLayer) DefaultModel() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.status.DefaultModel
}

func (d *DataLayer) Profiles() []authstore.Profile {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Clone(d.profiles)
}

func (d *DataLayer) Snapshot() Snapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	st := d.status
	st.Rotation = slices.Clone(st.Rotation)
	st.OAuthProfiles = slices.Clone(st.OAuthProfiles)
	return Snapshot{
		Status:      st,
		HasStatus:   d.has,
		Profiles:    slices.Clone(d.profiles),
		Health:      d.health,
		HasHealth:   d.hasHP,
		LastSuccess: d.okAt,
		LastAttempt: d.tryAt,
		LastErr:     d.lastErr,
		ReadAt:      d.readAt,
	}
}

func (d *DataLayer) TailerState() logtail.State {
	if d.opts.Tailer == nil {
		return logtail.StateStopped
	}
	return d.opts.Tailer.State()
}

// Dropped is how many log events were discarded because the queue was full.
func (d *DataLayer) Dropped() uint64 {
	return d.opts.Queue.Dropped()
}
