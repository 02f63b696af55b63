package datalayer

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clawdash/internal/authstore"
	"clawdash/internal/gateway"
	"clawdash/internal/logtail"
)

type scriptedStatus struct {
	results []gateway.ModelStatus
	errs    []error
	calls   int
}

func (s *scriptedStatus) FetchModelStatus(context.Context) (gateway.ModelStatus, error) {
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return gateway.ModelStatus{}, s.errs[i]
	}
	if i < len(s.results) {
		return s.results[i], nil
	}
	return gateway.ModelStatus{}, errors.New("exhausted")
}

type countingProfiles struct {
	reads int
	seen  []time.Time
}

func (c *countingProfiles) Read(now time.Time) []authstore.Profile {
	c.reads++
	c.seen = append(c.seen, now)
	return []authstore.Profile{{ProfileID: "groq:default", Provider: "groq"}}
}

type fixedHealth gateway.Health

func (h fixedHealth) FetchGatewayHealth(context.Context) gateway.Health { return gateway.Health(h) }

func statusFor(t *testing.T, doc string) gateway.ModelStatus {
	t.Helper()
	st, err := gateway.DecodeModelStatus(doc)
	require.NoError(t, err)
	return st
}

func TestEmptyBeforeFirstFetch(t *testing.T) {
	d := New(Options{})
	assert.Empty(t, d.Rotation())
	assert.Empty(t, d.DefaultModel())
	assert.Empty(t, d.DrainLogs())

	snap := d.Snapshot()
	assert.False(t, snap.HasStatus)
	assert.False(t, snap.Stale())
	assert.Equal(t, logtail.StateStopped, d.TailerState())
}

func TestRefresh_FailureKeepsPriorSnapshot(t *testing.T) {
	first := statusFor(t, `{"defaultModel":"groq/llama","fallbacks":["ollama/qwen3"]}`)
	fetch := &scriptedStatus{
		results: []gateway.ModelStatus{first},
		errs:    []error{nil, gateway.ErrNoJSON},
	}
	profiles := &countingProfiles{}
	clock := time.UnixMilli(1_700_000_000_000)
	d := New(Options{Status: fetch, Profiles: profiles, Now: func() time.Time { return clock }})

	require.NoError(t, d.Refresh(context.Background()))
	before := d.Rotation()
	require.Len(t, before, 2)
	assert.Equal(t, "groq/llama", d.DefaultModel())

	clock = clock.Add(2 * time.Second)
	err := d.Refresh(context.Background())
	assert.ErrorIs(t, err, gateway.ErrNoJSON)

	assert.Equal(t, before, d.Rotation())
	assert.Equal(t, "groq/llama", d.DefaultModel())
	assert.Equal(t, 2, profiles.reads, "profiles re-read even when the status fetch fails")

	snap := d.Snapshot()
	assert.True(t, snap.Stale())
	assert.Equal(t, time.UnixMilli(1_700_000_000_000), snap.LastSuccess)
	assert.Equal(t, clock, snap.LastAttempt)
	assert.Len(t, snap.Profiles, 1)
}

func TestRefresh_SuccessReplaces(t *testing.T) {
	fetch := &scriptedStatus{results: []gateway.ModelStatus{
		statusFor(t, `{"defaultModel":"a/one","fallbacks":["b/two"]}`),
		statusFor(t, `{"defaultModel":"b/two"}`),
	}}
	d := New(Options{Status: fetch})

	require.NoError(t, d.Refresh(context.Background()))
	require.NoError(t, d.Refresh(context.Background()))
	rot := d.Rotation()
	require.Len(t, rot, 1)
	assert.Equal(t, "b/two", rot[0].ModelID)
	assert.False(t, d.Snapshot().Stale())
}

func TestRotationIsACopy(t *testing.T) {
	fetch := &scriptedStatus{results: []gateway.ModelStatus{statusFor(t, `{"defaultModel":"a/one"}`)}}
	d := New(Options{Status: fetch})
	require.NoError(t, d.Refresh(context.Background()))

	rot := d.Rotation()
	rot[0].ModelID = "mutated"
	assert.Equal(t, "a/one", d.Rotation()[0].ModelID)
}

func TestRefreshHealth(t *testing.T) {
	assert.Equal(t, gateway.StateErr, New(Options{}).RefreshHealth(context.Background()).State)

	d := New(Options{Health: fixedHealth{State: gateway.StateRun, PID: "4242"}})
	h := d.RefreshHealth(context.Background())
	assert.Equal(t, gateway.StateRun, h.State)
	assert.True(t, d.Snapshot().HasHealth)
	assert.Equal(t, "4242", d.Snapshot().Health.PID)
}

func TestDrainLogsOrderAndIdempotence(t *testing.T) {
	q := logtail.NewQueue(3)
	d := New(Options{Queue: q})
	for _, msg := range []string{"a", "b", "c", "d"} {
		q.Push(logtail.Event{Message: msg})
	}
	got := d.DrainLogs()
	require.Len(t, got, 3)
	assert.Equal(t, "a", got[0].Message)
	assert.Equal(t, "c", got[2].Message)
	assert.Equal(t, uint64(1), d.Dropped())
	assert.Empty(t, d.DrainLogs())
	assert.Empty(t, d.DrainLogs())
}

func TestStartStopWithTailer(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	q := logtail.NewQueue(10)
	tl := logtail.NewTailer(q, logtail.Options{
		Dir:      dir,
		FileWait: 10 * time.Millisecond,
		IdleWait: 5 * time.Millisecond,
		Now:      func() time.Time { return now },
	})
	d := New(Options{Queue: q, Tailer: tl})
	d.Start(context.Background())

	require.Eventually(t, func() bool { return d.TailerState() == logtail.StateWaitingForFile }, time.Second, 5*time.Millisecond)

	line := `{"1":"switched","_meta":{"logLevelName":"info","name":"{\"subsystem\":\"gateway/model\"}"},"time":"2026-03-01T12:00:01.000Z"}` + "\n"
	require.NoError(t, os.WriteFile(logtail.PathFor(dir, now), []byte(line), 0o600))

	var got []logtail.Event
	require.Eventually(t, func() bool {
		got = append(got, d.DrainLogs()...)
		return len(got) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "model", got[0].Subsystem)
	assert.True(t, got[0].Important)

	d.Stop()
	assert.Equal(t, logtail.StateStopped, d.TailerState())
}
