package mockserver

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ashureev/tripsync/internal/domain"
	"github.com/ashureev/tripsync/internal/job"
	"github.com/ashureev/tripsync/internal/progress"
	"github.com/ashureev/tripsync/internal/session"
	"github.com/ashureev/tripsync/internal/transport"
)

func TestOrchestratorAgainstServer(t *testing.T) {
	s, ts := newTestServer(t, WithJobSteps(3))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.StartJobWorker(ctx, 5*time.Millisecond)

	o := job.NewOrchestrator("trip-e2e", clientFor(ts, "alice"), job.WithPolling(10*time.Millisecond, 100))
	got, err := o.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.JobCompleted, got.Status)
	require.Len(t, got.Resources, 3)
	for _, p := range got.Resources {
		require.Len(t, p.Photos, 2)
	}
}

func TestOrchestratorRemediatesFailedJob(t *testing.T) {
	s, ts := newTestServer(t, WithJobSteps(1))
	c := clientFor(ts, "alice")
	ctx := context.Background()

	first, err := c.SubmitJob(ctx, "fail-trip")
	require.NoError(t, err)
	s.AdvanceJobs()

	wctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.StartJobWorker(wctx, 5*time.Millisecond)

	o := job.NewOrchestrator("fail-trip", c,
		job.WithPolling(10*time.Millisecond, 100),
		job.WithRemediationDelay(time.Millisecond))
	got, err := o.Run(ctx)
	require.Error(t, err)
	require.Equal(t, domain.JobFailed, got.Status)
	require.Equal(t, 1, got.RetryCount)
	require.NotEqual(t, first.ID, got.ID)
}

func TestReconcilerAgainstServer(t *testing.T) {
	_, ts := newTestServer(t)
	c := clientFor(ts, "alice")
	ctx := context.Background()

	r := session.New(c, c)
	_, err := r.Send(ctx, "Plan Kyoto in autumn")
	require.NoError(t, err)
	_, err = r.Send(ctx, "Add a tea ceremony")
	require.NoError(t, err)
	thread := r.ThreadID()
	require.NotEmpty(t, thread)

	other := session.New(c, c)
	require.NoError(t, other.SwitchTo(ctx, thread))
	snap := other.Snapshot()
	require.Len(t, snap.Messages, 4)
	for _, m := range snap.Messages {
		require.Equal(t, domain.MessageConfirmed, m.State)
	}

	require.NoError(t, r.Delete(ctx, thread))
	require.Empty(t, r.ThreadID())
	sessions, err := c.ListSessions(ctx)
	require.NoError(t, err)
	require.Empty(t, sessions)
}

func TestProgressAdapterAgainstServer(t *testing.T) {
	_, ts := newTestServer(t)
	c := clientFor(ts, "alice")
	ctx := context.Background()

	reply, err := c.SendChat(ctx, transport.ChatRequest{Content: "Where to surf in Portugal"})
	require.NoError(t, err)

	a := progress.NewAdapter(c.SSE())
	defer a.Close()

	var (
		mu  sync.Mutex
		got []int64
	)
	unsub, err := a.Subscribe(ctx, reply.ThreadID, func(ev domain.ProgressEvent) {
		mu.Lock()
		got = append(got, ev.Sequence)
		mu.Unlock()
	})
	require.NoError(t, err)
	defer unsub()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 6
	}, 3*time.Second, 10*time.Millisecond)
	require.Empty(t, a.ActiveSources(reply.ThreadID))
	require.Equal(t, int64(6), a.HighWater(reply.ThreadID))
}
