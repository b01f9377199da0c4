package mockserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ashureev/tripsync/internal/domain"
	"github.com/ashureev/tripsync/internal/shared"
	"github.com/ashureev/tripsync/internal/transport"
)

func seqIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

func newTestServer(t *testing.T, opts ...Option) (*Server, *httptest.Server) {
	t.Helper()
	base := []Option{WithIDGenerator(seqIDs()), WithKeepalive(20 * time.Millisecond)}
	s := New(append(base, opts...)...)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.Close()
		ts.Close()
	})
	return s, ts
}

func clientFor(ts *httptest.Server, token string) *transport.Client {
	return transport.New(ts.URL, transport.WithTokenProvider(func(context.Context) (string, error) {
		return token, nil
	}))
}

func TestUnauthenticatedRequestsRejected(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/v1/conversations")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	health, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer health.Body.Close()
	require.Equal(t, http.StatusOK, health.StatusCode)
}

func TestGalleryLifecycle(t *testing.T) {
	s, ts := newTestServer(t, WithJobSteps(3))
	c := clientFor(ts, "alice")
	ctx := context.Background()

	rec, err := c.SubmitJob(ctx, "trip-1")
	require.NoError(t, err)
	require.Equal(t, domain.JobPending, rec.Status)
	require.Equal(t, "trip-1", rec.OwnerKey)

	require.Equal(t, 1, s.AdvanceJobs())
	got, err := c.GetJob(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, domain.JobProcessing, got.Status)

	_, err = c.ListSubResources(ctx, rec.ID)
	require.Error(t, err)

	s.AdvanceJobs()
	s.AdvanceJobs()
	got, err = c.GetJob(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, domain.JobCompleted, got.Status)
	require.Equal(t, 0, s.AdvanceJobs())

	places, err := c.ListSubResources(ctx, rec.ID)
	require.NoError(t, err)
	require.Len(t, places, 3)
	require.Empty(t, places[0].Photos)

	photos, err := c.ListPlacePhotos(ctx, rec.ID, places[0].ID)
	require.NoError(t, err)
	require.Len(t, photos, 2)

	_, err = c.ListPlacePhotos(ctx, rec.ID, "missing")
	require.True(t, errors.Is(err, shared.ErrOther))
}

func TestGenerateTwiceIsLegacyAlreadyExists(t *testing.T) {
	_, ts := newTestServer(t)
	c := clientFor(ts, "alice")
	ctx := context.Background()

	first, err := c.SubmitJob(ctx, "trip-1")
	require.NoError(t, err)

	_, err = c.SubmitJob(ctx, "trip-1")
	require.True(t, errors.Is(err, shared.ErrAlreadyExists), "got %v", err)

	found, err := c.FindJob(ctx, "trip-1")
	require.NoError(t, err)
	require.Equal(t, first.ID, found.ID)

	require.NoError(t, c.DeleteJob(ctx, first.ID))
	_, err = c.FindJob(ctx, "trip-1")
	require.Equal(t, "not_found", shared.Classify(err).Code)

	again, err := c.SubmitJob(ctx, "trip-1")
	require.NoError(t, err)
	require.NotEqual(t, first.ID, again.ID)
}

func TestForeignTripIsForbidden(t *testing.T) {
	_, ts := newTestServer(t)
	alice, bob := clientFor(ts, "alice"), clientFor(ts, "bob")
	ctx := context.Background()

	rec, err := alice.SubmitJob(ctx, "trip-1")
	require.NoError(t, err)

	_, err = bob.SubmitJob(ctx, "trip-1")
	require.True(t, errors.Is(err, shared.ErrPermissionDenied), "got %v", err)
	_, err = bob.GetJob(ctx, rec.ID)
	require.True(t, errors.Is(err, shared.ErrPermissionDenied), "got %v", err)
	_, err = bob.FindJob(ctx, "trip-1")
	require.True(t, errors.Is(err, shared.ErrPermissionDenied), "got %v", err)
	_, err = bob.SSE().Open(ctx, "trip-1")
	require.True(t, errors.Is(err, shared.ErrPermissionDenied), "got %v", err)
}

func TestFailPrefixEndsInFailure(t *testing.T) {
	s, ts := newTestServer(t, WithJobSteps(1))
	c := clientFor(ts, "alice")
	ctx := context.Background()

	rec, err := c.SubmitJob(ctx, "fail-trip")
	require.NoError(t, err)
	s.AdvanceJobs()

	got, err := c.GetJob(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, domain.JobFailed, got.Status)
	require.NotEmpty(t, got.Error)
}

func TestChatAndConversations(t *testing.T) {
	_, ts := newTestServer(t)
	c := clientFor(ts, "alice")
	ctx := context.Background()

	first, err := c.SendChat(ctx, transport.ChatRequest{Content: "Three days in Porto"})
	require.NoError(t, err)
	require.NotEmpty(t, first.ThreadID)

	second, err := c.SendChat(ctx, transport.ChatRequest{Content: "Add a food tour", ThreadID: first.ThreadID})
	require.NoError(t, err)
	require.Equal(t, first.ThreadID, second.ThreadID)

	sessions, err := c.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.Equal(t, "Three days in Porto", sessions[0].Title)
	require.Equal(t, second.Content, sessions[0].LastMessage)

	msgs, err := c.GetMessages(ctx, first.ThreadID)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	require.Equal(t, domain.RoleUser, msgs[0].Role)
	require.Equal(t, "Add a food tour", msgs[2].Content)

	other, err := clientFor(ts, "bob").GetMessages(ctx, first.ThreadID)
	require.Nil(t, other)
	require.True(t, errors.Is(err, shared.ErrPermissionDenied), "got %v", err)

	require.NoError(t, c.DeleteSession(ctx, first.ThreadID))
	_, err = c.GetMessages(ctx, first.ThreadID)
	require.Equal(t, "not_found", shared.Classify(err).Code)
}

func TestChatRejectsEmptyMessage(t *testing.T) {
	_, ts := newTestServer(t)
	_, err := clientFor(ts, "alice").SendChat(context.Background(), transport.ChatRequest{Content: "  "})
	require.True(t, errors.Is(err, shared.ErrOther), "got %v", err)
}

// collect reads frames until n data frames arrived. Control frames are
// skipped.
func collect(t *testing.T, r transport.FrameReader, n int) []transport.Frame {
	t.Helper()
	var out []transport.Frame
	deadline := time.Now().Add(3 * time.Second)
	for len(out) < n {
		require.True(t, time.Now().Before(deadline), "timed out after %d frames", len(out))
		f, err := r.Recv()
		require.NoError(t, err)
		if domain.IsControlFrame(f.Type) {
			continue
		}
		out = append(out, f)
	}
	return out
}

func TestSSEReplaysAfterLastEventID(t *testing.T) {
	_, ts := newTestServer(t)
	c := clientFor(ts, "alice")
	ctx := context.Background()

	reply, err := c.SendChat(ctx, transport.ChatRequest{Content: "Weekend in Rome"})
	require.NoError(t, err)

	r, err := c.SSE().OpenAfter(ctx, reply.ThreadID, 2)
	require.NoError(t, err)
	defer r.Close()

	frames := collect(t, r, 4)
	var seqs []int64
	for _, f := range frames {
		seqs = append(seqs, f.Seq)
	}
	require.Equal(t, []int64{3, 4, 5, 6}, seqs)
	require.Equal(t, "search", frames[0].SourceID)
	require.Equal(t, "complete", frames[3].Type)
}

func TestSSEDeliversLiveEvents(t *testing.T) {
	s, ts := newTestServer(t, WithJobSteps(2))
	c := clientFor(ts, "alice")
	ctx := context.Background()

	r, err := c.SSE().Open(ctx, "trip-live")
	require.NoError(t, err)
	defer r.Close()

	_, err = c.SubmitJob(ctx, "trip-live")
	require.NoError(t, err)
	s.AdvanceJobs()
	s.AdvanceJobs()

	frames := collect(t, r, 3)
	require.Equal(t, "start", frames[0].Type)
	require.Equal(t, "tool_call", frames[1].Type)
	require.Equal(t, "complete", frames[2].Type)
	require.Equal(t, "gallery", frames[2].SourceID)
}

func TestWebSocketStream(t *testing.T) {
	s, ts := newTestServer(t, WithJobSteps(2))
	c := clientFor(ts, "alice")
	ctx := context.Background()

	r, err := c.WS().Open(ctx, "trip-ws")
	require.NoError(t, err)
	defer r.Close()

	_, err = c.SubmitJob(ctx, "trip-ws")
	require.NoError(t, err)
	s.AdvanceJobs()

	frames := collect(t, r, 2)
	require.Equal(t, int64(1), frames[0].Seq)
	require.Equal(t, int64(2), frames[1].Seq)
	require.Equal(t, "tool_call", frames[1].Type)
}

func TestDeletedConversationEndsStream(t *testing.T) {
	_, ts := newTestServer(t)
	c := clientFor(ts, "alice")
	ctx := context.Background()

	reply, err := c.SendChat(ctx, transport.ChatRequest{Content: "Lisbon"})
	require.NoError(t, err)
	r, err := c.SSE().Open(ctx, reply.ThreadID)
	require.NoError(t, err)
	defer r.Close()
	collect(t, r, 6)

	require.NoError(t, c.DeleteSession(ctx, reply.ThreadID))
	for {
		_, err := r.Recv()
		if err != nil {
			require.True(t, transport.IsEndOfStream(err), "got %v", err)
			return
		}
	}
}
