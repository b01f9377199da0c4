package transport

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSSEStreamReadsFrames(t *testing.T) {
	var lastEventID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/ai-travel/agent-stream/sess-1", r.URL.Path)
		lastEventID = r.Header.Get("Last-Event-ID")
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "retry: 5000\n\n")
		_, _ = io.WriteString(w, `data: {"event_type":"connected","message":"Connected to agent stream"}`+"\n\n")
		_, _ = io.WriteString(w, ": keep-alive\n")
		_, _ = io.WriteString(w, "id: 7\nevent: start\n")
		_, _ = io.WriteString(w, `data: {"agent_type":"planner","agent_name":"Planner","event_type":"start","message":"go","data":{"step":1}}`+"\n\n")
		_, _ = io.WriteString(w, "id: 8\r\n")
		_, _ = io.WriteString(w, `data: {"agent_name":"Scout","event_type":"complete"}`+"\r\n\r\n")
	}))
	defer srv.Close()

	reader, err := New(srv.URL).SSE().OpenAfter(context.Background(), "sess-1", 6)
	require.NoError(t, err)
	defer reader.Close()

	f, err := reader.Recv()
	require.NoError(t, err)
	require.Equal(t, "connected", f.Type)
	require.Zero(t, f.Seq)

	f, err = reader.Recv()
	require.NoError(t, err)
	require.Equal(t, int64(7), f.Seq)
	require.Equal(t, "planner", f.SourceID)
	require.Equal(t, "start", f.Type)
	require.Equal(t, float64(1), f.Data["step"])

	f, err = reader.Recv()
	require.NoError(t, err)
	require.Equal(t, int64(8), f.Seq)
	require.Equal(t, "Scout", f.SourceID)

	_, err = reader.Recv()
	require.True(t, IsEndOfStream(err))
	require.Equal(t, "6", lastEventID)
}

func TestSSEStreamRejectedOpen(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"forbidden"}`, http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := New(srv.URL).SSE().Open(context.Background(), "sess-1")
	require.Error(t, err)
	require.Equal(t, "permission_denied", string(classifyError(err).Kind))
}

func TestSSEStreamRejectsOversizedFrame(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "id: 1\ndata: "+strings.Repeat("x", maxSSEFrame+16)+"\n\n")
	}))
	defer srv.Close()

	reader, err := New(srv.URL).SSE().Open(context.Background(), "sess-1")
	require.NoError(t, err)
	defer reader.Close()

	_, err = reader.Recv()
	require.ErrorIs(t, err, errFrameTooLarge)
	require.False(t, IsEndOfStream(err))
}
