package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/require"
)

func TestWSStreamReadsFrames(t *testing.T) {
	authCh := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authCh <- r.Header.Get("Authorization")
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		ctx := r.Context()
		_ = wsjson.Write(ctx, conn, map[string]any{"seq": 1, "agent_type": "planner", "event_type": "start"})
		_ = wsjson.Write(ctx, conn, map[string]any{"seq": 2, "agent_type": "planner", "event_type": "complete"})
		_ = conn.Close(websocket.StatusNormalClosure, "done")
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	reader, err := New(srv.URL, WithTokenProvider(staticToken("tok"))).WS().Open(ctx, "sess-1")
	require.NoError(t, err)
	defer reader.Close()

	require.Equal(t, "Bearer tok", <-authCh)

	f, err := reader.Recv()
	require.NoError(t, err)
	require.Equal(t, int64(1), f.Seq)
	require.Equal(t, "start", f.Type)

	f, err = reader.Recv()
	require.NoError(t, err)
	require.Equal(t, int64(2), f.Seq)

	_, err = reader.Recv()
	require.True(t, IsEndOfStream(err))
}
