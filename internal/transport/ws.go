package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/ashureev/tripsync/internal/shared"
)

// WSStream opens agent progress streams over a websocket.
type WSStream struct {
	c *Client
}

var _ ProgressStream = (*WSStream)(nil)

// WS returns a websocket progress stream sharing the client's base URL and
// credentials.
func (c *Client) WS() *WSStream {
	return &WSStream{c: c}
}

// Open dials the websocket agent stream for key.
func (s *WSStream) Open(ctx context.Context, key string) (FrameReader, error) {
	if strings.TrimSpace(key) == "" {
		return nil, shared.New(shared.KindOther, "invalid_key", "stream key is required")
	}
	full, err := s.c.resolve(fmt.Sprintf("%s/ai-travel/agent-ws/%s", apiPrefix, url.PathEscape(key)))
	if err != nil {
		return nil, err
	}
	u, err := url.Parse(full)
	if err != nil {
		return nil, shared.Wrap(shared.KindOther, err, "invalid stream url")
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}

	header := http.Header{}
	if err := s.c.authorize(ctx, header); err != nil {
		return nil, err
	}

	conn, resp, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		HTTPClient: s.c.stream,
		HTTPHeader: header,
	})
	if err != nil {
		if resp != nil && (resp.StatusCode < 200 || resp.StatusCode > 299) {
			return nil, classifyResponse(&HTTPError{StatusCode: resp.StatusCode, Status: resp.Status})
		}
		return nil, classifyError(err)
	}

	readCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	return &wsReader{conn: conn, ctx: readCtx, cancel: cancel}, nil
}

type wsReader struct {
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
	closeErr  error
}

func (w *wsReader) Recv() (Frame, error) {
	var wf wireFrame
	if err := wsjson.Read(w.ctx, w.conn, &wf); err != nil {
		if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
			return Frame{}, io.EOF
		}
		return Frame{}, classifyError(err)
	}
	return wf.frame(), nil
}

func (w *wsReader) Close() error {
	w.closeOnce.Do(func() {
		w.closeErr = w.conn.Close(websocket.StatusNormalClosure, "unsubscribed")
		w.cancel()
	})
	return w.closeErr
}

// IsEndOfStream reports whether err marks a clean end of a progress stream.
func IsEndOfStream(err error) bool {
	return errors.Is(err, io.EOF)
}
