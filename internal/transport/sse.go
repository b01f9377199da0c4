package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/ashureev/tripsync/internal/shared"
)

// ResumableStream is implemented by streams that can ask the server to
// replay frames after a known sequence number.
type ResumableStream interface {
	OpenAfter(ctx context.Context, key string, lastSeq int64) (FrameReader, error)
}

// wireFrame is the JSON payload of one agent-stream frame.
type wireFrame struct {
	Seq       int64          `json:"seq,omitempty"`
	AgentType string         `json:"agent_type,omitempty"`
	AgentName string         `json:"agent_name,omitempty"`
	EventType string         `json:"event_type"`
	Message   string         `json:"message,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

func (w wireFrame) frame() Frame {
	src := w.AgentType
	if src == "" {
		src = w.AgentName
	}
	return Frame{Seq: w.Seq, SourceID: src, Type: w.EventType, Message: w.Message, Data: w.Data}
}

// maxSSEFrame bounds a single stream line and the data of one frame.
const maxSSEFrame = 1 << 20

// errFrameTooLarge is returned when a frame exceeds maxSSEFrame.
var errFrameTooLarge = shared.New(shared.KindOther, "frame_too_large", "stream frame exceeds size limit")

// SSEStream opens agent progress streams over server-sent events.
type SSEStream struct {
	c *Client
}

var (
	_ ProgressStream  = (*SSEStream)(nil)
	_ ResumableStream = (*SSEStream)(nil)
)

// SSE returns a progress stream sharing the client's base URL and credentials.
func (c *Client) SSE() *SSEStream {
	return &SSEStream{c: c}
}

// Open connects to the agent stream for key.
func (s *SSEStream) Open(ctx context.Context, key string) (FrameReader, error) {
	return s.OpenAfter(ctx, key, 0)
}

// OpenAfter connects and asks the server to replay frames after lastSeq.
func (s *SSEStream) OpenAfter(ctx context.Context, key string, lastSeq int64) (FrameReader, error) {
	if strings.TrimSpace(key) == "" {
		return nil, shared.New(shared.KindOther, "invalid_key", "stream key is required")
	}
	uri := fmt.Sprintf("%s/ai-travel/agent-stream/%s", apiPrefix, url.PathEscape(key))
	ctx, cancel := context.WithCancel(ctx)
	req, err := s.c.newRequest(ctx, http.MethodGet, uri, nil)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	if lastSeq > 0 {
		req.Header.Set("Last-Event-ID", strconv.FormatInt(lastSeq, 10))
	}
	resp, err := s.c.stream.Do(req)
	if err != nil {
		cancel()
		return nil, classifyError(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer cancel()
		defer resp.Body.Close()
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return nil, classifyResponse(&HTTPError{StatusCode: resp.StatusCode, Status: resp.Status, Body: strings.TrimSpace(string(b))})
	}
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 4096), maxSSEFrame)
	return &sseReader{body: resp.Body, sc: sc, cancel: cancel}, nil
}

type sseReader struct {
	body   io.ReadCloser
	sc     *bufio.Scanner
	cancel context.CancelFunc

	closeOnce sync.Once
	closeErr  error
}

// Recv blocks until the next data frame. It returns io.EOF when the server
// ends the stream.
func (s *sseReader) Recv() (Frame, error) {
	var (
		id    string
		event string
		data  strings.Builder
	)
	for {
		if !s.sc.Scan() {
			err := s.sc.Err()
			switch {
			case err == nil:
				return Frame{}, io.EOF
			case errors.Is(err, bufio.ErrTooLong):
				return Frame{}, errFrameTooLarge
			}
			return Frame{}, classifyError(err)
		}
		line := s.sc.Text()

		if line == "" {
			if data.Len() == 0 {
				id, event = "", ""
				continue
			}
			return decodeSSE(id, event, data.String())
		}

		switch {
		case strings.HasPrefix(line, ":"):
			// comment / keep-alive
		case strings.HasPrefix(line, "id:"):
			id = strings.TrimSpace(strings.TrimPrefix(line, "id:"))
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			chunk := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data.Len()+len(chunk)+1 > maxSSEFrame {
				return Frame{}, errFrameTooLarge
			}
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(chunk)
		}
	}
}

func decodeSSE(id, event, payload string) (Frame, error) {
	var w wireFrame
	if err := json.Unmarshal([]byte(payload), &w); err != nil {
		return Frame{}, shared.Wrap(shared.KindOther, err, "malformed stream frame")
	}
	if w.EventType == "" {
		w.EventType = event
	}
	f := w.frame()
	if id != "" {
		if seq, err := strconv.ParseInt(id, 10, 64); err == nil {
			f.Seq = seq
		}
	}
	return f, nil
}

func (s *sseReader) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.closeErr = s.body.Close()
	})
	return s.closeErr
}
