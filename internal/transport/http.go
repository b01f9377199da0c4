package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/ashureev/tripsync/internal/domain"
	"github.com/ashureev/tripsync/internal/shared"
)

const apiPrefix = "/api/v1"

// Client talks to the travel backend over HTTP. It implements JobTransport,
// PhotoLister, ChatTransport and SessionTransport. Every failure it returns
// is a *shared.Error.
type Client struct {
	baseURL       string
	http          *http.Client
	stream        *http.Client
	tokenProvider TokenProvider
	headers       map[string]string
	logger        *slog.Logger
}

var (
	_ JobTransport     = (*Client)(nil)
	_ PhotoLister      = (*Client)(nil)
	_ ChatTransport    = (*Client)(nil)
	_ SessionTransport = (*Client)(nil)
)

// New constructs a client for the backend at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    &http.Client{},
		stream:  &http.Client{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.http.Transport != nil {
		c.stream.Transport = c.http.Transport
	}
	return c
}

// BaseURL returns the normalized backend URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

type galleryDTO struct {
	ID           string `json:"id"`
	TripID       string `json:"trip_id"`
	Title        string `json:"title,omitempty"`
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message,omitempty"`
}

func (g galleryDTO) record() (JobRecord, error) {
	status, ok := domain.ParseJobStatus(g.Status)
	if !ok {
		return JobRecord{}, shared.New(shared.KindOther, "bad_status", fmt.Sprintf("unknown job status %q", g.Status))
	}
	return JobRecord{ID: g.ID, OwnerKey: g.TripID, Status: status, Error: g.ErrorMessage}, nil
}

type listEnvelope[T any] struct {
	Data  []T `json:"data"`
	Count int `json:"count"`
}

// SubmitJob starts gallery generation for ownerKey.
func (c *Client) SubmitJob(ctx context.Context, ownerKey string) (JobRecord, error) {
	var out galleryDTO
	uri := fmt.Sprintf("%s/photo-gallery/generate/%s", apiPrefix, url.PathEscape(ownerKey))
	if err := c.doJSON(ctx, http.MethodPost, uri, nil, &out); err != nil {
		return JobRecord{}, err
	}
	return out.record()
}

// GetJob fetches the current state of a job.
func (c *Client) GetJob(ctx context.Context, jobID string) (JobRecord, error) {
	var out galleryDTO
	uri := fmt.Sprintf("%s/photo-gallery/%s", apiPrefix, url.PathEscape(jobID))
	if err := c.doJSON(ctx, http.MethodGet, uri, nil, &out); err != nil {
		return JobRecord{}, err
	}
	return out.record()
}

// DeleteJob removes a job and its resources.
func (c *Client) DeleteJob(ctx context.Context, jobID string) error {
	uri := fmt.Sprintf("%s/photo-gallery/%s", apiPrefix, url.PathEscape(jobID))
	return c.doJSON(ctx, http.MethodDelete, uri, nil, nil)
}

// FindJob returns the job held by ownerKey, or a not_found error.
func (c *Client) FindJob(ctx context.Context, ownerKey string) (JobRecord, error) {
	var out listEnvelope[galleryDTO]
	uri := fmt.Sprintf("%s/photo-gallery/trip/%s", apiPrefix, url.PathEscape(ownerKey))
	if err := c.doJSON(ctx, http.MethodGet, uri, nil, &out); err != nil {
		return JobRecord{}, err
	}
	if len(out.Data) == 0 {
		return JobRecord{}, shared.New(shared.KindOther, "not_found", "no gallery for "+ownerKey)
	}
	return out.Data[0].record()
}

// ListSubResources lists the places of a completed gallery.
func (c *Client) ListSubResources(ctx context.Context, jobID string) ([]domain.GalleryPlace, error) {
	var out listEnvelope[domain.GalleryPlace]
	uri := fmt.Sprintf("%s/photo-gallery/%s/places", apiPrefix, url.PathEscape(jobID))
	if err := c.doJSON(ctx, http.MethodGet, uri, nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// ListPlacePhotos lists the photos of one gallery place.
func (c *Client) ListPlacePhotos(ctx context.Context, jobID, placeID string) ([]domain.GalleryPhoto, error) {
	var out listEnvelope[domain.GalleryPhoto]
	uri := fmt.Sprintf("%s/photo-gallery/%s/places/%s/photos", apiPrefix, url.PathEscape(jobID), url.PathEscape(placeID))
	if err := c.doJSON(ctx, http.MethodGet, uri, nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

type chatRequestDTO struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
}

type chatResponseDTO struct {
	Response       string `json:"response"`
	ConversationID string `json:"conversation_id"`
}

// SendChat sends one user turn.
func (c *Client) SendChat(ctx context.Context, req ChatRequest) (ChatReply, error) {
	var out chatResponseDTO
	in := chatRequestDTO{Message: req.Content, ConversationID: req.ThreadID}
	if err := c.doJSON(ctx, http.MethodPost, apiPrefix+"/ai-travel/chat", in, &out); err != nil {
		return ChatReply{}, err
	}
	return ChatReply{Content: out.Response, ThreadID: out.ConversationID}, nil
}

// ListSessions lists the caller's conversations.
func (c *Client) ListSessions(ctx context.Context) ([]domain.SessionSummary, error) {
	var out listEnvelope[domain.SessionSummary]
	if err := c.doJSON(ctx, http.MethodGet, apiPrefix+"/conversations", nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// GetMessages returns the transcript of a conversation, earliest first.
func (c *Client) GetMessages(ctx context.Context, threadID string) ([]domain.ServerMessage, error) {
	var out listEnvelope[domain.ServerMessage]
	uri := fmt.Sprintf("%s/conversations/%s/messages", apiPrefix, url.PathEscape(threadID))
	if err := c.doJSON(ctx, http.MethodGet, uri, nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// DeleteSession deletes a conversation server-side.
func (c *Client) DeleteSession(ctx context.Context, threadID string) error {
	uri := fmt.Sprintf("%s/conversations/%s", apiPrefix, url.PathEscape(threadID))
	return c.doJSON(ctx, http.MethodDelete, uri, nil, nil)
}

func (c *Client) doJSON(ctx context.Context, method, uri string, in, out any) error {
	req, err := c.newRequest(ctx, method, uri, in)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("request failed", "method", method, "uri", uri, "error", err)
		return classifyError(err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Debug("failed to close response body", "error", cerr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		herr := &HTTPError{StatusCode: resp.StatusCode, Status: resp.Status, Body: strings.TrimSpace(string(b))}
		return classifyResponse(herr)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return classifyError(fmt.Errorf("decode %s %s: %w", method, uri, err))
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, uri string, in any) (*http.Request, error) {
	var body io.Reader
	if in != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(in); err != nil {
			return nil, shared.Wrap(shared.KindOther, err, "encode request")
		}
		body = buf
	}
	full, err := c.resolve(uri)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, full, body)
	if err != nil {
		return nil, shared.Wrap(shared.KindOther, err, "build request")
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if err := c.authorize(ctx, req.Header); err != nil {
		return nil, err
	}
	return req, nil
}

func (c *Client) resolve(uri string) (string, error) {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return "", shared.Wrap(shared.KindOther, err, "invalid base url")
	}
	rel, err := url.Parse(uri)
	if err != nil {
		return "", shared.Wrap(shared.KindOther, err, "invalid request path")
	}
	return base.ResolveReference(rel).String(), nil
}

func (c *Client) authorize(ctx context.Context, h http.Header) error {
	for k, v := range c.headers {
		h.Set(k, v)
	}
	if c.tokenProvider == nil {
		return nil
	}
	tok, err := c.tokenProvider(ctx)
	if err != nil {
		return shared.Wrap(shared.KindPermissionDenied, err, "credential unavailable")
	}
	if tok = strings.TrimSpace(tok); tok != "" {
		h.Set("Authorization", "Bearer "+tok)
	}
	return nil
}
