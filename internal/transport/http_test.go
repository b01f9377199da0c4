package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ashureev/tripsync/internal/domain"
	"github.com/ashureev/tripsync/internal/shared"
)

func staticToken(tok string) TokenProvider {
	return func(context.Context) (string, error) { return tok, nil }
}

func TestClientSubmitJobForwardsBearer(t *testing.T) {
	var gotAuth, gotPath, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		gotMethod = r.Method
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "g1", "trip_id": "trip-1", "status": "processing"})
	}))
	defer srv.Close()

	client := New(srv.URL, WithTokenProvider(staticToken("secret")))
	rec, err := client.SubmitJob(context.Background(), "trip-1")
	require.NoError(t, err)
	require.Equal(t, "Bearer secret", gotAuth)
	require.Equal(t, http.MethodPost, gotMethod)
	require.Equal(t, "/api/v1/photo-gallery/generate/trip-1", gotPath)
	require.Equal(t, JobRecord{ID: "g1", OwnerKey: "trip-1", Status: domain.JobProcessing}, rec)
}

func TestClientSubmitJobLegacyAlreadyExists(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"detail":"Photo gallery already exists for this trip"}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL).SubmitJob(context.Background(), "trip-2")
	require.Error(t, err)
	require.True(t, errors.Is(err, shared.ErrAlreadyExists))
}

func TestClientGetJobUnknownStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"g1","trip_id":"t","status":"exploded"}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL).GetJob(context.Background(), "g1")
	require.Error(t, err)
	require.Equal(t, shared.KindOther, shared.KindOf(err))
}

func TestClientFindJob(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/photo-gallery/trip/trip-1":
			_, _ = w.Write([]byte(`{"data":[{"id":"g9","trip_id":"trip-1","status":"failed","error_message":"boom"}],"count":1}`))
		default:
			_, _ = w.Write([]byte(`{"data":[],"count":0}`))
		}
	}))
	defer srv.Close()

	client := New(srv.URL)
	rec, err := client.FindJob(context.Background(), "trip-1")
	require.NoError(t, err)
	require.Equal(t, "g9", rec.ID)
	require.Equal(t, domain.JobFailed, rec.Status)
	require.Equal(t, "boom", rec.Error)

	_, err = client.FindJob(context.Background(), "trip-x")
	require.True(t, errors.Is(err, &shared.Error{Kind: shared.KindOther, Code: "not_found"}))
}

func TestClientPlacesAndPhotos(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/photo-gallery/g1/places":
			_, _ = w.Write([]byte(`{"data":[{"id":"p1","place_name":"Louvre","priority":1}],"count":1}`))
		case "/api/v1/photo-gallery/g1/places/p1/photos":
			_, _ = w.Write([]byte(`{"data":[{"id":"ph1","url":"https://img/1"}],"count":1}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client := New(srv.URL)
	places, err := client.ListSubResources(context.Background(), "g1")
	require.NoError(t, err)
	require.Len(t, places, 1)
	require.Equal(t, "Louvre", places[0].Name)

	photos, err := client.ListPlacePhotos(context.Background(), "g1", "p1")
	require.NoError(t, err)
	require.Len(t, photos, 1)
	require.Equal(t, "https://img/1", photos[0].URL)
}

func TestClientSendChat(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"response":"Bonjour","conversation_id":"t-42"}`))
	}))
	defer srv.Close()

	client := New(srv.URL)
	reply, err := client.SendChat(context.Background(), ChatRequest{Content: "Plan Paris"})
	require.NoError(t, err)
	require.Equal(t, ChatReply{Content: "Bonjour", ThreadID: "t-42"}, reply)
	require.Equal(t, "Plan Paris", got["message"])
	_, hasID := got["conversation_id"]
	require.False(t, hasID, "fresh session must not send a conversation id")

	_, err = client.SendChat(context.Background(), ChatRequest{Content: "again", ThreadID: "t-42"})
	require.NoError(t, err)
	require.Equal(t, "t-42", got["conversation_id"])
}

func TestClientSessions(t *testing.T) {
	var deleted string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/conversations":
			_, _ = w.Write([]byte(`{"data":[{"id":"t1","title":"Paris","updated_at":"2026-01-02T03:04:05Z"}],"count":1}`))
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/conversations/t1/messages":
			_, _ = w.Write([]byte(`{"data":[{"id":"m1","role":"user","content":"hi","created_at":"2026-01-02T03:04:05Z"}]}`))
		case r.Method == http.MethodDelete:
			deleted = r.URL.Path
			w.WriteHeader(http.StatusNoContent)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client := New(srv.URL)
	sessions, err := client.ListSessions(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.Equal(t, "Paris", sessions[0].Title)

	msgs, err := client.GetMessages(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, domain.RoleUser, msgs[0].Role)

	require.NoError(t, client.DeleteSession(context.Background(), "t1"))
	require.Equal(t, "/api/v1/conversations/t1", deleted)
}

func TestClientNetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := New(url).GetJob(context.Background(), "g1")
	require.Error(t, err)
	require.True(t, shared.IsRetryable(err))
}

func TestClientTokenProviderFailure(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))
	defer srv.Close()

	client := New(srv.URL, WithTokenProvider(func(context.Context) (string, error) {
		return "", errors.New("signed out")
	}))
	_, err := client.GetJob(context.Background(), "g1")
	require.True(t, errors.Is(err, shared.ErrPermissionDenied))
	require.False(t, called)
}
