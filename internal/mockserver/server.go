// Package mockserver is an in-memory stand-in for the travel backend. It
// serves the gallery, chat, conversation and agent progress endpoints the
// client engine talks to, including the backend's legacy error shapes.
package mockserver

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/ashureev/tripsync/internal/clock"
	"github.com/ashureev/tripsync/internal/domain"
	"github.com/ashureev/tripsync/internal/identity"
	"github.com/ashureev/tripsync/internal/middleware"
)

// defaultMaxRequestBodySize is the default maximum allowed request body size (1MB).
const defaultMaxRequestBodySize = 1 << 20

type gallery struct {
	ID           string
	TripID       string
	Owner        string
	Title        string
	Status       domain.JobStatus
	ErrorMessage string
	Steps        int
	Places       []domain.GalleryPlace
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type conversation struct {
	ID        string
	Owner     string
	Title     string
	Messages  []domain.ServerMessage
	UpdatedAt time.Time
}

// Server holds all mock backend state.
type Server struct {
	logger             *slog.Logger
	clk                clock.Clock
	newID              func() string
	jobSteps           int
	failPrefix         string
	keepalive          time.Duration
	allowedOrigins     []string
	maxRequestBodySize int64

	mu            sync.Mutex
	galleries     map[string]*gallery
	byTrip        map[string]string
	tripOwners    map[string]string
	conversations map[string]*conversation

	events *eventLog
}

// New creates a mock backend.
func New(opts ...Option) *Server {
	s := &Server{
		logger:             slog.Default(),
		clk:                clock.Real{},
		newID:              uuid.NewString,
		jobSteps:           3,
		failPrefix:         "fail-",
		keepalive:          10 * time.Second,
		allowedOrigins:     []string{"*"},
		maxRequestBodySize: defaultMaxRequestBodySize,
		galleries:          make(map[string]*gallery),
		byTrip:             make(map[string]string),
		tripOwners:         make(map[string]string),
		conversations:      make(map[string]*conversation),
	}
	replay := 100
	for _, opt := range opts {
		if opt != nil {
			opt(s, &replay)
		}
	}
	s.events = newEventLog(replay, s.logger)
	return s
}

// Handler returns the HTTP routes of the mock backend.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(s.allowedOrigins))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(identity.Middleware)

		r.Route("/photo-gallery", func(r chi.Router) {
			r.Post("/generate/{tripID}", s.handleGenerate)
			r.Get("/trip/{tripID}", s.handleGalleryByTrip)
			r.Get("/{galleryID}", s.handleGetGallery)
			r.Delete("/{galleryID}", s.handleDeleteGallery)
			r.Get("/{galleryID}/places", s.handleListPlaces)
			r.Get("/{galleryID}/places/{placeID}/photos", s.handleListPhotos)
		})

		r.Route("/ai-travel", func(r chi.Router) {
			r.Post("/chat", s.handleChat)
			r.Get("/agent-stream/{key}", s.handleStream)
			r.Get("/agent-ws/{key}", s.handleWS)
		})

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", s.handleListConversations)
			r.Get("/{conversationID}/messages", s.handleConversationMessages)
			r.Delete("/{conversationID}", s.handleDeleteConversation)
		})
	})
	return r
}

// Close ends every open progress stream.
func (s *Server) Close() {
	s.events.close()
}

// claimTripLocked binds tripID to userID on first use and reports whether
// userID owns it.
func (s *Server) claimTripLocked(tripID, userID string) bool {
	owner, ok := s.tripOwners[tripID]
	if !ok {
		s.tripOwners[tripID] = userID
		return true
	}
	return owner == userID
}

// streamAllowed reports whether userID may watch key. Keys that name a trip
// or conversation of another user are refused.
func (s *Server) streamAllowed(key, userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if owner, ok := s.tripOwners[key]; ok && owner != userID {
		return false
	}
	if c, ok := s.conversations[key]; ok && c.Owner != userID {
		return false
	}
	return true
}
