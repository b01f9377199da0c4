package mockserver

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/tripsync/internal/domain"
	"github.com/ashureev/tripsync/internal/identity"
)

// legacyExistsDetail is the 400 body older backends send instead of 409.
const legacyExistsDetail = "Photo gallery already exists for this trip"

type galleryDTO struct {
	ID           string    `json:"id"`
	TripID       string    `json:"trip_id"`
	Title        string    `json:"title,omitempty"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (g *gallery) dto() galleryDTO {
	return galleryDTO{
		ID:           g.ID,
		TripID:       g.TripID,
		Title:        g.Title,
		Status:       string(g.Status),
		ErrorMessage: g.ErrorMessage,
		CreatedAt:    g.CreatedAt,
		UpdatedAt:    g.UpdatedAt,
	}
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	tripID := strings.TrimSpace(chi.URLParam(r, "tripID"))
	if tripID == "" {
		Error(w, http.StatusBadRequest, "invalid_argument", "trip id is required")
		return
	}

	s.mu.Lock()
	if !s.claimTripLocked(tripID, userID) {
		s.mu.Unlock()
		Error(w, http.StatusForbidden, "permission_denied", "You do not have access to this trip")
		return
	}
	if _, exists := s.byTrip[tripID]; exists {
		s.mu.Unlock()
		Error(w, http.StatusBadRequest, "", legacyExistsDetail)
		return
	}
	now := s.clk.Now()
	g := &gallery{
		ID:        s.newID(),
		TripID:    tripID,
		Owner:     userID,
		Title:     "Photo gallery for " + tripID,
		Status:    domain.JobPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.galleries[g.ID] = g
	s.byTrip[tripID] = g.ID
	dto := g.dto()
	s.mu.Unlock()

	s.logger.Info("Gallery generation queued", "trip_id", tripID, "gallery_id", dto.ID, "user_id", userID)
	s.events.publish(tripID, progressFrame{
		AgentType: "gallery",
		EventType: string(domain.PhaseStart),
		Message:   "Gallery generation queued",
		Data:      map[string]any{"gallery_id": dto.ID},
	})
	JSON(w, http.StatusCreated, dto)
}

// galleryFor resolves the gallery named in the URL, writing 404 or 403 when
// the caller cannot see it. Callers hold s.mu.
func (s *Server) galleryFor(w http.ResponseWriter, r *http.Request) (*gallery, bool) {
	userID := identity.UserIDFromContext(r.Context())
	id := chi.URLParam(r, "galleryID")

	g, ok := s.galleries[id]
	if !ok {
		Error(w, http.StatusNotFound, "not_found", "Photo gallery not found")
		return nil, false
	}
	if g.Owner != userID {
		Error(w, http.StatusForbidden, "permission_denied", "You do not have access to this gallery")
		return nil, false
	}
	return g, true
}

func (s *Server) handleGetGallery(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	g, ok := s.galleryFor(w, r)
	if !ok {
		s.mu.Unlock()
		return
	}
	dto := g.dto()
	s.mu.Unlock()
	JSON(w, http.StatusOK, dto)
}

func (s *Server) handleDeleteGallery(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	g, ok := s.galleryFor(w, r)
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.galleries, g.ID)
	if s.byTrip[g.TripID] == g.ID {
		delete(s.byTrip, g.TripID)
	}
	s.mu.Unlock()

	s.logger.Info("Gallery deleted", "trip_id", g.TripID, "gallery_id", g.ID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGalleryByTrip(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	tripID := chi.URLParam(r, "tripID")

	s.mu.Lock()
	if owner, ok := s.tripOwners[tripID]; ok && owner != userID {
		s.mu.Unlock()
		Error(w, http.StatusForbidden, "permission_denied", "You do not have access to this trip")
		return
	}
	var out []galleryDTO
	if id, ok := s.byTrip[tripID]; ok {
		out = append(out, s.galleries[id].dto())
	}
	s.mu.Unlock()
	JSON(w, http.StatusOK, listOf(out))
}

func (s *Server) handleListPlaces(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	g, ok := s.galleryFor(w, r)
	if !ok {
		s.mu.Unlock()
		return
	}
	if g.Status != domain.JobCompleted {
		status := g.Status
		s.mu.Unlock()
		Error(w, http.StatusBadRequest, "not_ready", fmt.Sprintf("Photo gallery is %s", status))
		return
	}
	places := make([]domain.GalleryPlace, len(g.Places))
	for i, p := range g.Places {
		p.Photos = nil
		places[i] = p
	}
	s.mu.Unlock()
	JSON(w, http.StatusOK, listOf(places))
}

func (s *Server) handleListPhotos(w http.ResponseWriter, r *http.Request) {
	placeID := chi.URLParam(r, "placeID")

	s.mu.Lock()
	g, ok := s.galleryFor(w, r)
	if !ok {
		s.mu.Unlock()
		return
	}
	for _, p := range g.Places {
		if p.ID == placeID {
			photos := append([]domain.GalleryPhoto(nil), p.Photos...)
			s.mu.Unlock()
			JSON(w, http.StatusOK, listOf(photos))
			return
		}
	}
	s.mu.Unlock()
	Error(w, http.StatusNotFound, "not_found", "Place not found")
}

var samplePlaceNames = []struct{ name, kind string }{
	{"Old Town", "neighborhood"},
	{"Harbour Front", "landmark"},
	{"Central Market", "market"},
}

func (s *Server) samplePlaces(g *gallery) []domain.GalleryPlace {
	places := make([]domain.GalleryPlace, 0, len(samplePlaceNames))
	for i, p := range samplePlaceNames {
		placeID := fmt.Sprintf("%s-place-%d", g.ID, i+1)
		place := domain.GalleryPlace{
			ID:          placeID,
			Name:        p.name,
			PlaceType:   p.kind,
			Caption:     fmt.Sprintf("%s on your %s trip", p.name, g.TripID),
			SearchQuery: strings.ToLower(p.name),
			Priority:    i + 1,
		}
		for j := 1; j <= 2; j++ {
			photoID := fmt.Sprintf("%s-photo-%d", placeID, j)
			place.Photos = append(place.Photos, domain.GalleryPhoto{
				ID:               photoID,
				URL:              "https://photos.example.com/" + photoID + ".jpg",
				ThumbnailURL:     "https://photos.example.com/" + photoID + "_thumb.jpg",
				PhotographerName: "Mock Photographer",
				Source:           "mock",
				Width:            1600,
				Height:           1067,
			})
		}
		places = append(places, place)
	}
	return places
}
