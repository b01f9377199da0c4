package mockserver

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ashureev/tripsync/internal/domain"
)

const jobWorkerInterval = 2 * time.Second

// StartJobWorker runs a background goroutine that advances gallery jobs on
// every tick until ctx is done.
func (s *Server) StartJobWorker(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = jobWorkerInterval
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		s.logger.Info("Job worker started", "interval", interval, "steps", s.jobSteps)

		for {
			select {
			case <-ticker.C:
				s.AdvanceJobs()
			case <-ctx.Done():
				s.logger.Info("Job worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

type pendingFrame struct {
	key   string
	frame progressFrame
}

// AdvanceJobs moves every unfinished gallery one step forward and returns
// the number of galleries that changed.
func (s *Server) AdvanceJobs() int {
	var frames []pendingFrame

	s.mu.Lock()
	now := s.clk.Now()
	for _, g := range s.galleries {
		if g.Status.Terminal() {
			continue
		}
		g.Steps++
		g.UpdatedAt = now
		data := map[string]any{"gallery_id": g.ID, "step": g.Steps}

		switch {
		case g.Steps < s.jobSteps:
			g.Status = domain.JobProcessing
			frames = append(frames, pendingFrame{g.TripID, progressFrame{
				AgentType: "gallery",
				EventType: string(domain.PhaseToolCall),
				Message:   fmt.Sprintf("Searching photos (step %d of %d)", g.Steps, s.jobSteps),
				Data:      data,
			}})
		case s.failPrefix != "" && strings.HasPrefix(g.TripID, s.failPrefix):
			g.Status = domain.JobFailed
			g.ErrorMessage = "Photo provider rejected the search"
			frames = append(frames, pendingFrame{g.TripID, progressFrame{
				AgentType: "gallery",
				EventType: string(domain.PhaseError),
				Message:   g.ErrorMessage,
				Data:      data,
			}})
		default:
			g.Status = domain.JobCompleted
			g.Places = s.samplePlaces(g)
			data["places"] = len(g.Places)
			frames = append(frames, pendingFrame{g.TripID, progressFrame{
				AgentType: "gallery",
				EventType: string(domain.PhaseComplete),
				Message:   "Gallery ready",
				Data:      data,
			}})
		}
	}
	s.mu.Unlock()

	for _, f := range frames {
		s.events.publish(f.key, f.frame)
	}
	if len(frames) > 0 {
		s.logger.Debug("Job worker advanced galleries", "count", len(frames))
	}
	return len(frames)
}
