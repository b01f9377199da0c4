package domain

import (
	"time"

	"github.com/ashureev/tripsync/internal/shared"
)

// JobStatus is the lifecycle state of a gallery generation job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// ParseJobStatus maps a server status string onto a JobStatus.
// Unknown values are reported as not ok.
func ParseJobStatus(s string) (JobStatus, bool) {
	switch JobStatus(s) {
	case JobPending, JobProcessing, JobCompleted, JobFailed:
		return JobStatus(s), true
	}
	return "", false
}

// Terminal reports whether no further polling is expected.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// Active reports whether the job still occupies its owner key.
func (s JobStatus) Active() bool {
	return s == JobPending || s == JobProcessing
}

// CanTransition reports whether s -> next is a legal job transition.
// Failed -> pending only happens on resubmission.
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case JobPending, JobProcessing:
		return next == JobProcessing || next == JobCompleted || next == JobFailed
	case JobFailed:
		return next == JobPending
	default:
		return false
	}
}

// GenerationJob is the client-side view of a server gallery job.
type GenerationJob struct {
	ID         string
	OwnerKey   string
	Status     JobStatus
	RetryCount int
	LastError  *shared.Error
	// Polls counts poll calls made for the current submission.
	Polls int
	// Stalled is set when the poll ceiling was reached while still processing.
	Stalled   bool
	Resources []GalleryPlace
	UpdatedAt time.Time
}

// Clone returns a copy that shares no slices with j.
func (j GenerationJob) Clone() GenerationJob {
	out := j
	if j.Resources != nil {
		out.Resources = make([]GalleryPlace, len(j.Resources))
		for i, p := range j.Resources {
			out.Resources[i] = p
			if p.Photos != nil {
				out.Resources[i].Photos = append([]GalleryPhoto(nil), p.Photos...)
			}
		}
	}
	return out
}

// GalleryPlace is one place featured in a generated gallery.
type GalleryPlace struct {
	ID          string         `json:"id"`
	Name        string         `json:"place_name"`
	PlaceType   string         `json:"place_type,omitempty"`
	Caption     string         `json:"caption,omitempty"`
	SearchQuery string         `json:"search_query,omitempty"`
	Priority    int            `json:"priority"`
	Photos      []GalleryPhoto `json:"photos,omitempty"`
}

// GalleryPhoto is a single photo attached to a gallery place.
type GalleryPhoto struct {
	ID               string `json:"id"`
	URL              string `json:"url"`
	ThumbnailURL     string `json:"thumbnail_url,omitempty"`
	PhotographerName string `json:"photographer_name,omitempty"`
	PhotographerURL  string `json:"photographer_url,omitempty"`
	Source           string `json:"source,omitempty"`
	Width            int    `json:"width,omitempty"`
	Height           int    `json:"height,omitempty"`
	Description      string `json:"description,omitempty"`
}
