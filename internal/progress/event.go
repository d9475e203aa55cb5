// Package progress defines the ordered event stream a run emits and the hub
// that delivers it to sinks.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/feedscope/feedscope/internal/aggregate"
)

// Stage denotes the milestone an Event represents.
type Stage string

// Run lifecycle stages. Exactly one of StageComplete or StageFatalError ends
// every stream; nothing follows it.
const (
	StageStarted         Stage = "started"
	StagePagesDiscovered Stage = "pages_discovered"
	StagePageFetched     Stage = "page_fetched"
	StagePageProcessing  Stage = "page_processing"
	StageRecordError     Stage = "record_error"
	StagePageError       Stage = "page_error"
	StageComplete        Stage = "complete"
	StageFatalError      Stage = "fatal_error"
)

// Event is one progress milestone. Page ordinals are 1-based discovery
// order; URL never carries credentials.
type Event struct {
	RunID       uuid.UUID          `json:"run_id"`
	TS          time.Time          `json:"ts"`
	Stage       Stage              `json:"stage"`
	Page        int                `json:"page,omitempty"`
	TotalPages  int                `json:"total_pages,omitempty"`
	URL         string             `json:"url,omitempty"`
	Records     int                `json:"records,omitempty"`
	StatusClass string             `json:"status_class,omitempty"`
	Dur         time.Duration      `json:"duration_ns,omitempty"`
	Note        string             `json:"note,omitempty"`
	Summary     *aggregate.Summary `json:"summary,omitempty"`
}

// Terminal reports whether no further events may follow.
func (e Event) Terminal() bool {
	return e.Stage == StageComplete || e.Stage == StageFatalError
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == uuid.Nil {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageStarted, StagePagesDiscovered, StageRecordError, StageFatalError:
	case StagePageFetched, StagePageProcessing, StagePageError:
		if e.Page <= 0 {
			return fmt.Errorf("%s requires a page ordinal", e.Stage)
		}
	case StageComplete:
		if e.Summary == nil {
			return errors.New("complete requires the run summary")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
