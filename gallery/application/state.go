package application

import (
	"errors"
	"time"

	"github.com/dfryer1193/imagemerge/gallery/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// MergeState is a stage of a single merge request.
type MergeState int

const (
	StateResolving MergeState = iota
	StateDecoding
	StateCompositing
	StateEncoding
	StateDone
	StateFailed
)

func (s MergeState) String() string {
	switch s {
	case StateResolving:
		return "resolving"
	case StateDecoding:
		return "decoding"
	case StateCompositing:
		return "compositing"
	case StateEncoding:
		return "encoding"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// mergeRun tracks one request through its states. Every failure is terminal.
type mergeRun struct {
	logger  zerolog.Logger
	state   MergeState
	started time.Time
}

func newMergeRun(req MergeRequest) *mergeRun {
	return &mergeRun{
		logger: log.With().
			Str("front", req.FrontID).
			Str("back", req.BackID).
			Logger(),
		state:   StateResolving,
		started: time.Now(),
	}
}

func (r *mergeRun) enter(next MergeState) {
	r.logger.Debug().
		Stringer("from", r.state).
		Stringer("to", next).
		Msg("Merge state changed")
	r.state = next
}

func (r *mergeRun) done() {
	r.enter(StateDone)
	r.logger.Info().Dur("elapsed", time.Since(r.started)).Msg("Merge completed")
}

// fail records the failure and returns err unchanged.
func (r *mergeRun) fail(err error) error {
	event := r.logger.Warn()
	if errors.Is(err, domain.ErrStorage) {
		event = r.logger.Error()
	}
	event.Err(err).Stringer("state", r.state).Msg("Merge failed")
	r.state = StateFailed
	return err
}
