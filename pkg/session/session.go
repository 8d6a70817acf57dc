// Package session keeps the per-session capture context: the latest face and
// exposure measurements, the camera settings chosen by the user and the previous
// decision, so callers can react only to changes.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/menta2k/capturegate/pkg/readiness"
	"github.com/menta2k/capturegate/pkg/types"
)

// Position is the camera the session captures from
type Position string

const (
	PositionFront Position = "front"
	PositionBack  Position = "back"
)

// FlashMode is the flash setting used when the photo is taken
type FlashMode string

const (
	FlashOff FlashMode = "off"
	FlashOn  FlashMode = "on"
)

// Update describes what changed after a decision was observed
type Update struct {
	Decision       types.CaptureDecision
	AllowedChanged bool
	ReasonChanged  bool
	Advisory       string
	First          bool
}

// Snapshot is a copy of the session state
type Snapshot struct {
	ID            string
	StartedAt     time.Time
	NumberOfFaces int
	FaceRatio     float64
	Luminosity    float64
	Position      Position
	Flash         FlashMode
	Frames        uint64
	Last          types.CaptureDecision
	HasDecision   bool
	// Generation increments on every camera position change
	Generation uint64
}

// Session is safe for concurrent use
type Session struct {
	mu    sync.Mutex
	state Snapshot
}

// New starts a session on the front camera with the flash off
func New() *Session {
	return &Session{state: Snapshot{
		ID:        uuid.NewString(),
		StartedAt: time.Now(),
		Position:  PositionFront,
		Flash:     FlashOff,
	}}
}

// Observe records a frame decision and reports how it differs from the previous one
func (s *Session) Observe(decision types.CaptureDecision) Update {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.observe(decision)
}

// ObserveGeneration is Observe for a frame taken during the given generation.
// A decision from an earlier generation is ignored and ok is false.
func (s *Session) ObserveGeneration(generation uint64, decision types.CaptureDecision) (update Update, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if generation != s.state.Generation {
		return Update{Decision: decision}, false
	}
	return s.observe(decision), true
}

// Generation returns the current camera position generation
func (s *Session) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Generation
}

func (s *Session) observe(decision types.CaptureDecision) Update {
	prev, hadPrev := s.state.Last, s.state.HasDecision

	s.state.Frames++
	s.state.NumberOfFaces = decision.Metrics.FaceCount
	if decision.Metrics.OverlapKnown {
		s.state.FaceRatio = decision.Metrics.OverlapPercent
	} else {
		s.state.FaceRatio = 0
	}
	if decision.Metrics.LuminosityKnown {
		s.state.Luminosity = decision.Metrics.Luminosity
	}
	s.state.Last = decision
	s.state.HasDecision = true

	return Update{
		Decision:       decision,
		First:          !hadPrev,
		AllowedChanged: !hadPrev || prev.Allowed != decision.Allowed,
		ReasonChanged:  !hadPrev || prev.Reason != decision.Reason,
		Advisory:       readiness.Advisory(decision.Reason),
	}
}

// CanCapture reports whether the latest decision allows a photo
func (s *Session) CanCapture() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.HasDecision && s.state.Last.Allowed
}

// SetPosition records the camera position. The previous decision is dropped
// since it was made on the other camera's frames.
func (s *Session) SetPosition(p Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Position == p {
		return
	}
	s.state.Position = p
	s.state.Generation++
	s.state.HasDecision = false
	s.state.Last = types.CaptureDecision{}
}

// SwitchCamera toggles between front and back and returns the new position
func (s *Session) SwitchCamera() Position {
	next := PositionFront
	if s.Snapshot().Position == PositionFront {
		next = PositionBack
	}
	s.SetPosition(next)
	return next
}

// ToggleFlash flips the flash setting and returns the new mode
func (s *Session) ToggleFlash() FlashMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Flash == FlashOn {
		s.state.Flash = FlashOff
	} else {
		s.state.Flash = FlashOn
	}
	return s.state.Flash
}

// Snapshot returns a copy of the session state
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}
