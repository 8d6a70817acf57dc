// Package presenter maps capture decisions onto the UI collaborator.
//
// The UI is split into three small capabilities so a caller can implement only
// what it renders: the shutter control, the face overlay and the advisory line.
package presenter

import (
	"log/slog"
	"sync"
	"time"

	"github.com/menta2k/capturegate/pkg/session"
	"github.com/menta2k/capturegate/pkg/types"
)

// Shutter enables or disables the capture control
type Shutter interface {
	SetCaptureEnabled(enabled bool)
}

// Overlay draws face boxes over the preview
type Overlay interface {
	DrawFaces(boxes []types.Rect)
	ClearFaces()
}

// Advisor shows a transient, non-blocking message
type Advisor interface {
	ShowAdvisory(message string)
}

// DefaultRepeatAfter is how long an unchanged advisory waits before being shown again
const DefaultRepeatAfter = 2 * time.Second

// Adapter applies session updates to the UI. Nil capabilities are skipped.
type Adapter struct {
	shutter Shutter
	overlay Overlay
	advisor Advisor

	repeatAfter time.Duration
	now         func() time.Time

	mu           sync.Mutex
	lastAdvisory string
	lastShownAt  time.Time
	drawn        bool
}

// NewAdapter creates an adapter over the given capabilities
func NewAdapter(shutter Shutter, overlay Overlay, advisor Advisor) *Adapter {
	return &Adapter{
		shutter:     shutter,
		overlay:     overlay,
		advisor:     advisor,
		repeatAfter: DefaultRepeatAfter,
		now:         time.Now,
	}
}

// SetRepeatAfter changes how often a persisting advisory is repeated; 0 shows it
// only when the reason changes.
func (a *Adapter) SetRepeatAfter(d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.repeatAfter = d
}

// Apply pushes one frame's update to the UI
func (a *Adapter) Apply(update session.Update, faces []types.FaceObservation) {
	a.mu.Lock()
	defer a.mu.Unlock()

	d := update.Decision
	if a.shutter != nil && update.AllowedChanged {
		a.shutter.SetCaptureEnabled(d.Allowed)
	}

	if a.overlay != nil {
		if showOverlay(d) {
			boxes := make([]types.Rect, 0, len(faces))
			for _, f := range faces {
				boxes = append(boxes, f.BoundingBox)
			}
			a.overlay.DrawFaces(boxes)
			a.drawn = true
		} else if a.drawn {
			a.overlay.ClearFaces()
			a.drawn = false
		}
	}

	if a.advisor == nil {
		return
	}
	if update.Advisory == "" {
		a.lastAdvisory = ""
		return
	}
	now := a.now()
	repeat := a.repeatAfter > 0 && now.Sub(a.lastShownAt) >= a.repeatAfter
	if update.Advisory != a.lastAdvisory || repeat {
		a.advisor.ShowAdvisory(update.Advisory)
		a.lastAdvisory = update.Advisory
		a.lastShownAt = now
	}
}

// showOverlay reports whether the single detected face should be outlined.
// A dark frame still shows the face; a face too far away does not.
func showOverlay(d types.CaptureDecision) bool {
	return d.Metrics.FaceCount == 1 && d.Reason != types.ReasonFaceTooFar
}

// SlogPresenter renders every capability as a structured log line
type SlogPresenter struct {
	Logger *slog.Logger
}

func (p SlogPresenter) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

func (p SlogPresenter) SetCaptureEnabled(enabled bool) {
	p.logger().Info("presenter: shutter", "enabled", enabled)
}

func (p SlogPresenter) DrawFaces(boxes []types.Rect) {
	p.logger().Debug("presenter: draw faces", "count", len(boxes))
}

func (p SlogPresenter) ClearFaces() {
	p.logger().Debug("presenter: clear faces")
}

func (p SlogPresenter) ShowAdvisory(message string) {
	p.logger().Info("presenter: advisory", "message", message)
}
