// Package pipeline runs the capture gate over a live stream of frames.
//
// Frames are handed over through a single-slot mailbox: Publish never blocks and a
// frame that has not been picked up yet is replaced by the newer one. One worker
// evaluates frames serially, so the evaluator always sees the freshest frame and
// a slow face detector never builds a backlog.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/menta2k/capturegate/pkg/presenter"
	"github.com/menta2k/capturegate/pkg/readiness"
	"github.com/menta2k/capturegate/pkg/session"
	"github.com/menta2k/capturegate/pkg/types"
)

var (
	// ErrCaptureNotAllowed is returned by Capture when the latest frame failed the gate.
	ErrCaptureNotAllowed = errors.New("capture not allowed")
	// ErrNoCaptureHandler is returned by Capture when no handler is configured.
	ErrNoCaptureHandler = errors.New("no capture handler")
	// ErrStopped is returned when the pipeline has been stopped.
	ErrStopped = errors.New("pipeline stopped")
)

// Frame is one camera frame with its metadata.
// The image must not be modified after Publish.
type Frame struct {
	ID        string
	Seq       uint64
	Timestamp time.Time
	Image     image.Image
	Viewport  types.Rect
	Exposure  types.ExposureSample
	// Faces is used as-is when the pipeline has no FaceSource.
	Faces []types.FaceObservation

	// session generation at Publish
	generation uint64
	stamped    bool
}

// FaceSource detects faces in a frame
type FaceSource interface {
	Faces(ctx context.Context, frame *Frame) ([]types.FaceObservation, error)
}

// FaceSourceFunc adapts a function to FaceSource
type FaceSourceFunc func(ctx context.Context, frame *Frame) ([]types.FaceObservation, error)

func (f FaceSourceFunc) Faces(ctx context.Context, frame *Frame) ([]types.FaceObservation, error) {
	return f(ctx, frame)
}

// CapturedImage is handed to the CaptureHandler when a photo is taken
type CapturedImage struct {
	SessionID string
	FrameID   string
	FrameSeq  uint64
	Image     image.Image
	Faces     []types.FaceObservation
	Decision  types.CaptureDecision
	Position  session.Position
	Flash     session.FlashMode
}

// CaptureHandler receives captured photos
type CaptureHandler interface {
	ImageCaptured(ctx context.Context, img CapturedImage) error
}

// CaptureFunc adapts a function to CaptureHandler
type CaptureFunc func(ctx context.Context, img CapturedImage) error

func (f CaptureFunc) ImageCaptured(ctx context.Context, img CapturedImage) error {
	return f(ctx, img)
}

// Result is the outcome of evaluating one frame.
// A Stale result was taken on a camera position that is no longer active; it
// updates neither the session nor the presenter and cannot be captured.
type Result struct {
	Frame      *Frame
	Faces      []types.FaceObservation
	Update     session.Update
	Generation uint64
	Stale      bool
	Err        error
	Duration   time.Duration
}

// Options configures a Pipeline. Nil Evaluator, Session and Logger get defaults.
type Options struct {
	Evaluator  *readiness.Evaluator
	Session    *session.Session
	Presenter  *presenter.Adapter
	FaceSource FaceSource
	Handler    CaptureHandler
	Logger     *slog.Logger
	// OnResult is called from the worker goroutine after each frame.
	OnResult func(Result)
}

// Stats is a snapshot of pipeline counters
type Stats struct {
	Published uint64
	Processed uint64
	Dropped   uint64
	Failed    uint64
	Stale     uint64
}

// Pipeline evaluates published frames on a single worker
type Pipeline struct {
	evaluator *readiness.Evaluator
	session   *session.Session
	presenter *presenter.Adapter
	faces     FaceSource
	handler   CaptureHandler
	logger    *slog.Logger
	onResult  func(Result)

	mu      sync.Mutex
	cond    *sync.Cond
	pending *Frame
	stopped bool
	running bool

	resultMu sync.Mutex
	latest   *Result

	seq       atomic.Uint64
	published atomic.Uint64
	processed atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
	stale     atomic.Uint64
}

// New creates a pipeline
func New(opts Options) *Pipeline {
	if opts.Evaluator == nil {
		opts.Evaluator = readiness.New()
	}
	if opts.Session == nil {
		opts.Session = session.New()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	p := &Pipeline{
		evaluator: opts.Evaluator,
		session:   opts.Session,
		presenter: opts.Presenter,
		faces:     opts.FaceSource,
		handler:   opts.Handler,
		logger:    opts.Logger,
		onResult:  opts.OnResult,
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Session returns the session the pipeline reports to
func (p *Pipeline) Session() *session.Session {
	return p.session
}

// Publish hands a frame to the worker without blocking. An unconsumed older
// frame is discarded. It returns false for a nil frame or once the pipeline is stopped.
func (p *Pipeline) Publish(frame *Frame) bool {
	if frame == nil {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return false
	}

	if frame.Seq == 0 {
		frame.Seq = p.seq.Add(1)
	}
	if frame.ID == "" {
		frame.ID = uuid.NewString()
	}
	if frame.Timestamp.IsZero() {
		frame.Timestamp = time.Now()
	}
	frame.generation = p.session.Generation()
	frame.stamped = true
	if p.pending != nil {
		p.dropped.Add(1)
		p.logger.Debug("pipeline: dropping late frame", "seq", p.pending.Seq, "replaced_by", frame.Seq)
	}
	p.pending = frame
	p.published.Add(1)
	p.cond.Signal()
	return true
}

// next blocks until a frame is available or the pipeline stops
func (p *Pipeline) next() *Frame {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.pending == nil && !p.stopped {
		p.cond.Wait()
	}
	if p.stopped {
		return nil
	}
	frame := p.pending
	p.pending = nil
	return frame
}

// Run processes frames until ctx is cancelled or Stop is called.
func (p *Pipeline) Run(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("pipeline already running")
	}
	if p.stopped {
		p.mu.Unlock()
		return ErrStopped
	}
	p.running = true
	p.mu.Unlock()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			p.Stop()
		case <-done:
		}
	}()

	p.logger.Info("pipeline: started", "session", p.session.Snapshot().ID)
	for {
		frame := p.next()
		if frame == nil {
			st := p.Stats()
			p.logger.Info("pipeline: stopped",
				"published", st.Published, "processed", st.Processed, "dropped", st.Dropped)
			return ctx.Err()
		}
		p.Process(ctx, frame)
	}
}

// Stop wakes the worker and refuses further frames. Safe to call more than once.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
	p.pending = nil
	p.cond.Broadcast()
}

// Process evaluates a single frame synchronously and updates the session and presenter.
func (p *Pipeline) Process(ctx context.Context, frame *Frame) Result {
	start := time.Now()
	generation := frame.generation
	if !frame.stamped {
		generation = p.session.Generation()
	}
	faces := frame.Faces
	var detectErr error
	if p.faces != nil {
		faces, detectErr = p.faces.Faces(ctx, frame)
		if detectErr != nil {
			p.failed.Add(1)
			p.logger.Warn("pipeline: face detection failed", "seq", frame.Seq, "error", detectErr)
			faces = nil
		}
	}

	decision, err := p.evaluator.Evaluate(faces, frame.Exposure, frame.Viewport)
	if err != nil {
		p.logger.Debug("pipeline: exposure unavailable", "seq", frame.Seq, "error", err)
	}
	if detectErr != nil {
		err = errors.Join(fmt.Errorf("detect faces: %w", detectErr), err)
	}

	update, current := p.session.ObserveGeneration(generation, decision)
	res := Result{
		Frame:      frame,
		Faces:      faces,
		Update:     update,
		Generation: generation,
		Stale:      !current,
		Err:        err,
		Duration:   time.Since(start),
	}
	p.processed.Add(1)

	if !current {
		p.stale.Add(1)
		p.logger.Debug("pipeline: discarding frame from previous camera", "seq", frame.Seq, "generation", generation)
		if p.onResult != nil {
			p.onResult(res)
		}
		return res
	}

	if p.presenter != nil {
		p.presenter.Apply(update, faces)
	}
	p.resultMu.Lock()
	p.latest = &res
	p.resultMu.Unlock()

	if update.AllowedChanged {
		p.logger.Info("pipeline: capture readiness changed",
			"seq", frame.Seq,
			"allowed", decision.Allowed,
			"reason", decision.Reason.String(),
			"faces", decision.Metrics.FaceCount,
			"overlap", decision.Metrics.OverlapPercent,
			"luminosity", decision.Metrics.Luminosity)
	}
	if p.onResult != nil {
		p.onResult(res)
	}
	return res
}

// Latest returns the result of the most recently evaluated frame
func (p *Pipeline) Latest() (Result, bool) {
	p.resultMu.Lock()
	defer p.resultMu.Unlock()
	if p.latest == nil {
		return Result{}, false
	}
	return *p.latest, true
}

// Capture hands the latest frame to the CaptureHandler if it passed the gate.
func (p *Pipeline) Capture(ctx context.Context) (CapturedImage, error) {
	if p.handler == nil {
		return CapturedImage{}, ErrNoCaptureHandler
	}
	res, ok := p.Latest()
	snap := p.session.Snapshot()
	if !ok || !snap.HasDecision || !snap.Last.Allowed || snap.Generation != res.Generation || !res.Update.Decision.Allowed {
		return CapturedImage{}, ErrCaptureNotAllowed
	}

	captured := CapturedImage{
		SessionID: snap.ID,
		FrameID:   res.Frame.ID,
		FrameSeq:  res.Frame.Seq,
		Image:     res.Frame.Image,
		Faces:     res.Faces,
		Decision:  res.Update.Decision,
		Position:  snap.Position,
		Flash:     snap.Flash,
	}
	if err := p.handler.ImageCaptured(ctx, captured); err != nil {
		return captured, fmt.Errorf("capture handler: %w", err)
	}
	p.logger.Info("pipeline: image captured", "session", snap.ID, "seq", captured.FrameSeq)
	return captured, nil
}

// Stats returns the pipeline counters
func (p *Pipeline) Stats() Stats {
	return Stats{
		Published: p.published.Load(),
		Processed: p.processed.Load(),
		Dropped:   p.dropped.Load(),
		Failed:    p.failed.Load(),
		Stale:     p.stale.Load(),
	}
}
