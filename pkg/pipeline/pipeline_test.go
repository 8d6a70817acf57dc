package pipeline

import (
	"context"
	"errors"
	"image"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/menta2k/capturegate/pkg/presenter"
	"github.com/menta2k/capturegate/pkg/readiness"
	"github.com/menta2k/capturegate/pkg/types"
)

var (
	viewport = types.Rect{X: 0, Y: 0, Width: 100, Height: 100}
	bright   = types.ExposureSample{FNumber: 2.0, ExposureTime: 0.01, ISOSpeed: 100}
	dark     = types.ExposureSample{FNumber: 2.0, ExposureTime: 5.0, ISOSpeed: 100}
	goodFace = []types.FaceObservation{{BoundingBox: types.Rect{X: 25, Y: 25, Width: 50, Height: 50}, Confidence: 1}}
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func frame(faces []types.FaceObservation, exposure types.ExposureSample) *Frame {
	return &Frame{
		Image:    image.NewRGBA(image.Rect(0, 0, 100, 100)),
		Viewport: viewport,
		Exposure: exposure,
		Faces:    faces,
	}
}

func waitFor(t *testing.T, ch <-chan Result) Result {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for result")
		return Result{}
	}
}

func TestProcess(t *testing.T) {
	p := New(Options{Logger: quietLogger()})

	res := p.Process(context.Background(), frame(goodFace, bright))
	if !res.Update.Decision.Allowed {
		t.Errorf("Expected frame to pass, got %s", res.Update.Decision.Reason)
	}
	if !res.Update.First {
		t.Error("Expected first update")
	}

	res = p.Process(context.Background(), frame(goodFace, types.ExposureSample{FNumber: 2}))
	if !errors.Is(res.Err, types.ErrInvalidExposureData) {
		t.Errorf("Expected ErrInvalidExposureData, got %v", res.Err)
	}
	if res.Update.Decision.Reason != types.ReasonExposureUnavailable {
		t.Errorf("Expected exposure_unavailable, got %s", res.Update.Decision.Reason)
	}
	if st := p.Stats(); st.Processed != 2 {
		t.Errorf("Expected 2 processed, got %d", st.Processed)
	}
}

func TestPublishDropsUnconsumedFrames(t *testing.T) {
	results := make(chan Result, 10)
	p := New(Options{Logger: quietLogger(), OnResult: func(r Result) { results <- r }})

	for i := 0; i < 3; i++ {
		if !p.Publish(frame(goodFace, bright)) {
			t.Fatal("Publish refused before stop")
		}
	}

	runErr := make(chan error, 1)
	go func() { runErr <- p.Run(context.Background()) }()

	res := waitFor(t, results)
	if res.Frame.Seq != 3 {
		t.Errorf("Expected newest frame (seq 3), got seq %d", res.Frame.Seq)
	}

	p.Stop()
	if err := <-runErr; err != nil {
		t.Errorf("Expected clean stop, got %v", err)
	}

	st := p.Stats()
	if st.Published != 3 || st.Dropped != 2 || st.Processed != 1 {
		t.Errorf("Unexpected stats %+v", st)
	}
}

func TestSlowDetectorSeesLatestFrame(t *testing.T) {
	started := make(chan struct{}, 10)
	release := make(chan struct{})
	source := FaceSourceFunc(func(ctx context.Context, f *Frame) ([]types.FaceObservation, error) {
		started <- struct{}{}
		if f.Seq == 1 {
			<-release
		}
		return f.Faces, nil
	})

	results := make(chan Result, 10)
	p := New(Options{Logger: quietLogger(), FaceSource: source, OnResult: func(r Result) { results <- r }})
	go func() { _ = p.Run(context.Background()) }()
	defer p.Stop()

	p.Publish(frame(goodFace, bright))
	<-started

	for i := 0; i < 3; i++ {
		p.Publish(frame(goodFace, dark))
	}
	close(release)

	if res := waitFor(t, results); res.Frame.Seq != 1 {
		t.Errorf("Expected first frame, got seq %d", res.Frame.Seq)
	}
	res := waitFor(t, results)
	if res.Frame.Seq != 4 {
		t.Errorf("Expected latest frame (seq 4), got seq %d", res.Frame.Seq)
	}
	if res.Update.Decision.Reason != types.ReasonInsufficientLight {
		t.Errorf("Expected insufficient_light, got %s", res.Update.Decision.Reason)
	}
	if st := p.Stats(); st.Dropped != 2 {
		t.Errorf("Expected 2 dropped frames, got %d", st.Dropped)
	}
}

func TestFaceSourceErrorMeansNoFace(t *testing.T) {
	boom := errors.New("model offline")
	source := FaceSourceFunc(func(ctx context.Context, f *Frame) ([]types.FaceObservation, error) {
		return nil, boom
	})
	p := New(Options{Logger: quietLogger(), FaceSource: source})

	res := p.Process(context.Background(), frame(goodFace, bright))
	if !errors.Is(res.Err, boom) {
		t.Errorf("Expected detector error, got %v", res.Err)
	}
	if res.Update.Decision.Reason != types.ReasonFaceCountInvalid {
		t.Errorf("Expected face_count_invalid, got %s", res.Update.Decision.Reason)
	}
	if p.Stats().Failed != 1 {
		t.Errorf("Expected 1 failed frame, got %d", p.Stats().Failed)
	}
}

func TestCapture(t *testing.T) {
	var got []CapturedImage
	handler := CaptureFunc(func(ctx context.Context, img CapturedImage) error {
		got = append(got, img)
		return nil
	})
	p := New(Options{Logger: quietLogger(), Handler: handler})

	if _, err := p.Capture(context.Background()); !errors.Is(err, ErrCaptureNotAllowed) {
		t.Errorf("Expected ErrCaptureNotAllowed before any frame, got %v", err)
	}

	p.Process(context.Background(), frame(goodFace, dark))
	if _, err := p.Capture(context.Background()); !errors.Is(err, ErrCaptureNotAllowed) {
		t.Errorf("Expected ErrCaptureNotAllowed for dark frame, got %v", err)
	}

	p.Process(context.Background(), frame(goodFace, bright))
	captured, err := p.Capture(context.Background())
	if err != nil {
		t.Fatalf("Capture failed: %v", err)
	}
	if len(got) != 1 || got[0].FrameSeq != captured.FrameSeq {
		t.Errorf("Expected handler to receive the captured frame, got %+v", got)
	}
	if captured.SessionID != p.Session().Snapshot().ID {
		t.Error("Expected session ID on captured image")
	}
	if captured.Image == nil || len(captured.Faces) != 1 {
		t.Errorf("Expected image and face on captured image, got %+v", captured)
	}

	p.Session().SwitchCamera()
	if _, err := p.Capture(context.Background()); !errors.Is(err, ErrCaptureNotAllowed) {
		t.Errorf("Expected ErrCaptureNotAllowed after camera switch, got %v", err)
	}
}

func TestCaptureWithoutHandler(t *testing.T) {
	p := New(Options{Logger: quietLogger()})
	p.Process(context.Background(), frame(goodFace, bright))
	if _, err := p.Capture(context.Background()); !errors.Is(err, ErrNoCaptureHandler) {
		t.Errorf("Expected ErrNoCaptureHandler, got %v", err)
	}
}

func TestCaptureHandlerError(t *testing.T) {
	boom := errors.New("disk full")
	p := New(Options{
		Logger:  quietLogger(),
		Handler: CaptureFunc(func(ctx context.Context, img CapturedImage) error { return boom }),
	})
	p.Process(context.Background(), frame(goodFace, bright))
	if _, err := p.Capture(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Expected handler error, got %v", err)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	p := New(Options{Logger: quietLogger()})
	ctx, cancel := context.WithCancel(context.Background())

	runErr := make(chan error, 1)
	go func() { runErr <- p.Run(ctx) }()
	cancel()

	select {
	case err := <-runErr:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	if p.Publish(frame(goodFace, bright)) {
		t.Error("Expected Publish to be refused after stop")
	}
	p.Stop()
	if err := p.Run(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("Expected ErrStopped on restart, got %v", err)
	}
}

type shutterRecorder struct{ calls []bool }

func (s *shutterRecorder) SetCaptureEnabled(enabled bool) { s.calls = append(s.calls, enabled) }

func TestPresenterWiring(t *testing.T) {
	shutter := &shutterRecorder{}
	p := New(Options{
		Logger:    quietLogger(),
		Evaluator: readiness.New(),
		Presenter: presenter.NewAdapter(shutter, nil, nil),
	})

	p.Process(context.Background(), frame(goodFace, dark))
	p.Process(context.Background(), frame(goodFace, bright))
	p.Process(context.Background(), frame(goodFace, bright))

	if len(shutter.calls) != 2 || shutter.calls[0] || !shutter.calls[1] {
		t.Errorf("Expected shutter calls [false true], got %v", shutter.calls)
	}
}

func TestCameraSwitchDiscardsInFlightFrames(t *testing.T) {
	started := make(chan struct{}, 10)
	release := make(chan struct{})
	source := FaceSourceFunc(func(ctx context.Context, f *Frame) ([]types.FaceObservation, error) {
		started <- struct{}{}
		if f.Seq == 1 {
			<-release
		}
		return f.Faces, nil
	})

	var captured []CapturedImage
	results := make(chan Result, 10)
	p := New(Options{
		Logger:     quietLogger(),
		FaceSource: source,
		Handler: CaptureFunc(func(ctx context.Context, img CapturedImage) error {
			captured = append(captured, img)
			return nil
		}),
		OnResult: func(r Result) { results <- r },
	})
	go func() { _ = p.Run(context.Background()) }()
	defer p.Stop()

	// Frame 1 is in the detector, frame 2 waits in the mailbox, both from the front camera
	p.Publish(frame(goodFace, bright))
	<-started
	p.Publish(frame(goodFace, bright))

	if pos := p.Session().SwitchCamera(); pos != "back" {
		t.Fatalf("Expected back camera, got %s", pos)
	}
	close(release)

	for _, seq := range []uint64{1, 2} {
		res := waitFor(t, results)
		if res.Frame.Seq != seq {
			t.Errorf("Expected seq %d, got %d", seq, res.Frame.Seq)
		}
		if !res.Stale {
			t.Errorf("Expected front camera frame %d to be stale", seq)
		}
	}

	if p.Session().CanCapture() {
		t.Error("Expected no decision on the new camera yet")
	}
	if _, err := p.Capture(context.Background()); !errors.Is(err, ErrCaptureNotAllowed) {
		t.Errorf("Expected ErrCaptureNotAllowed after camera switch, got %v", err)
	}
	if len(captured) != 0 {
		t.Errorf("Expected no front camera image to be captured, got %d", len(captured))
	}
	if st := p.Stats(); st.Stale != 2 {
		t.Errorf("Expected 2 stale frames, got %d", st.Stale)
	}

	// A frame from the back camera passes again
	p.Publish(frame(goodFace, bright))
	if res := waitFor(t, results); res.Stale || !res.Update.Decision.Allowed {
		t.Errorf("Expected back camera frame to pass, got %+v", res.Update.Decision)
	}
	img, err := p.Capture(context.Background())
	if err != nil {
		t.Fatalf("Capture failed: %v", err)
	}
	if img.Position != "back" || img.FrameSeq != 3 {
		t.Errorf("Expected back camera frame 3, got %s frame %d", img.Position, img.FrameSeq)
	}
}

func TestPublishNilAndAfterStop(t *testing.T) {
	p := New(Options{Logger: quietLogger()})
	if p.Publish(nil) {
		t.Error("Expected nil frame to be refused")
	}

	p.Stop()
	f := frame(goodFace, bright)
	if p.Publish(f) {
		t.Error("Expected Publish to be refused after stop")
	}
	if f.Seq != 0 || f.ID != "" || !f.Timestamp.IsZero() {
		t.Errorf("Expected refused frame to be left untouched, got %+v", f)
	}
	if st := p.Stats(); st.Published != 0 {
		t.Errorf("Expected nothing published, got %d", st.Published)
	}
}
