package capturegate

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/menta2k/capturegate/pkg/detection"
	"github.com/menta2k/capturegate/pkg/pipeline"
	"github.com/menta2k/capturegate/pkg/processing"
	"github.com/menta2k/capturegate/pkg/types"
)

type fakeClient struct {
	faces []types.DetectedFace
	err   error
	calls int
}

func (f *fakeClient) SimpleQuery(ctx context.Context, model, prompt, imgB64 string) (string, error) {
	return "a person", nil
}

func (f *fakeClient) DetectFaces(ctx context.Context, model, prompt, imgB64 string) (*types.FaceDetectionResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &types.FaceDetectionResult{Faces: f.faces}, nil
}

var centeredFace = []types.DetectedFace{{Box: types.Box{X: 0.25, Y: 0.25, W: 0.5, H: 0.5}, Confidence: 0.95}}

var brightExposure = types.ExposureSample{FNumber: 1.8, ExposureTime: 0.01, ISOSpeed: 100}

// createTestImage creates a grey image with a lighter oval where a face would be
func createTestImage(width, height int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if x > width/4 && x < 3*width/4 && y > height/4 && y < 3*height/4 {
				img.Set(x, y, color.RGBA{230, 190, 160, 255})
			} else {
				img.Set(x, y, color.RGBA{64, 64, 64, 255})
			}
		}
	}
	return img
}

func newGate(fc *fakeClient) *Gate {
	return New(detection.NewDetector(fc, "test-model"))
}

func TestNew(t *testing.T) {
	g := New(nil)
	if g.Processor() == nil || g.Evaluator() == nil {
		t.Fatal("Expected processor and evaluator to be set")
	}
	if g.Evaluator().Config().MinOverlapPercent != 18 {
		t.Errorf("Expected default overlap threshold, got %v", g.Evaluator().Config().MinOverlapPercent)
	}
	if g.FaceSource() != nil {
		t.Error("Expected nil FaceSource without a detector")
	}
}

func TestEvaluateImageAllowed(t *testing.T) {
	fc := &fakeClient{faces: centeredFace}
	res, err := newGate(fc).EvaluateImage(context.Background(), createTestImage(200, 200), brightExposure)
	if err != nil {
		t.Fatalf("EvaluateImage failed: %v", err)
	}
	if !res.Decision.Allowed || res.Decision.Reason != types.ReasonNone {
		t.Errorf("Expected allowed decision, got %+v", res.Decision)
	}
	if res.Decision.Metrics.OverlapPercent != 25 {
		t.Errorf("Expected 25%% overlap, got %v", res.Decision.Metrics.OverlapPercent)
	}
	if res.Advisory != "" {
		t.Errorf("Expected no advisory, got %q", res.Advisory)
	}
	if len(res.Faces) != 1 || res.Faces[0].BoundingBox.Width != 100 {
		t.Errorf("Expected face mapped into viewport, got %+v", res.Faces)
	}
}

func TestEvaluateImageNoFace(t *testing.T) {
	res, err := newGate(&fakeClient{}).EvaluateImage(context.Background(), createTestImage(200, 200), brightExposure)
	if err != nil {
		t.Fatalf("EvaluateImage failed: %v", err)
	}
	if res.Decision.Reason != types.ReasonFaceCountInvalid {
		t.Errorf("Expected face_count_invalid, got %s", res.Decision.Reason)
	}
	if res.Advisory == "" {
		t.Error("Expected an advisory for a rejected frame")
	}
}

func TestEvaluateImageDetectorError(t *testing.T) {
	boom := errors.New("connection refused")
	_, err := newGate(&fakeClient{err: boom}).EvaluateImage(context.Background(), createTestImage(200, 200), brightExposure)
	if !errors.Is(err, boom) {
		t.Errorf("Expected detector error, got %v", err)
	}
}

func TestEvaluateImageTooSmall(t *testing.T) {
	fc := &fakeClient{faces: centeredFace}
	if _, err := newGate(fc).EvaluateImage(context.Background(), createTestImage(10, 10), brightExposure); err == nil {
		t.Error("Expected error for tiny image")
	}
	if fc.calls != 0 {
		t.Error("Expected detector not to be called for tiny image")
	}
}

func TestEvaluateWithoutDetector(t *testing.T) {
	if _, err := New(nil).EvaluateImage(context.Background(), createTestImage(200, 200), brightExposure); !errors.Is(err, ErrNoDetector) {
		t.Errorf("Expected ErrNoDetector, got %v", err)
	}
}

func TestEvaluateFileWithoutEXIF(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, createTestImage(200, 200)); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "frame.png")
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}

	res, err := newGate(&fakeClient{faces: centeredFace}).EvaluateFile(context.Background(), path)
	if !IsExposureError(err) {
		t.Fatalf("Expected exposure error, got %v", err)
	}
	if res.Source != path {
		t.Errorf("Expected source %s, got %s", path, res.Source)
	}
	if res.Decision.Allowed || res.Decision.Reason != types.ReasonExposureUnavailable {
		t.Errorf("Expected exposure_unavailable, got %+v", res.Decision)
	}
	if !res.Decision.Metrics.OverlapKnown {
		t.Error("Expected overlap to be computed without exposure")
	}
}

func TestReadExposureEmpty(t *testing.T) {
	if _, err := ReadExposure(&processing.Source{}); !IsExposureError(err) {
		t.Errorf("Expected exposure error, got %v", err)
	}
	if _, err := ReadExposure(nil); !IsExposureError(err) {
		t.Errorf("Expected exposure error for nil source, got %v", err)
	}
}

func TestFaceSource(t *testing.T) {
	fc := &fakeClient{faces: centeredFace}
	src := newGate(fc).FaceSource()
	if src == nil {
		t.Fatal("Expected FaceSource with a detector")
	}

	frame := &pipeline.Frame{Image: createTestImage(100, 100), Viewport: types.Rect{Width: 400, Height: 800}}
	faces, err := src.Faces(context.Background(), frame)
	if err != nil {
		t.Fatalf("Faces failed: %v", err)
	}
	if len(faces) != 1 {
		t.Fatalf("Expected 1 face, got %d", len(faces))
	}
	want := types.Rect{X: 100, Y: 200, Width: 200, Height: 400}
	if faces[0].BoundingBox != want {
		t.Errorf("Expected %v, got %v", want, faces[0].BoundingBox)
	}
}

func TestCheckVision(t *testing.T) {
	reply, err := newGate(&fakeClient{}).CheckVision(context.Background(), createTestImage(100, 100))
	if err != nil {
		t.Fatalf("CheckVision failed: %v", err)
	}
	if reply != "a person" {
		t.Errorf("Expected model reply, got %q", reply)
	}
	if _, err := New(nil).CheckVision(context.Background(), createTestImage(100, 100)); !errors.Is(err, ErrNoDetector) {
		t.Errorf("Expected ErrNoDetector, got %v", err)
	}
}
