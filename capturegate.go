// Package capturegate decides whether a portrait photo may be captured.
//
// A frame passes the gate when exactly one face is visible, the face covers
// enough of the viewport and the scene is bright enough according to the
// camera's exposure settings. The root package wires a vision-model face
// detector, the EXIF exposure reader and the readiness evaluator for single
// images; pkg/pipeline runs the same gate over a live stream of frames.
//
// Basic usage:
//
//	package main
//
//	import (
//		"context"
//		"fmt"
//		"log"
//
//		"github.com/menta2k/capturegate"
//		"github.com/menta2k/capturegate/pkg/detection"
//		"github.com/menta2k/capturegate/pkg/llamacpp"
//	)
//
//	func main() {
//		client, err := llamacpp.NewClient("http://localhost:8080")
//		if err != nil {
//			log.Fatal(err)
//		}
//		gate := capturegate.New(detection.NewDetector(client, "openbmb/minicpm-v4.5"))
//
//		res, err := gate.EvaluateFile(context.Background(), "selfie.jpg")
//		if err != nil && !capturegate.IsExposureError(err) {
//			log.Fatal(err)
//		}
//		fmt.Printf("allowed=%v reason=%s advisory=%q\n",
//			res.Decision.Allowed, res.Decision.Reason, res.Advisory)
//	}
//
// The gates are evaluated in a fixed order and a single reason is reported:
//
//  1. Face count: exactly one face must be detected.
//  2. Overlap: the face must cover at least 18% of the viewport.
//  3. Exposure: fNumber, exposure time and ISO must all be present and positive.
//  4. Luminosity: 50 * f² / (t * ISO) must be at least 4.
//
// All metrics are computed even when an earlier gate rejects the frame.
package capturegate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/menta2k/capturegate/pkg/detection"
	"github.com/menta2k/capturegate/pkg/exposure"
	"github.com/menta2k/capturegate/pkg/pipeline"
	"github.com/menta2k/capturegate/pkg/processing"
	"github.com/menta2k/capturegate/pkg/readiness"
	"github.com/menta2k/capturegate/pkg/types"
)

// Version of the capture gate library
const Version = "1.0.0"

// ErrNoDetector is returned when an image is evaluated without a face detector
var ErrNoDetector = errors.New("no face detector configured")

// Options controls how images are prepared for the face detector
type Options struct {
	SendFormat   string `json:"send_format"`
	SendSize     int    `json:"send_size"`
	SendQuality  int    `json:"send_quality"`
	MinImageSize int    `json:"min_image_size"`
}

// DefaultOptions returns the default image preparation options
func DefaultOptions() Options {
	return Options{
		SendFormat:   "jpg",
		SendSize:     1024,
		SendQuality:  85,
		MinImageSize: 64,
	}
}

// Gate evaluates still images against the capture readiness rules
type Gate struct {
	processor *processing.Processor
	detector  *detection.Detector
	evaluator *readiness.Evaluator
	opts      Options
}

// New creates a Gate with default thresholds. detector may be nil when faces
// are supplied by the caller.
func New(detector *detection.Detector) *Gate {
	return NewWithConfig(detector, readiness.DefaultConfig(), DefaultOptions())
}

// NewWithConfig creates a Gate with custom thresholds and preparation options
func NewWithConfig(detector *detection.Detector, gateConfig readiness.Config, opts Options) *Gate {
	return &Gate{
		processor: processing.NewProcessor(),
		detector:  detector,
		evaluator: readiness.NewWithConfig(gateConfig),
		opts:      opts,
	}
}

// Result is the outcome of evaluating one image
type Result struct {
	Source   string                  `json:"source,omitempty"`
	Decision types.CaptureDecision   `json:"decision"`
	Advisory string                  `json:"advisory,omitempty"`
	Faces    []types.FaceObservation `json:"faces"`
	Exposure types.ExposureSample    `json:"exposure"`
	Viewport types.Rect              `json:"viewport"`
	Image    image.Image             `json:"-"`
}

// IsExposureError reports whether err only says the exposure data was unusable.
// The Result that came with such an error is still a complete decision.
func IsExposureError(err error) bool {
	return errors.Is(err, types.ErrInvalidExposureData)
}

// Processor returns the image processor used by the gate
func (g *Gate) Processor() *processing.Processor {
	return g.processor
}

// Evaluator returns the readiness evaluator used by the gate
func (g *Gate) Evaluator() *readiness.Evaluator {
	return g.evaluator
}

// EvaluateFile loads an image from a path or URL, reads its EXIF exposure and evaluates it
func (g *Gate) EvaluateFile(ctx context.Context, source string) (Result, error) {
	src, err := g.processor.LoadSmart(source)
	if err != nil {
		return Result{Source: source}, err
	}
	res, err := g.EvaluateSource(ctx, src)
	res.Source = source
	return res, err
}

// EvaluateSource evaluates a loaded image using the exposure found in its EXIF block.
// Missing EXIF yields ReasonExposureUnavailable unless an earlier gate rejects.
func (g *Gate) EvaluateSource(ctx context.Context, src *processing.Source) (Result, error) {
	sample, _ := ReadExposure(src)
	return g.EvaluateImage(ctx, src.Image, sample)
}

// EvaluateImage detects faces in img and evaluates them with the given exposure.
// The viewport is the full image.
func (g *Gate) EvaluateImage(ctx context.Context, img image.Image, sample types.ExposureSample) (Result, error) {
	if g.detector == nil {
		return Result{}, ErrNoDetector
	}
	if err := g.processor.ValidateImage(img, g.opts.MinImageSize); err != nil {
		return Result{}, err
	}

	viewport := g.processor.Viewport(img)
	faces, err := g.detectFaces(ctx, img, viewport)
	if err != nil {
		return Result{Viewport: viewport, Exposure: sample, Image: img}, err
	}

	res, err := g.Evaluate(faces, sample, viewport)
	res.Image = img
	return res, err
}

// Evaluate runs the gate over faces the caller already has
func (g *Gate) Evaluate(faces []types.FaceObservation, sample types.ExposureSample, viewport types.Rect) (Result, error) {
	decision, err := g.evaluator.Evaluate(faces, sample, viewport)
	return Result{
		Decision: decision,
		Advisory: readiness.Advisory(decision.Reason),
		Faces:    faces,
		Exposure: sample,
		Viewport: viewport,
	}, err
}

// FaceSource adapts the gate's detector for use in a pipeline. It returns nil
// when the gate has no detector, so the pipeline uses the faces on each frame.
func (g *Gate) FaceSource() pipeline.FaceSource {
	if g.detector == nil {
		return nil
	}
	return pipeline.FaceSourceFunc(func(ctx context.Context, frame *pipeline.Frame) ([]types.FaceObservation, error) {
		if frame.Image == nil {
			return frame.Faces, nil
		}
		return g.detectFaces(ctx, frame.Image, frame.Viewport)
	})
}

// CheckVision asks the model to describe img, to confirm the backend is reachable
// and the model accepts images.
func (g *Gate) CheckVision(ctx context.Context, img image.Image) (string, error) {
	if g.detector == nil {
		return "", ErrNoDetector
	}
	imgB64, err := g.processor.PrepareImageForModel(img, g.opts.SendFormat, g.opts.SendSize, g.opts.SendQuality)
	if err != nil {
		return "", fmt.Errorf("failed to prepare image: %w", err)
	}
	reply, err := g.detector.TestVision(ctx, imgB64)
	if err != nil {
		return "", fmt.Errorf("vision check failed: %w", err)
	}
	return reply, nil
}

func (g *Gate) detectFaces(ctx context.Context, img image.Image, viewport types.Rect) ([]types.FaceObservation, error) {
	imgB64, err := g.processor.PrepareImageForModel(img, g.opts.SendFormat, g.opts.SendSize, g.opts.SendQuality)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare image: %w", err)
	}
	faces, err := g.detector.Observe(ctx, imgB64, viewport)
	if err != nil {
		return nil, fmt.Errorf("face detection failed: %w", err)
	}
	return faces, nil
}

// ReadExposure reads the exposure sample from the EXIF block of a loaded image
func ReadExposure(src *processing.Source) (types.ExposureSample, error) {
	if src == nil || len(src.Raw) == 0 {
		return types.ExposureSample{}, fmt.Errorf("no image data: %w", types.ErrInvalidExposureData)
	}
	return exposure.FromEXIF(bytes.NewReader(src.Raw))
}
