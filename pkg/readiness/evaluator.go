// Package readiness decides whether a frame is good enough to take a portrait photo.
//
// A frame passes when exactly one face is visible, the face covers enough of the
// viewport and the scene is bright enough according to its EXIF exposure values.
package readiness

import (
	"fmt"

	"github.com/menta2k/capturegate/pkg/types"
)

// Default thresholds used by New
const (
	DefaultMinOverlapPercent   = 18.0
	DefaultMinLuminosity       = 4.0
	DefaultCalibrationConstant = 50.0
)

// Config holds the gate thresholds
type Config struct {
	MinOverlapPercent   float64 `json:"min_overlap_percent"`
	MinLuminosity       float64 `json:"min_luminosity"`
	CalibrationConstant float64 `json:"calibration_constant"`
}

// DefaultConfig returns the standard thresholds
func DefaultConfig() Config {
	return Config{
		MinOverlapPercent:   DefaultMinOverlapPercent,
		MinLuminosity:       DefaultMinLuminosity,
		CalibrationConstant: DefaultCalibrationConstant,
	}
}

// Evaluator turns one frame's observations into a CaptureDecision.
// It holds no per-frame state and is safe for concurrent use.
type Evaluator struct {
	config Config
}

// New creates an Evaluator with default thresholds
func New() *Evaluator {
	return &Evaluator{config: DefaultConfig()}
}

// NewWithConfig creates an Evaluator with custom thresholds
func NewWithConfig(config Config) *Evaluator {
	return &Evaluator{config: config}
}

// Config returns the thresholds in use
func (e *Evaluator) Config() Config {
	return e.config
}

// Evaluate applies the face-count, overlap and luminosity gates.
//
// Every metric that can be computed is filled in even when an earlier gate already
// rejected the frame. When the exposure sample is invalid the returned error wraps
// types.ErrInvalidExposureData and the decision is never allowed.
func (e *Evaluator) Evaluate(faces []types.FaceObservation, exposure types.ExposureSample, viewport types.Rect) (types.CaptureDecision, error) {
	metrics := types.Metrics{FaceCount: len(faces)}

	if len(faces) == 1 {
		metrics.OverlapPercent = OverlapPercent(faces[0].BoundingBox, viewport)
		metrics.OverlapKnown = true
	}

	exposureErr := exposure.Validate()
	if exposureErr == nil {
		metrics.Luminosity = Luminosity(exposure, e.config.CalibrationConstant)
		metrics.LuminosityKnown = true
	}

	decision := types.CaptureDecision{Metrics: metrics}
	switch {
	case len(faces) != 1:
		decision.Reason = types.ReasonFaceCountInvalid
	// Negated comparisons so a NaN metric fails its gate
	case !(metrics.OverlapPercent >= e.config.MinOverlapPercent):
		decision.Reason = types.ReasonFaceTooFar
	case exposureErr != nil:
		decision.Reason = types.ReasonExposureUnavailable
	case !(metrics.Luminosity >= e.config.MinLuminosity):
		decision.Reason = types.ReasonInsufficientLight
	default:
		decision.Allowed = true
		decision.Reason = types.ReasonNone
	}

	if exposureErr != nil {
		return decision, fmt.Errorf("evaluate frame: %w", exposureErr)
	}
	return decision, nil
}

// OverlapPercent returns how much of the viewport is covered by the face box, in percent.
// Disjoint rectangles and a viewport without area give 0.
func OverlapPercent(face, viewport types.Rect) float64 {
	viewportArea := viewport.Area()
	if viewportArea == 0 {
		return 0
	}
	intersection := viewport.Intersect(face).Area()
	return intersection * 100 / viewportArea
}

// Luminosity estimates scene brightness from the exposure triple:
// k * fNumber^2 / (exposureTime * iso). The sample must already be valid.
func Luminosity(exposure types.ExposureSample, k float64) float64 {
	return (k * exposure.FNumber * exposure.FNumber) / (exposure.ExposureTime * exposure.ISOSpeed)
}
