package types

import (
	"fmt"
	"math"
)

// Box represents a normalized bounding box with coordinates in [0,1] range
type Box struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Rect is an axis-aligned rectangle in viewport coordinates (pixels or points)
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Area returns the area of the rectangle, 0 for degenerate rectangles
func (r Rect) Area() float64 {
	if r.Width <= 0 || r.Height <= 0 {
		return 0
	}
	return r.Width * r.Height
}

// Empty reports whether the rectangle has no area
func (r Rect) Empty() bool {
	return r.Area() == 0
}

// Intersect returns the overlapping rectangle of r and o.
// The result is the zero Rect when they do not overlap.
func (r Rect) Intersect(o Rect) Rect {
	x0 := math.Max(r.X, o.X)
	y0 := math.Max(r.Y, o.Y)
	x1 := math.Min(r.X+r.Width, o.X+o.Width)
	y1 := math.Min(r.Y+r.Height, o.Y+o.Height)
	if x1 <= x0 || y1 <= y0 {
		return Rect{}
	}
	return Rect{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
}

func (r Rect) String() string {
	return fmt.Sprintf("%.1fx%.1f@%.1f,%.1f", r.Width, r.Height, r.X, r.Y)
}

// FaceObservation is one face detected in a single frame
type FaceObservation struct {
	BoundingBox Rect    `json:"bounding_box"`
	Confidence  float64 `json:"confidence"`
}

// ExposureSample carries the EXIF exposure triple of a frame
type ExposureSample struct {
	FNumber      float64 `json:"f_number"`
	ExposureTime float64 `json:"exposure_time"` // seconds
	ISOSpeed     float64 `json:"iso_speed"`
}

// Validate checks that every field is a finite positive number
func (e ExposureSample) Validate() error {
	fields := []struct {
		name  string
		value float64
	}{
		{"f_number", e.FNumber},
		{"exposure_time", e.ExposureTime},
		{"iso_speed", e.ISOSpeed},
	}
	for _, f := range fields {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) || f.value <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %v", ErrInvalidExposureData, f.name, f.value)
		}
	}
	return nil
}

// Reason explains why capture is or is not allowed
type Reason int

const (
	ReasonNone Reason = iota
	ReasonFaceCountInvalid
	ReasonFaceTooFar
	ReasonExposureUnavailable
	ReasonInsufficientLight
)

var reasonNames = map[Reason]string{
	ReasonNone:                "none",
	ReasonFaceCountInvalid:    "face_count_invalid",
	ReasonFaceTooFar:          "face_too_far",
	ReasonExposureUnavailable: "exposure_unavailable",
	ReasonInsufficientLight:   "insufficient_light",
}

func (r Reason) String() string {
	if name, ok := reasonNames[r]; ok {
		return name
	}
	return fmt.Sprintf("reason(%d)", int(r))
}

// MarshalText encodes the reason by name
func (r Reason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText decodes a reason name
func (r *Reason) UnmarshalText(text []byte) error {
	for reason, name := range reasonNames {
		if name == string(text) {
			*r = reason
			return nil
		}
	}
	return fmt.Errorf("unknown reason %q", string(text))
}

// Metrics holds the measurements behind a decision.
// OverlapKnown and LuminosityKnown mark which values could be computed.
type Metrics struct {
	FaceCount       int     `json:"face_count"`
	OverlapPercent  float64 `json:"overlap_percent"`
	OverlapKnown    bool    `json:"overlap_known"`
	Luminosity      float64 `json:"luminosity"`
	LuminosityKnown bool    `json:"luminosity_known"`
}

// CaptureDecision is the per-frame verdict of the readiness gate
type CaptureDecision struct {
	Allowed bool    `json:"allowed"`
	Reason  Reason  `json:"reason"`
	Metrics Metrics `json:"metrics"`
}

// FaceDetectionResult contains the faces reported by a vision model
type FaceDetectionResult struct {
	Faces []DetectedFace `json:"faces"`
}

// DetectedFace is a single face in normalized coordinates
type DetectedFace struct {
	Box        Box     `json:"box"`
	Confidence float64 `json:"confidence"`
}
