package detection

import (
	"context"
	"errors"
	"sort"

	"github.com/menta2k/capturegate/pkg/client"
	"github.com/menta2k/capturegate/pkg/modeljson"
	"github.com/menta2k/capturegate/pkg/types"
)

// DefaultPrompt is the default prompt for face localisation
const DefaultPrompt = `You are a face locator for a selfie camera.

Return JSON only:
{
  "faces": [
    {"box": {"x": 0.0, "y": 0.0, "w": 0.0, "h": 0.0}, "confidence": 0.0}
  ]
}

HARD RULES
- List every human face you can see, one entry per face.
- All coordinates are normalized to [0,1] (NOT pixels), origin at the top-left corner.
- x,y is the top-left corner of the box, w,h its width and height.
- The box should tightly enclose the face from hairline to chin.
- Do not guess identities. Do not describe the image.
- If there is no face, return {"faces": []}.
- JSON only. No markdown, no code fences, no comments, no trailing commas.`

// DefaultMinConfidence discards low-confidence faces
const DefaultMinConfidence = 0.3

// Detector locates faces using a vision model
type Detector struct {
	client        client.VisionClient
	model         string
	prompt        string
	minConfidence float64
}

// NewDetector creates a new detector with a vision client
func NewDetector(client client.VisionClient, model string) *Detector {
	return &Detector{
		client:        client,
		model:         model,
		prompt:        DefaultPrompt,
		minConfidence: DefaultMinConfidence,
	}
}

// SetPrompt overrides the detection prompt
func (d *Detector) SetPrompt(prompt string) {
	d.prompt = prompt
}

// SetMinConfidence sets the confidence below which faces are dropped
func (d *Detector) SetMinConfidence(minConfidence float64) {
	d.minConfidence = minConfidence
}

// DetectFaces returns the faces found in a base64-encoded image, largest first.
// An unparseable model reply is reported as no faces.
func (d *Detector) DetectFaces(ctx context.Context, imageB64 string) ([]types.DetectedFace, error) {
	result, err := d.client.DetectFaces(ctx, d.model, d.prompt, imageB64)
	if err != nil && !errors.Is(err, modeljson.ErrUnparseableReply) {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}

	faces := make([]types.DetectedFace, 0, len(result.Faces))
	for _, f := range result.Faces {
		if f.Confidence < d.minConfidence {
			continue
		}
		f.Box = normalizeBox(f.Box)
		if f.Box.W <= 0 || f.Box.H <= 0 {
			continue
		}
		faces = append(faces, f)
	}
	sort.SliceStable(faces, func(i, j int) bool {
		return faces[i].Box.W*faces[i].Box.H > faces[j].Box.W*faces[j].Box.H
	})
	return faces, nil
}

// Observe detects faces and converts them into viewport coordinates
func (d *Detector) Observe(ctx context.Context, imageB64 string, viewport types.Rect) ([]types.FaceObservation, error) {
	faces, err := d.DetectFaces(ctx, imageB64)
	if err != nil {
		return nil, err
	}
	return ToObservations(faces, viewport), nil
}

// TestVision checks that the model can see the image at all
func (d *Detector) TestVision(ctx context.Context, imageB64 string) (string, error) {
	return d.client.SimpleQuery(ctx, d.model, "What do you see in this image? Describe it briefly.", imageB64)
}

// ToObservations maps normalized face boxes onto the viewport
func ToObservations(faces []types.DetectedFace, viewport types.Rect) []types.FaceObservation {
	out := make([]types.FaceObservation, 0, len(faces))
	for _, f := range faces {
		out = append(out, types.FaceObservation{
			BoundingBox: ToViewport(f.Box, viewport),
			Confidence:  f.Confidence,
		})
	}
	return out
}

// ToViewport converts a normalized box into viewport coordinates
func ToViewport(b types.Box, viewport types.Rect) types.Rect {
	return types.Rect{
		X:      viewport.X + b.X*viewport.Width,
		Y:      viewport.Y + b.Y*viewport.Height,
		Width:  b.W * viewport.Width,
		Height: b.H * viewport.Height,
	}
}

// clamp ensures a value is within the given bounds
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// normalizeBox clips a box to the unit square
func normalizeBox(b types.Box) types.Box {
	x0 := clamp(b.X, 0, 1)
	y0 := clamp(b.Y, 0, 1)
	x1 := clamp(b.X+b.W, 0, 1)
	y1 := clamp(b.Y+b.H, 0, 1)
	return types.Box{X: x0, Y: y0, W: x1 - x0, H: y1 - y0}
}
