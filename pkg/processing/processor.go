package processing

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"github.com/menta2k/capturegate/pkg/types"
)

// maxDownloadSize caps images fetched over HTTP
const maxDownloadSize = 32 << 20

// Processor handles image processing operations
type Processor struct {
	httpClient *http.Client
}

// NewProcessor creates a new image processor
func NewProcessor() *Processor {
	return &Processor{httpClient: &http.Client{Timeout: 30 * time.Second}}
}

// Source is a loaded frame: the decoded image plus its original bytes,
// which still carry the EXIF block.
type Source struct {
	Image image.Image
	Raw   []byte
}

// LoadSmart loads an image from either a file path or an http(s) URL
func (p *Processor) LoadSmart(source string) (*Source, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return p.LoadURL(source)
	}
	return p.LoadFile(source)
}

// LoadFile reads and decodes an image file
func (p *Processor) LoadFile(path string) (*Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	img, err := p.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &Source{Image: img, Raw: data}, nil
}

// LoadURL downloads and decodes an image
func (p *Processor) LoadURL(imageURL string) (*Source, error) {
	parsedURL, err := url.Parse(imageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, fmt.Errorf("unsupported URL scheme: %s (only http and https are supported)", parsedURL.Scheme)
	}

	req, err := http.NewRequest(http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "capture-gate/1.0")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download image: HTTP %d %s", resp.StatusCode, resp.Status)
	}
	if contentType := resp.Header.Get("Content-Type"); !strings.HasPrefix(contentType, "image/") {
		return nil, fmt.Errorf("URL does not point to an image (Content-Type: %s)", contentType)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read image data: %w", err)
	}
	img, err := p.Decode(data)
	if err != nil {
		return nil, err
	}
	return &Source{Image: img, Raw: data}, nil
}

// Decode decodes jpeg, png or webp bytes, honouring the EXIF orientation.
// webp is decoded through the golang.org/x/image/webp registration.
func (p *Processor) Decode(data []byte) (image.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("image: unknown or unsupported format: %w", err)
	}
	return img, nil
}

// Viewport returns the full image area as a viewport rectangle
func (p *Processor) Viewport(img image.Image) types.Rect {
	b := img.Bounds()
	return types.Rect{X: 0, Y: 0, Width: float64(b.Dx()), Height: float64(b.Dy())}
}

// ValidateImage checks that an image is at least minSize on both sides
func (p *Processor) ValidateImage(img image.Image, minSize int) error {
	b := img.Bounds()
	if b.Dx() < minSize || b.Dy() < minSize {
		return fmt.Errorf("image too small: %dx%d (minimum: %d)", b.Dx(), b.Dy(), minSize)
	}
	return nil
}

// PrepareImageForModel converts an image to base64 for sending to vision models
func (p *Processor) PrepareImageForModel(img image.Image, format string, maxDim int, quality int) (string, error) {
	if maxDim > 0 {
		b := img.Bounds()
		w, h := b.Dx(), b.Dy()
		if w > maxDim || h > maxDim {
			if w >= h {
				img = imaging.Resize(img, maxDim, 0, imaging.Lanczos)
			} else {
				img = imaging.Resize(img, 0, maxDim, imaging.Lanczos)
			}
		}
	}

	var buf bytes.Buffer
	switch strings.ToLower(format) {
	case "png":
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		if err := enc.Encode(&buf, img); err != nil {
			return "", err
		}
	default: // jpg
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return "", err
		}
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// CropPortrait crops the image around a face, padded by padding times the face size
// on each side, and clipped to the image bounds.
func (p *Processor) CropPortrait(img image.Image, face types.Rect, padding float64) (image.Image, error) {
	padX := face.Width * padding
	padY := face.Height * padding
	rect := image.Rect(
		int(math.Floor(face.X-padX)),
		int(math.Floor(face.Y-padY)),
		int(math.Ceil(face.X+face.Width+padX)),
		int(math.Ceil(face.Y+face.Height+padY)),
	).Intersect(img.Bounds())
	if rect.Empty() {
		return nil, fmt.Errorf("empty crop rectangle")
	}
	return imaging.Crop(img, rect), nil
}

// SaveImage saves an image to a file with the specified format and quality
func (p *Processor) SaveImage(img image.Image, path, format string, quality int, lossless bool) error {
	switch strings.ToLower(format) {
	case "webp":
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		opts := &webp.Options{Lossless: lossless, Quality: float32(quality)}
		return webp.Encode(f, img, opts)
	case "png":
		return imaging.Save(img, path)
	default: // jpg/jpeg
		return imaging.Save(img, path, imaging.JPEGQuality(quality))
	}
}

// Overlay colors
var (
	acceptedColor = color.NRGBA{0, 255, 0, 255}
	rejectedColor = color.NRGBA{255, 0, 0, 255}
	viewportColor = color.NRGBA{0, 170, 255, 255}
)

// CreateDebugOverlay draws the face boxes over the frame. Boxes are green when the
// decision allows capture and red otherwise; the viewport outline is blue.
func (p *Processor) CreateDebugOverlay(img image.Image, faces []types.FaceObservation, viewport types.Rect, decision types.CaptureDecision) image.Image {
	nrgba := imaging.Clone(img)
	w := nrgba.Bounds().Dx()
	h := nrgba.Bounds().Dy()
	stroke := int(math.Max(2, 0.004*float64(min(w, h))))

	drawRect(nrgba, viewport, viewportColor, 1)

	c := rejectedColor
	if decision.Allowed {
		c = acceptedColor
	}
	for _, f := range faces {
		drawRect(nrgba, f.BoundingBox, c, stroke)
	}
	return nrgba
}

func drawRect(img *image.NRGBA, r types.Rect, c color.NRGBA, stroke int) {
	x0 := int(math.Round(r.X))
	y0 := int(math.Round(r.Y))
	x1 := int(math.Round(r.X + r.Width))
	y1 := int(math.Round(r.Y + r.Height))
	if x1 <= x0 {
		x1 = x0 + 1
	}
	if y1 <= y0 {
		y1 = y0 + 1
	}
	for s := 0; s < stroke; s++ {
		drawHLine(img, y0+s, x0, x1, c)
		drawHLine(img, y1-1-s, x0, x1, c)
		drawVLine(img, x0+s, y0, y1, c)
		drawVLine(img, x1-1-s, y0, y1, c)
	}
}

func drawHLine(img *image.NRGBA, y, x0, x1 int, c color.NRGBA) {
	b := img.Bounds()
	if y < b.Min.Y || y >= b.Max.Y {
		return
	}
	x0 = max(x0, b.Min.X)
	x1 = min(x1, b.Max.X)
	for x := x0; x < x1; x++ {
		img.SetNRGBA(x, y, c)
	}
}

func drawVLine(img *image.NRGBA, x, y0, y1 int, c color.NRGBA) {
	b := img.Bounds()
	if x < b.Min.X || x >= b.Max.X {
		return
	}
	y0 = max(y0, b.Min.Y)
	y1 = min(y1, b.Max.Y)
	for y := y0; y < y1; y++ {
		img.SetNRGBA(x, y, c)
	}
}
