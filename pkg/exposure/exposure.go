// Package exposure builds exposure samples from EXIF metadata.
package exposure

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/tiff"

	"github.com/menta2k/capturegate/pkg/types"
)

// Metadata dictionary keys, as found in camera frame attachments
const (
	KeyExif         = "{Exif}"
	KeyFNumber      = "FNumber"
	KeyExposureTime = "ExposureTime"
	KeyISOSpeed     = "ISOSpeedRatings"
)

// FromEXIF reads FNumber, ExposureTime and the first ISOSpeedRatings value from
// an EXIF-bearing image stream (JPEG or TIFF).
func FromEXIF(r io.Reader) (types.ExposureSample, error) {
	x, err := exif.Decode(r)
	if err != nil {
		return types.ExposureSample{}, fmt.Errorf("%w: decode exif: %v", types.ErrInvalidExposureData, err)
	}

	fNumber, err := rationalField(x, exif.FNumber)
	if err != nil {
		return types.ExposureSample{}, err
	}
	exposureTime, err := rationalField(x, exif.ExposureTime)
	if err != nil {
		return types.ExposureSample{}, err
	}

	isoTag, err := x.Get(exif.ISOSpeedRatings)
	if err != nil {
		return types.ExposureSample{}, fmt.Errorf("%w: %s: %v", types.ErrInvalidExposureData, exif.ISOSpeedRatings, err)
	}
	iso, err := isoTag.Int(0)
	if err != nil {
		return types.ExposureSample{}, fmt.Errorf("%w: %s: %v", types.ErrInvalidExposureData, exif.ISOSpeedRatings, err)
	}

	sample := types.ExposureSample{
		FNumber:      fNumber,
		ExposureTime: exposureTime,
		ISOSpeed:     float64(iso),
	}
	return sample, sample.Validate()
}

func rationalField(x *exif.Exif, name exif.FieldName) (float64, error) {
	tag, err := x.Get(name)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", types.ErrInvalidExposureData, name, err)
	}
	if tag.Format() != tiff.RatVal {
		return 0, fmt.Errorf("%w: %s is not a rational", types.ErrInvalidExposureData, name)
	}
	num, den, err := tag.Rat2(0)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", types.ErrInvalidExposureData, name, err)
	}
	if den == 0 {
		return 0, fmt.Errorf("%w: %s has zero denominator", types.ErrInvalidExposureData, name)
	}
	return float64(num) / float64(den), nil
}

// FromAttachments reads the exposure triple from a frame attachment dictionary
// holding an "{Exif}" sub-dictionary.
func FromAttachments(attachments map[string]any) (types.ExposureSample, error) {
	raw, ok := attachments[KeyExif]
	if !ok {
		return types.ExposureSample{}, fmt.Errorf("%w: no %s dictionary", types.ErrInvalidExposureData, KeyExif)
	}
	exifData, ok := raw.(map[string]any)
	if !ok {
		return types.ExposureSample{}, fmt.Errorf("%w: %s is %T, not a dictionary", types.ErrInvalidExposureData, KeyExif, raw)
	}
	return FromMetadata(exifData)
}

// FromMetadata reads the exposure triple from an EXIF dictionary. ISOSpeedRatings may
// be a single number or a list, in which case the first entry is used.
// Missing keys and unexpected value types yield ErrInvalidExposureData.
func FromMetadata(exifData map[string]any) (types.ExposureSample, error) {
	fNumber, err := numberField(exifData, KeyFNumber, false)
	if err != nil {
		return types.ExposureSample{}, err
	}
	exposureTime, err := numberField(exifData, KeyExposureTime, false)
	if err != nil {
		return types.ExposureSample{}, err
	}
	iso, err := numberField(exifData, KeyISOSpeed, true)
	if err != nil {
		return types.ExposureSample{}, err
	}

	sample := types.ExposureSample{FNumber: fNumber, ExposureTime: exposureTime, ISOSpeed: iso}
	return sample, sample.Validate()
}

func numberField(data map[string]any, key string, allowList bool) (float64, error) {
	raw, ok := data[key]
	if !ok || raw == nil {
		return 0, fmt.Errorf("%w: missing %s", types.ErrInvalidExposureData, key)
	}
	if allowList {
		switch list := raw.(type) {
		case []any:
			if len(list) == 0 {
				return 0, fmt.Errorf("%w: %s is empty", types.ErrInvalidExposureData, key)
			}
			raw = list[0]
		case []float64:
			if len(list) == 0 {
				return 0, fmt.Errorf("%w: %s is empty", types.ErrInvalidExposureData, key)
			}
			raw = list[0]
		case []int:
			if len(list) == 0 {
				return 0, fmt.Errorf("%w: %s is empty", types.ErrInvalidExposureData, key)
			}
			raw = list[0]
		}
	}
	v, ok := toFloat(raw)
	if !ok {
		return 0, fmt.Errorf("%w: %s is %T, not a number", types.ErrInvalidExposureData, key, raw)
	}
	return v, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
