// Package modeljson cleans up and parses JSON replies from vision models.
package modeljson

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/menta2k/capturegate/pkg/types"
)

// ErrUnparseableReply is returned when a model reply holds no usable JSON.
var ErrUnparseableReply = errors.New("unparseable model reply")

var (
	reBlock    = regexp.MustCompile(`(?s)/\*.*?\*/`)
	reLine     = regexp.MustCompile(`(?m)^\s*//.*$`)
	reInline   = regexp.MustCompile(`(?m)//.*$`)
	reTrailing = regexp.MustCompile(`,(\s*[}\]])`)
)

// Sanitize removes code fences, comments, and trailing commas from a JSON reply
func Sanitize(raw string) string {
	raw = strings.TrimSpace(raw)

	// Strip triple-backtick fences if present
	if strings.HasPrefix(raw, "```") {
		if i := strings.Index(raw, "\n"); i >= 0 {
			raw = raw[i+1:]
		}
		if j := strings.LastIndex(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}
	raw = strings.TrimSpace(raw)
	raw = strings.Trim(raw, "`")

	raw = reBlock.ReplaceAllString(raw, "")
	raw = reLine.ReplaceAllString(raw, "")
	raw = reInline.ReplaceAllString(raw, "")
	raw = reTrailing.ReplaceAllString(raw, "$1")

	// Keep only the outermost {...}
	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			raw = raw[start : end+1]
		}
	}
	return strings.TrimSpace(raw)
}

// ParseFaces decodes a face detection reply.
//
// A reply that cannot be decoded yields an empty result together with
// ErrUnparseableReply, so callers can treat the frame as having no face.
func ParseFaces(raw string) (*types.FaceDetectionResult, error) {
	cleaned := Sanitize(raw)
	if !strings.HasPrefix(cleaned, "{") {
		return &types.FaceDetectionResult{}, fmt.Errorf("%w: no json object found", ErrUnparseableReply)
	}

	var result types.FaceDetectionResult
	if err := json.Unmarshal([]byte(cleaned), &result); err != nil {
		return &types.FaceDetectionResult{}, fmt.Errorf("%w: %v", ErrUnparseableReply, err)
	}
	return &result, nil
}
