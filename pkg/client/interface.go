package client

import (
	"context"

	"github.com/menta2k/capturegate/pkg/types"
)

// VisionClient is a vision-model backend able to locate faces in an image
type VisionClient interface {
	SimpleQuery(ctx context.Context, model, prompt, imgB64 string) (string, error)
	DetectFaces(ctx context.Context, model, prompt, imgB64 string) (*types.FaceDetectionResult, error)
}
