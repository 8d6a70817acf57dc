package readiness

import "github.com/menta2k/capturegate/pkg/types"

// Advisory messages shown to the user for each rejection reason
const (
	MessageFaceCount         = "Make sure exactly one face is in view"
	MessageFaceTooFar        = "Please bring phone near to your face to capture clear image"
	MessageExposureMissing   = "Unable to read camera exposure, hold still"
	MessageInsufficientLight = "Not enough light"
)

// Advisory returns the message for a decision reason. Acceptance has no message.
func Advisory(reason types.Reason) string {
	switch reason {
	case types.ReasonFaceCountInvalid:
		return MessageFaceCount
	case types.ReasonFaceTooFar:
		return MessageFaceTooFar
	case types.ReasonExposureUnavailable:
		return MessageExposureMissing
	case types.ReasonInsufficientLight:
		return MessageInsufficientLight
	default:
		return ""
	}
}
