package upload

import (
	"fmt"
	"strings"

	"github.com/jo-hoe/guestbook/internal/backend/imageprocessing"
)

// Reason identifies the gatekeeper step an upload failed.
type Reason string

const (
	ReasonExtension     Reason = "extension"
	ReasonMime          Reason = "mime"
	ReasonMimeMismatch  Reason = "mime_mismatch"
	ReasonTooSmall      Reason = "too_small"
	ReasonTooLarge      Reason = "too_large"
	ReasonNullBytes     Reason = "null_bytes"
	ReasonVerifyFailed  Reason = "verify_failed"
	ReasonVerifyTimeout Reason = "verify_timeout"
	ReasonPNGMismatch   Reason = "png_extension_mismatch"
	ReasonJPEGMismatch  Reason = "jpeg_extension_mismatch"
	ReasonExotic        Reason = "exotic_format"
	ReasonStorage       Reason = "storage"
	// ReasonCancelled means the request went away during verification.
	ReasonCancelled Reason = "cancelled"
)

// maxMimeEcho bounds how much of a claimed content type is echoed back.
const maxMimeEcho = 64

const sniffFailedMessage = "Your 'image' failed a basic sniff test. Better luck on your next exploit attempt."

// Message returns the user-facing text for the reason.
func (r Reason) Message() string {
	switch r {
	case ReasonExtension:
		return "That extension isn't on the guest list. .png, .jpg, .jpeg only XD. nice try though."
	case ReasonMime:
		return "We asked for an image, not that. Foiled again, hacker friend."
	case ReasonMimeMismatch:
		return "Disguising a file type? Bold. Unfortunately, we can see the mustache."
	case ReasonPNGMismatch:
		return "Says PNG, dresses as JPEG. Identity crisis detected."
	case ReasonJPEGMismatch:
		return "That JPEG tried to sneak in with the wrong badge. Denied."
	case ReasonExotic:
		return "Exotic format. Cool. Unsupported. Bye."
	case ReasonTooLarge:
		return "That file is thicc. Shrink it and try again, mastermind."
	case ReasonStorage, ReasonCancelled:
		return "An error occurred while saving. Please try again."
	default:
		return sniffFailedMessage
	}
}

// Rejection is returned by Admit when an upload is refused. It is a client
// error, never a server fault.
type Rejection struct {
	Reason Reason
	// Mime is the claimed content type for ReasonMime.
	Mime string
	// Sniff is the image check that failed for ReasonVerifyFailed.
	Sniff imageprocessing.Reason
	// LimitBytes is the size cap for ReasonTooLarge.
	LimitBytes int64
	Err        error
}

func (r *Rejection) Error() string {
	msg := "upload rejected: " + string(r.Reason)
	if r.Sniff != imageprocessing.ReasonNone {
		msg += " (" + string(r.Sniff) + ")"
	}
	if r.Err != nil {
		msg += ": " + r.Err.Error()
	}
	return msg
}

func (r *Rejection) Unwrap() error {
	return r.Err
}

// Message returns the mocking but accurate text shown to the visitor.
func (r *Rejection) Message() string {
	switch r.Reason {
	case ReasonMime:
		return fmt.Sprintf("We asked for an image, not '%s'. Foiled again, hacker friend.", truncateMime(r.Mime))
	case ReasonTooLarge:
		if r.LimitBytes > 0 {
			return fmt.Sprintf("That file is thicc. Our %dMB door says no. Shrink it and try again, mastermind.", (r.LimitBytes+(1<<19))>>20)
		}
	}
	return r.Reason.Message()
}

// AttackShaped reports whether the rejection looks like resource exhaustion
// rather than an honest mistake.
func (r *Rejection) AttackShaped() bool {
	switch r.Reason {
	case ReasonTooLarge, ReasonNullBytes, ReasonVerifyTimeout:
		return true
	case ReasonVerifyFailed:
		return r.Sniff.IsAttackShaped()
	}
	return false
}

func truncateMime(mime string) string {
	if len(mime) <= maxMimeEcho {
		return mime
	}
	return strings.ToValidUTF8(mime[:maxMimeEcho], "") + "..."
}
