package batch

import (
	"strings"

	"image-magic/internal/gemini"
)

const (
	msgAuth          = "API key error: the key is invalid or cannot use this model."
	msgQuota         = "Quota exceeded: wait a moment, then retry."
	msgContentPolicy = "Blocked by the content policy: adjust the instruction, then retry."
	msgGeneric       = "Processing failed."
)

// FailureMessage maps a generation error to the text shown on the item.
func FailureMessage(err error) string {
	if err == nil {
		return ""
	}
	switch gemini.KindOf(err) {
	case gemini.KindAuth:
		return msgAuth
	case gemini.KindQuota:
		return msgQuota
	case gemini.KindContentPolicy:
		return msgContentPolicy
	}
	if msg := strings.TrimSpace(err.Error()); msg != "" {
		return msg
	}
	return msgGeneric
}
