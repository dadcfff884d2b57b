package gemini

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
)

type Kind string

const (
	KindAuth          Kind = "auth"
	KindQuota         Kind = "quota"
	KindContentPolicy Kind = "content_policy"
	KindTransient     Kind = "transient"
	KindUnknown       Kind = "unknown"
)

// Error is returned by every Generator in this package. Kind is decided here,
// at the boundary, so callers never inspect message text.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	}
	return "gemini: " + string(e.Kind) + " error"
}

func (e *Error) Unwrap() error {
	return e.Err
}

func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	return KindUnknown
}

// authPhrase is what the API answers when the key cannot see the requested model.
const authPhrase = "Requested entity was not found"

var blockedFinishReasons = map[string]struct{}{
	"SAFETY":                   {},
	"PROHIBITED_CONTENT":       {},
	"BLOCKLIST":                {},
	"SPII":                     {},
	"IMAGE_SAFETY":             {},
	"IMAGE_PROHIBITED_CONTENT": {},
	"RECITATION":               {},
}

func classifyStatus(status int, apiStatus, message string) Kind {
	lower := strings.ToLower(message)
	switch {
	case strings.Contains(message, authPhrase),
		status == http.StatusUnauthorized,
		status == http.StatusForbidden,
		apiStatus == "PERMISSION_DENIED",
		apiStatus == "UNAUTHENTICATED",
		strings.Contains(lower, "api key not valid"),
		strings.Contains(lower, "api_key_invalid"):
		return KindAuth
	case status == http.StatusTooManyRequests, apiStatus == "RESOURCE_EXHAUSTED", strings.Contains(lower, "quota"):
		return KindQuota
	case status >= 500, apiStatus == "UNAVAILABLE", apiStatus == "DEADLINE_EXCEEDED":
		return KindTransient
	}
	return KindUnknown
}

func classifyTransport(err error) *Error {
	if errors.Is(err, context.Canceled) {
		return &Error{Kind: KindUnknown, Message: "request canceled: " + err.Error(), Err: err}
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &Error{Kind: KindTransient, Message: "request timed out: " + err.Error(), Err: err}
	}
	return &Error{Kind: KindTransient, Message: "request failed: " + err.Error(), Err: err}
}

func noImageError(blockReason, finishReason, text string) *Error {
	if blockReason != "" {
		return &Error{Kind: KindContentPolicy, Message: "prompt blocked: " + blockReason}
	}
	if _, ok := blockedFinishReasons[finishReason]; ok {
		return &Error{Kind: KindContentPolicy, Message: "generation stopped: " + finishReason}
	}
	msg := "No image generated in the response."
	if text = strings.TrimSpace(text); text != "" {
		msg += " Model said: " + truncate(text, 200)
	}
	return &Error{Kind: KindUnknown, Message: msg}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
