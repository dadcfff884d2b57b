package gemini

import (
	"context"
	"fmt"
)

const (
	BackendREST = "rest"
	BackendSDK  = "sdk"
)

// Open builds the Generator for backend: the REST client or the genai SDK.
func Open(ctx context.Context, backend string, opts Options) (Generator, error) {
	switch backend {
	case "", BackendREST:
		return New(opts), nil
	case BackendSDK:
		return NewSDK(ctx, opts)
	default:
		return nil, fmt.Errorf("unknown gemini backend %q", backend)
	}
}
