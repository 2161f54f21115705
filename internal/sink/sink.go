// Package sink persists decoded report output under deterministic keys.
// Existence checks against those keys are what make whole runs idempotent:
// a re-run sees the key and skips the window without touching the remote API.
package sink

import (
	"context"
)

type Sink interface {
	// Exists reports whether output for key was already written.
	Exists(ctx context.Context, key string) (bool, error)
	// Write stores data under key, overwriting any partial previous content.
	Write(ctx context.Context, key string, data []byte, contentType string) error
}
