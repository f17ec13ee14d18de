// Package blob provides object storage access for project files and
// AI response documents.
package blob

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound           = errors.New("blob not found")
	ErrPreconditionFailed = errors.New("blob precondition failed")
)

// Stat describes a stored object. ETag doubles as the optimistic
// concurrency token for conditional writes.
type Stat struct {
	ETag string
	Size int64
}

// WriteCondition guards an Upload. The zero value writes unconditionally
// (last writer wins).
type WriteCondition struct {
	// IfMatch requires the current object ETag to equal this value.
	IfMatch string
	// IfAbsent requires that no object exists at the path yet.
	IfAbsent bool
}

type Store interface {
	Download(ctx context.Context, path string) ([]byte, Stat, error)
	Upload(ctx context.Context, path string, data []byte, contentType string, cond WriteCondition) (Stat, error)
	Exists(ctx context.Context, path string) (bool, error)
	PresignGet(ctx context.Context, path string, expiry time.Duration) (string, error)
}
