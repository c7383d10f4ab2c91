package app

import (
	"context"

	"school-session-agent/internal/domain"
)

// ActivityClient loads activities and submits attempts against the backend.
type ActivityClient interface {
	LoadActivity(ctx context.Context, activityID, token string) (domain.Activity, error)
	SubmitAttempt(ctx context.Context, activityID string, sub domain.Submission, token string) (domain.SubmissionResult, error)
}

// RecordClient delivers attendance batches to the backend.
type RecordClient interface {
	SubmitBatch(ctx context.Context, sessionID string, batch domain.AttendanceBatch, token string) error
}

// LocalStore is durable key-value storage local to one device (memory, Redis).
// Read reports ok=false when the key is absent.
type LocalStore interface {
	Write(ctx context.Context, key string, value []byte) error
	Read(ctx context.Context, key string) (value []byte, ok bool, err error)
	Delete(ctx context.Context, key string) error
}

// UnloadGuard asks the page to confirm before unloading while records are unsaved.
type UnloadGuard interface {
	Arm(sessionID string, pending int)
	Disarm(sessionID string)
}
