package chrono

import (
	"context"
	"time"
)

// API is the interface that anything depending on the system clock should use.
//
// note: fault injection point
type API interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done, whichever is first. It only
	// returns an error (ctx.Err()) when it was interrupted.
	Sleep(ctx context.Context, d time.Duration) error
}

// StandardImpl is the standard implementation of API using the standard library.
type StandardImpl struct{}

func NewStandardImpl() StandardImpl {
	return StandardImpl{}
}

func (StandardImpl) Now() time.Time {
	return time.Now()
}

func (StandardImpl) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
