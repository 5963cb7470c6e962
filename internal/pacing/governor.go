// Package pacing decides how long the pipeline waits between units of work.
//
// The source flags clients that navigate too quickly, the long batch pause in
// particular is there to stay under its abuse detection.
package pacing

import (
	"caselist-scout/internal/components/assert"
	"caselist-scout/internal/components/chrono"
	"context"
	"time"
)

type Delays struct {
	Unit  time.Duration
	Group time.Duration
	Batch time.Duration
	Retry time.Duration
	// Settle is waited after a navigation so late-rendered content has a
	// chance to arrive before it is parsed.
	Settle time.Duration
}

// DefaultDelays mirrors the pacing that has been observed to not trip the
// source's rate limiting.
func DefaultDelays() Delays {
	return Delays{
		Unit:   time.Millisecond * 500,
		Group:  time.Second,
		Batch:  time.Minute * 5,
		Retry:  time.Second * 3,
		Settle: time.Second * 2,
	}
}

// Governor is stateless, every method only waits. The only error it can
// return is the cancellation of ctx.
type Governor struct {
	delays Delays
	clock  chrono.API
}

func NewGovernor(delays Delays, clock chrono.API) Governor {
	assert.NotNil(clock)
	return Governor{delays: delays, clock: clock}
}

func (g Governor) Delays() Delays {
	return g.delays
}

func (g Governor) AfterUnit(ctx context.Context) error {
	return g.clock.Sleep(ctx, g.delays.Unit)
}

func (g Governor) AfterGroup(ctx context.Context) error {
	return g.clock.Sleep(ctx, g.delays.Group)
}

func (g Governor) AfterBatch(ctx context.Context) error {
	return g.clock.Sleep(ctx, g.delays.Batch)
}

func (g Governor) BeforeRetry(ctx context.Context) error {
	return g.clock.Sleep(ctx, g.delays.Retry)
}

func (g Governor) Settle(ctx context.Context) error {
	return g.clock.Sleep(ctx, g.delays.Settle)
}

// Batches splits groups into consecutive batches of at most size elements.
func Batches[T any](items []T, size int) [][]T {
	assert.Positive(size)

	var out [][]T
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		out = append(out, items[start:end])
	}
	return out
}
