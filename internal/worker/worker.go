// Package worker runs the shop's background tasks: deferred cache
// invalidation, ban flag restoration and rate limiter upkeep.
package worker

import "context"

// Worker is a long-running background task.
type Worker interface {
	// Run blocks until ctx is cancelled or an unrecoverable error occurs.
	Run(ctx context.Context) error
}
