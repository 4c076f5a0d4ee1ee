// Package async provides panic-safe concurrent execution primitives for
// background work: Go for fire-and-forget tasks, Pool for bounded
// concurrency with error collection, and Batch for processing a slice
// of items with a temporary pool. The worker binary uses Batch to run
// per-tenant maintenance concurrently.
package async
