// Package notifier delivers group messages asynchronously.
//
// A notification is queued, deduplicated against a short window and sent by
// a small worker pool behind a token-bucket rate limiter. Failed sends are
// retried with exponential backoff; the final outcome is published on the
// event bus as notifier.sent or notifier.failed.
//
// # Dedup
//
// Identical text to the same chat inside DedupWindow is dropped. The window
// lives in memory and, with PersistDedup, also in a DedupStore (the storage
// backend or Redis) so a restart or a second replica does not resend it.
//
// # History
//
// For operator visibility the service keeps a small in-memory history of
// recently delivered messages.
package notifier
