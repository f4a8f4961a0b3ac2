// Package dedupe remembers the outcome of operator requests that carry an
// Idempotency-Key so a retried POST is answered from memory instead of
// pushing the same message to the desks twice.
//
// # Lifecycle of a key
//
//	prior, ok := cache.Claim(key)
//	switch {
//	case prior != nil: // replay prior
//	case !ok:          // another request holds the key
//	default:           // run the request, then cache.Complete(key, resp)
//	}
//
// Entries expire after the configured TTL. When the cache is full the
// least recently claimed key is evicted, pending or not.
package dedupe
