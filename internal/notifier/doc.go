// Package notifier delivers reminder messages through a transport adapter.
//
// Sends are synchronous: the caller blocks through the rate limiter and any
// retries, so the dispatcher sees the final outcome of every delivery. A
// token bucket keeps the bot under the chat platform's flood limits and
// failed attempts are retried with jittered exponential backoff.
//
// # History
//
// The service keeps a small in-memory ring of recent deliveries for /status
// and the HTTP API.
package notifier
