// Package fetch downloads and decrypts individual media segments. Each
// fetch draws its transfer budget from the session's shared token bucket
// and retries transient network failures under an injected backoff policy.
// Decryption failures are terminal: bad key material can never succeed on
// retry, so they fail the owning track immediately.
package fetch
