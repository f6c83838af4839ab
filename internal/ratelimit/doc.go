// Package ratelimit provides the shared token bucket that caps aggregate
// download throughput. One bucket is constructed per session and handed to
// every fetcher; its refill/consume path is the only cross-worker mutation
// point in the download plane.
package ratelimit
