// Package coordinator schedules segment fetches for every requested variant
// across a bounded worker pool. Failures isolate per track: a variant dying
// fatally drops only its own pending work while the rest of the session
// continues, and each variant signals readiness the moment its segment
// store completes so downstream stages never wait on unrelated tracks.
package coordinator
