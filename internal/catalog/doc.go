// Package catalog defines the variant and segment data model plus the
// capability interface the acquisition pipeline consumes to resolve an
// episode into downloadable tracks. Concrete catalog clients live outside
// this repository; the pipeline only depends on the Service contract.
package catalog
