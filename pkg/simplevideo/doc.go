// Package simplevideo provides the video ingest pipeline: it turns object
// storage change notifications into catalog records, derives a preview
// image, republishes assets to a remote serving host and answers catalog
// queries.
//
// It exposes a single Service interface built from pluggable backends.
// Repositories (memory, Postgres, MongoDB, DynamoDB), blob stores (memory,
// S3), instance controllers (memory, EC2) and media tooling (ffmpeg) are
// provided under subpackages.
//
// Record lifecycle
//
// A VideoAsset is keyed by its object key. Every write is a field-level
// upsert so that duplicate notifications and concurrent enrichment steps
// never create a second record or clobber fields written by another step.
// Head metadata failures are the only extraction failures that prevent a
// record from being written; probe and thumbnail failures degrade the
// record instead.
package simplevideo
