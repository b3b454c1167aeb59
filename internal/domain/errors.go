package domain

import "errors"

// Domain errors.
var (
	// ErrFileNotFound is returned when a file cannot be found in the store.
	ErrFileNotFound = errors.New("file not found")

	// ErrCollectionNotFound is returned when a collection cannot be found.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrJobNotFound is returned when an export job cannot be found.
	ErrJobNotFound = errors.New("export job not found")

	// ErrNoJobs is returned when there are no export jobs to process.
	ErrNoJobs = errors.New("no jobs available")

	// ErrSinkUnavailable is returned when no sink backend can be
	// constructed in the current runtime.
	ErrSinkUnavailable = errors.New("no archive sink available")

	// ErrSinkClosed is returned when writing to a sink that has already
	// been closed or aborted.
	ErrSinkClosed = errors.New("archive sink closed")

	// ErrWriteDropped is returned when chunk accounting detects that a
	// write was requested but never queued to the sink. It is fatal: an
	// archive with a hole must never be reported as a success.
	ErrWriteDropped = errors.New("archive write dropped")

	// ErrFetchFailed is returned when a file's bytes could not be fetched
	// after all retries.
	ErrFetchFailed = errors.New("file fetch failed")

	// ErrURLExpired is returned when the file URL has expired.
	ErrURLExpired = errors.New("file URL has expired")

	// ErrRateLimited is returned when rate limited by the remote store.
	ErrRateLimited = errors.New("rate limited")

	// ErrExportCancelled is returned when the export was cancelled by the
	// caller. It is a terminal outcome, not a failure.
	ErrExportCancelled = errors.New("export cancelled")

	// ErrLivePhotoIncomplete is returned when a live photo is missing its
	// image or video half.
	ErrLivePhotoIncomplete = errors.New("live photo missing image or video part")
)
