package domain

// Outcome is the terminal result of one export run.
type Outcome string

const (
	// OutcomeSuccess means a complete archive reached the sink.
	OutcomeSuccess Outcome = "success"

	// OutcomeCancelled means the caller cancelled; the sink was aborted.
	OutcomeCancelled Outcome = "cancelled"

	// OutcomeError means the export failed. A salvaged partial archive may
	// still exist at the destination, but the caller must treat the export
	// as incomplete.
	OutcomeError Outcome = "error"

	// OutcomeUnavailable means no sink backend could be constructed in the
	// current runtime; callers should fall back to a non-streaming export.
	OutcomeUnavailable Outcome = "unavailable"
)

// ExportRequest describes one export: which files, under what archive title.
// It is immutable for the duration of the export.
type ExportRequest struct {
	Files []FileRef
	Title string
	Part  int // optional -partN suffix for split exports
}

// ExportProgress receives per-file results incrementally, as each file
// settles. Both callbacks may be nil.
type ExportProgress struct {
	// OnFileSuccess is invoked once per file that was fully written.
	// fileCount is always 1; a live photo that produced two entries still
	// counts as a single file.
	OnFileSuccess func(id FileID, fileCount int)

	// OnFileFailure is invoked once per file that could not be exported.
	OnFileFailure func(id FileID, err error)
}

// ExportError wraps an error with export file context.
type ExportError struct {
	FileID FileID
	Op     string
	Err    error
}

func (e *ExportError) Error() string {
	if e.FileID != "" {
		return e.Op + " [" + e.FileID.String() + "]: " + e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *ExportError) Unwrap() error {
	return e.Err
}
