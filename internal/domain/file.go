package domain

// FileID is a unique, stable identifier for a remote file.
type FileID string

// String returns the string representation of the FileID.
func (id FileID) String() string {
	return string(id)
}

// FileType distinguishes ordinary files from composite live photos.
type FileType string

const (
	// FileTypeOrdinary is a plain file that maps to one archive entry.
	FileTypeOrdinary FileType = "ordinary"

	// FileTypeLivePhoto is a composite file that decodes into two archive
	// entries: a still image and a short video clip.
	FileTypeLivePhoto FileType = "live_photo"
)

// FileRef identifies one remote file to be exported. It is supplied by the
// file store and read-only to the export pipeline.
type FileRef struct {
	ID          FileID   `json:"id"`
	Type        FileType `json:"type"`
	DisplayName string   `json:"display_name"`
	Size        int64    `json:"size,omitempty"`
}

// CollectionID identifies a collection of files.
type CollectionID string

// String returns the string representation of the CollectionID.
func (id CollectionID) String() string {
	return string(id)
}

// Collection is a named, ordered set of files.
type Collection struct {
	ID    CollectionID `json:"id"`
	Title string       `json:"title"`
	Files []FileRef    `json:"files,omitempty"`
}
