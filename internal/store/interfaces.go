// Package store provides access to the external file store: byte payloads
// over HTTP and collection/file metadata in sqlite.
package store

import (
	"context"
	"io"

	"github.com/clearshot/photoarc/internal/domain"
)

// Payload is a lazy byte producer. It is invoked only when the archive
// writer is ready for the bytes, keeping peak memory bounded.
type Payload func(ctx context.Context) (io.ReadCloser, error)

// LivePhoto is a composite file decoded into its two halves. Payloads are
// lazy; neither half is materialized before the writer asks for it.
type LivePhoto struct {
	ImageName string
	VideoName string
	Image     Payload
	Video     Payload
}

// ByteStore fetches file payloads on demand.
type ByteStore interface {
	// FetchBytes returns a stream of the file's bytes. May fail
	// transiently; callers own retry policy.
	FetchBytes(ctx context.Context, ref domain.FileRef) (io.ReadCloser, error)

	// FetchLivePhoto decodes a composite file into its image and video
	// halves.
	FetchLivePhoto(ctx context.Context, ref domain.FileRef) (*LivePhoto, error)
}

// MetadataStore provides collection and file listings.
type MetadataStore interface {
	// GetCollection returns a collection with its files in stable order.
	GetCollection(ctx context.Context, id domain.CollectionID) (*domain.Collection, error)

	// ListCollections returns all collections without their files.
	ListCollections(ctx context.Context) ([]domain.Collection, error)
}
