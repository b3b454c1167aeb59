package store

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/clearshot/photoarc/internal/config"
	"github.com/clearshot/photoarc/internal/domain"
)

func newTestStore(baseURL string) *HTTPStore {
	return NewHTTPStore(config.StoreConfig{
		BaseURL:   baseURL,
		AuthToken: "secret-token",
		Timeout:   5 * time.Second,
	})
}

func TestHTTPStore_FetchBytes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/files/f1" {
			t.Errorf("path = %q, want /files/f1", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret-token" {
			t.Errorf("Authorization = %q", got)
		}
		w.Write([]byte("payload-bytes"))
	}))
	defer srv.Close()

	s := newTestStore(srv.URL)
	rc, err := s.FetchBytes(context.Background(), domain.FileRef{ID: "f1"})
	if err != nil {
		t.Fatalf("FetchBytes: %v", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read payload: %v", err)
	}
	if string(data) != "payload-bytes" {
		t.Errorf("payload = %q, want %q", data, "payload-bytes")
	}
}

func TestHTTPStore_StatusMapping(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr error
	}{
		{"forbidden means expired link", http.StatusForbidden, domain.ErrURLExpired},
		{"unauthorized means expired link", http.StatusUnauthorized, domain.ErrURLExpired},
		{"too many requests", http.StatusTooManyRequests, domain.ErrRateLimited},
		{"not found", http.StatusNotFound, domain.ErrFileNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			s := newTestStore(srv.URL)
			_, err := s.FetchBytes(context.Background(), domain.FileRef{ID: "f1"})
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("FetchBytes = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestHTTPStore_FetchBytesUnexpectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer srv.Close()

	s := newTestStore(srv.URL)
	_, err := s.FetchBytes(context.Background(), domain.FileRef{ID: "f1"})
	if err == nil {
		t.Fatal("expected an error for an unexpected status")
	}
}

func TestHTTPStore_FetchLivePhoto(t *testing.T) {
	var imageFetched, videoFetched bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/files/lp1/live":
			w.Write([]byte(`{"image_name":"sunset.heic","video_name":"sunset.mov"}`))
		case "/files/lp1/image":
			imageFetched = true
			w.Write([]byte("image-bytes"))
		case "/files/lp1/video":
			videoFetched = true
			w.Write([]byte("video-bytes"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	s := newTestStore(srv.URL)
	lp, err := s.FetchLivePhoto(context.Background(), domain.FileRef{ID: "lp1", Type: domain.FileTypeLivePhoto})
	if err != nil {
		t.Fatalf("FetchLivePhoto: %v", err)
	}
	if lp.ImageName != "sunset.heic" || lp.VideoName != "sunset.mov" {
		t.Errorf("names = %q/%q, want sunset.heic/sunset.mov", lp.ImageName, lp.VideoName)
	}

	// payloads are lazy: nothing fetched until opened
	if imageFetched || videoFetched {
		t.Fatal("payloads were fetched during manifest resolution")
	}

	rc, err := lp.Image(context.Background())
	if err != nil {
		t.Fatalf("open image: %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "image-bytes" {
		t.Errorf("image payload = %q", data)
	}

	rc, err = lp.Video(context.Background())
	if err != nil {
		t.Fatalf("open video: %v", err)
	}
	data, _ = io.ReadAll(rc)
	rc.Close()
	if string(data) != "video-bytes" {
		t.Errorf("video payload = %q", data)
	}
}

func TestHTTPStore_FetchLivePhotoIncompleteManifest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"image_name":"sunset.heic"}`))
	}))
	defer srv.Close()

	s := newTestStore(srv.URL)
	_, err := s.FetchLivePhoto(context.Background(), domain.FileRef{ID: "lp1"})
	if !errors.Is(err, domain.ErrLivePhotoIncomplete) {
		t.Fatalf("FetchLivePhoto = %v, want %v", err, domain.ErrLivePhotoIncomplete)
	}
}

func TestHTTPStore_NoAuthHeaderWithoutToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "" {
			t.Errorf("Authorization = %q, want unset", got)
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	s := NewHTTPStore(config.StoreConfig{BaseURL: srv.URL, Timeout: 5 * time.Second})
	rc, err := s.FetchBytes(context.Background(), domain.FileRef{ID: "f1"})
	if err != nil {
		t.Fatalf("FetchBytes: %v", err)
	}
	rc.Close()
}
