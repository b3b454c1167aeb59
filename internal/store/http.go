package store

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/clearshot/photoarc/internal/config"
	"github.com/clearshot/photoarc/internal/domain"
)

// HTTPStore implements ByteStore against the remote file store API.
//
// Each fetch is a single attempt; the export pipeline owns retry policy
// so that retries stay confined to its fetch phase.
type HTTPStore struct {
	// client is used for short requests (manifests) with overall timeout
	client *http.Client
	// streamClient is used for payload streaming without overall timeout
	streamClient *http.Client
	baseURL      string
	authToken    string
	logger       *slog.Logger
}

// NewHTTPStore creates an HTTP-backed byte store.
func NewHTTPStore(cfg config.StoreConfig) *HTTPStore {
	streamTransport := &http.Transport{
		ResponseHeaderTimeout: 30 * time.Second,
	}

	return &HTTPStore{
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		streamClient: &http.Client{
			Transport: streamTransport,
			// No Timeout - payloads stream until the transport fails
			// or the caller cancels.
		},
		baseURL:   cfg.BaseURL,
		authToken: cfg.AuthToken,
		logger:    slog.Default(),
	}
}

// SetLogger sets the logger for fetch reporting.
func (s *HTTPStore) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

// FetchBytes streams the file's payload.
func (s *HTTPStore) FetchBytes(ctx context.Context, ref domain.FileRef) (io.ReadCloser, error) {
	return s.open(ctx, fmt.Sprintf("%s/files/%s", s.baseURL, ref.ID))
}

// FetchLivePhoto fetches the composite manifest and exposes both halves as
// lazy payloads backed by their own endpoints.
func (s *HTTPStore) FetchLivePhoto(ctx context.Context, ref domain.FileRef) (*LivePhoto, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/files/%s/live", s.baseURL, ref.ID), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	s.setHeaders(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch live photo manifest: %w", err)
	}
	defer resp.Body.Close()

	if err := statusError(resp.StatusCode); err != nil {
		return nil, err
	}

	var manifest struct {
		ImageName string `json:"image_name"`
		VideoName string `json:"video_name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&manifest); err != nil {
		return nil, fmt.Errorf("decode live photo manifest: %w", err)
	}
	if manifest.ImageName == "" || manifest.VideoName == "" {
		return nil, domain.ErrLivePhotoIncomplete
	}

	imageURL := fmt.Sprintf("%s/files/%s/image", s.baseURL, ref.ID)
	videoURL := fmt.Sprintf("%s/files/%s/video", s.baseURL, ref.ID)

	return &LivePhoto{
		ImageName: manifest.ImageName,
		VideoName: manifest.VideoName,
		Image: func(ctx context.Context) (io.ReadCloser, error) {
			return s.open(ctx, imageURL)
		},
		Video: func(ctx context.Context) (io.ReadCloser, error) {
			return s.open(ctx, videoURL)
		},
	}, nil
}

func (s *HTTPStore) open(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	s.setHeaders(req)

	resp, err := s.streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}

	if err := statusError(resp.StatusCode); err != nil {
		resp.Body.Close()
		return nil, err
	}

	return resp.Body, nil
}

func (s *HTTPStore) setHeaders(req *http.Request) {
	if s.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.authToken)
	}
	req.Header.Set("Accept", "*/*")
}

func statusError(code int) error {
	switch {
	case code == http.StatusOK:
		return nil
	case code == http.StatusForbidden || code == http.StatusUnauthorized:
		return domain.ErrURLExpired
	case code == http.StatusTooManyRequests:
		return domain.ErrRateLimited
	case code == http.StatusNotFound:
		return domain.ErrFileNotFound
	default:
		return fmt.Errorf("unexpected status code: %d", code)
	}
}
