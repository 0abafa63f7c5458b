package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/segyhp/library-engine/internal/domain"
	apperrors "github.com/segyhp/library-engine/pkg/errors"
)

const (
	DefaultBaseURL          = "https://www.googleapis.com/books/v1"
	responseBodyReadLimit   = 1024
	defaultRequestTimeout   = 10 * time.Second
	googleBooksVolumeFields = "id,volumeInfo(title,authors,imageLinks)"
)

// GoogleBooks looks volumes up in the Google Books API.
type GoogleBooks struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// Option configures optional client behavior.
type Option func(*GoogleBooks)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(g *GoogleBooks) {
		if client != nil {
			g.httpClient = client
		}
	}
}

// WithBaseURL overrides the Google Books base URL.
func WithBaseURL(baseURL string) Option {
	return func(g *GoogleBooks) {
		if trimmed := strings.TrimSpace(baseURL); trimmed != "" {
			g.baseURL = strings.TrimRight(trimmed, "/")
		}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(g *GoogleBooks) {
		if timeout > 0 {
			g.httpClient = &http.Client{Timeout: timeout, Transport: g.httpClient.Transport}
		}
	}
}

// NewGoogleBooks builds the client. The API key is optional; anonymous
// requests are subject to lower quotas.
func NewGoogleBooks(apiKey string, opts ...Option) *GoogleBooks {
	client := &GoogleBooks{
		httpClient: &http.Client{Timeout: defaultRequestTimeout},
		baseURL:    DefaultBaseURL,
		apiKey:     strings.TrimSpace(apiKey),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client
}

type volumeResponse struct {
	ID         string `json:"id"`
	VolumeInfo struct {
		Title      string   `json:"title"`
		Authors    []string `json:"authors"`
		ImageLinks struct {
			SmallThumbnail string `json:"smallThumbnail"`
			Thumbnail      string `json:"thumbnail"`
		} `json:"imageLinks"`
	} `json:"volumeInfo"`
}

// Lookup fetches a single volume by id.
func (g *GoogleBooks) Lookup(ctx context.Context, bookID string) (*domain.BookSnapshot, error) {
	trimmed := strings.TrimSpace(bookID)
	if trimmed == "" {
		return nil, apperrors.WrapBookNotFound(bookID)
	}

	query := url.Values{}
	query.Set("fields", googleBooksVolumeFields)
	if g.apiKey != "" {
		query.Set("key", g.apiKey)
	}
	endpoint := fmt.Sprintf("%s/volumes/%s?%s", g.baseURL, url.PathEscape(trimmed), query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build volume request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute volume request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, apperrors.WrapBookNotFound(trimmed)
	case resp.StatusCode != http.StatusOK:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	var volume volumeResponse
	if err := json.NewDecoder(resp.Body).Decode(&volume); err != nil {
		return nil, fmt.Errorf("decode volume response: %w", err)
	}
	if strings.TrimSpace(volume.VolumeInfo.Title) == "" {
		return nil, apperrors.WrapBookNotFound(trimmed)
	}

	cover := volume.VolumeInfo.ImageLinks.Thumbnail
	if cover == "" {
		cover = volume.VolumeInfo.ImageLinks.SmallThumbnail
	}
	authors := volume.VolumeInfo.Authors
	if authors == nil {
		authors = []string{}
	}

	id := volume.ID
	if id == "" {
		id = trimmed
	}

	return &domain.BookSnapshot{
		ID:       id,
		Title:    volume.VolumeInfo.Title,
		Authors:  authors,
		CoverURL: secureURL(cover),
	}, nil
}

// Google serves thumbnails over plain http; browsers block mixed content.
func secureURL(raw string) string {
	if strings.HasPrefix(raw, "http://") {
		return "https://" + strings.TrimPrefix(raw, "http://")
	}
	return raw
}
