package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPStore resolves profiles through the server's profile endpoint. It is
// the store used by tracker clients, which have no direct database access.
type HTTPStore struct {
	baseURL string
	client  *http.Client
}

// NewHTTPStore constructs an HTTPStore for the server at baseURL.
func NewHTTPStore(baseURL string) *HTTPStore {
	return &HTTPStore{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// GetUser fetches the profile from GET /api/profile/{id}.
func (s *HTTPStore) GetUser(ctx context.Context, id string) (User, error) {
	endpoint := s.baseURL + "/api/profile/" + url.PathEscape(id)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return User{}, fmt.Errorf("build profile request: %w", err)
	}

	res, err := s.client.Do(req)
	if err != nil {
		return User{}, fmt.Errorf("fetch profile %s: %w", id, err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return User{}, ErrNotFound
	}
	if res.StatusCode != http.StatusOK {
		return User{}, fmt.Errorf("fetch profile %s: unexpected status %d", id, res.StatusCode)
	}

	var envelope struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Data    struct {
			User User `json:"user"`
		} `json:"data"`
	}

	if err := json.NewDecoder(res.Body).Decode(&envelope); err != nil {
		return User{}, fmt.Errorf("decode profile %s: %w", id, err)
	}

	if envelope.Code != 0 {
		return User{}, ErrNotFound
	}

	return envelope.Data.User, nil
}
