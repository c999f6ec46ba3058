// Package client mirrors the signed in user on the client side of accountd.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync"
	"time"

	"accountd/core"
)

// ResponseError is returned when the server answers with a non-200 status.
type ResponseError struct {
	StatusCode int
	Body       string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// Store holds the current user snapshot. The snapshot is only ever replaced as
// a whole, and the last request to complete wins.
type Store struct {
	baseURL    string
	httpClient *http.Client

	mu   sync.RWMutex
	user *core.User
}

func NewStore(baseURL string) (*Store, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	return NewStoreWithClient(baseURL, &http.Client{
		Jar:     jar,
		Timeout: 10 * time.Second,
	}), nil
}

// NewStoreWithClient uses httpClient as is. The client needs a cookie jar for
// the session to survive between calls.
func NewStoreWithClient(baseURL string, httpClient *http.Client) *Store {
	return &Store{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// User returns the current snapshot, or nil when signed out.
func (s *Store) User() *core.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

func (s *Store) setUser(user *core.User) {
	s.mu.Lock()
	s.user = user
	s.mu.Unlock()
}

// Hydrate seeds the snapshot from server-provided session state.
func (s *Store) Hydrate(state *core.SessionState) {
	if state == nil || state.User == nil {
		return
	}
	s.setUser(state.User)
}

// Login signs in with local credentials. On failure the snapshot is left as is.
func (s *Store) Login(ctx context.Context, username, password string) (*core.User, error) {
	return s.authenticate(ctx, "/login", username, password)
}

func (s *Store) Register(ctx context.Context, username, password string) (*core.User, error) {
	return s.authenticate(ctx, "/register", username, password)
}

func (s *Store) authenticate(ctx context.Context, path, username, password string) (*core.User, error) {
	body, err := json.Marshal(map[string]string{
		"username": username,
		"password": password,
	})
	if err != nil {
		return nil, err
	}

	resp, err := s.post(ctx, path, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := checkResponse(resp); err != nil {
		return nil, err
	}

	var user core.User
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("failed to decode user: %w", err)
	}

	s.setUser(&user)
	return &user, nil
}

// Logout asks the server to end the session. The snapshot is cleared whatever
// the outcome.
func (s *Store) Logout(ctx context.Context) {
	defer s.setUser(nil)

	resp, err := s.post(ctx, "/logout", nil)
	if err != nil {
		return
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

// Refresh reloads the snapshot from GET /session and returns the pending
// flash messages.
func (s *Store) Refresh(ctx context.Context) (map[string][]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/session", nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := checkResponse(resp); err != nil {
		return nil, err
	}

	var state core.SessionState
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}

	s.setUser(state.User)
	return state.Flash, nil
}

func (s *Store) post(ctx context.Context, path string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return s.httpClient.Do(req)
}

func checkResponse(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	body, _ := io.ReadAll(resp.Body)
	return &ResponseError{StatusCode: resp.StatusCode, Body: string(body)}
}
