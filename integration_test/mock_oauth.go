package integration_test

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
)

type mockUser struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

var mockUsers = map[string]mockUser{
	"ann": {
		ID:      "google_ann",
		Email:   "ann@example.com",
		Name:    "Ann Example",
		Picture: "https://example.com/ann.jpg",
	},
	"bob": {
		ID:      "google_bob",
		Email:   "bob@example.com",
		Name:    "Bob Example",
		Picture: "https://example.com/bob.jpg",
	},
}

type pendingCode struct {
	user      mockUser
	challenge string
}

// MockOAuthServer plays Google: it authorizes whichever user was selected
// with SetNextUser, and checks the PKCE verifier on code exchange.
type MockOAuthServer struct {
	server *httptest.Server

	mu           sync.Mutex
	nextUser     string
	issued       int
	codes        map[string]pendingCode
	accessTokens map[string]mockUser
}

func NewMockOAuthServer() *MockOAuthServer {
	m := &MockOAuthServer{
		codes:        make(map[string]pendingCode),
		accessTokens: make(map[string]mockUser),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/authorize", m.handleAuthorize)
	mux.HandleFunc("/token", m.handleToken)
	mux.HandleFunc("/oauth2/v2/userinfo", m.handleUserInfo)

	m.server = httptest.NewServer(mux)
	return m
}

func (m *MockOAuthServer) URL() string {
	return m.server.URL
}

func (m *MockOAuthServer) Close() {
	m.server.Close()
}

// SetNextUser picks the account the next authorization is granted for.
// "deny" makes the user refuse consent.
func (m *MockOAuthServer) SetNextUser(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextUser = key
}

func (m *MockOAuthServer) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	redirectURI, err := url.Parse(query.Get("redirect_uri"))
	if err != nil || redirectURI.String() == "" {
		http.Error(w, "missing redirect_uri", http.StatusBadRequest)
		return
	}
	if query.Get("code_challenge_method") != "S256" || query.Get("code_challenge") == "" {
		http.Error(w, "PKCE required", http.StatusBadRequest)
		return
	}

	callback := url.Values{"state": {query.Get("state")}}

	m.mu.Lock()
	user, ok := mockUsers[m.nextUser]
	if ok {
		m.issued++
		code := fmt.Sprintf("code_%d", m.issued)
		m.codes[code] = pendingCode{user: user, challenge: query.Get("code_challenge")}
		callback.Set("code", code)
	} else {
		callback.Set("error", "access_denied")
	}
	m.mu.Unlock()

	redirectURI.RawQuery = callback.Encode()
	http.Redirect(w, r, redirectURI.String(), http.StatusFound)
}

func (m *MockOAuthServer) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	if r.PostForm.Get("grant_type") != "authorization_code" {
		writeOAuthError(w, http.StatusBadRequest, "unsupported_grant_type")
		return
	}

	code := r.PostForm.Get("code")
	sum := sha256.Sum256([]byte(r.PostForm.Get("code_verifier")))
	challenge := base64.RawURLEncoding.EncodeToString(sum[:])

	m.mu.Lock()
	pending, ok := m.codes[code]
	if ok {
		delete(m.codes, code)
	}
	valid := ok && pending.challenge == challenge
	if valid {
		m.accessTokens["access_"+code] = pending.user
	}
	m.mu.Unlock()

	if !valid {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"access_token":  "access_" + code,
		"refresh_token": "refresh_" + code,
		"expires_in":    3600,
		"token_type":    "Bearer",
	})
}

func (m *MockOAuthServer) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		writeOAuthError(w, http.StatusUnauthorized, "invalid_token")
		return
	}

	m.mu.Lock()
	user, ok := m.accessTokens[strings.TrimPrefix(auth, "Bearer ")]
	m.mu.Unlock()

	if !ok {
		writeOAuthError(w, http.StatusUnauthorized, "invalid_token")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"id":             user.ID,
		"email":          user.Email,
		"name":           user.Name,
		"picture":        user.Picture,
		"verified_email": true,
	})
}

func writeOAuthError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": code})
}
