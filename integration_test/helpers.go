package integration_test

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"time"

	"accountd/core"

	_ "modernc.org/sqlite"
)

// newBrowser returns a client that keeps cookies and follows redirects, like
// a user agent going through the OAuth dance.
func newBrowser() *http.Client {
	jar, _ := cookiejar.New(nil)
	return &http.Client{Jar: jar, Timeout: 5 * time.Second}
}

// signInWith starts the provider flow and returns the session state the flow
// lands on.
func signInWith(client *http.Client, baseURL string, provider core.Provider) (*core.SessionState, error) {
	resp, err := client.Get(baseURL + "/auth/" + string(provider))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("flow ended with status %d at %s", resp.StatusCode, resp.Request.URL)
	}
	return parseSessionState(resp)
}

func getSessionState(client *http.Client, baseURL string) (*core.SessionState, error) {
	resp, err := client.Get(baseURL + "/session")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return parseSessionState(resp)
}

func parseSessionState(resp *http.Response) (*core.SessionState, error) {
	var state core.SessionState
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return nil, err
	}
	return &state, nil
}

func countUsers(dbPath string) (int, error) {
	return count(dbPath, "SELECT COUNT(*) FROM users")
}

func countProviderLinks(dbPath string, provider core.Provider) (int, error) {
	return count(dbPath, "SELECT COUNT(*) FROM user_providers WHERE provider = ?", string(provider))
}

func count(dbPath, query string, args ...any) (int, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return 0, err
	}
	defer db.Close()

	var n int
	err = db.QueryRow(query, args...).Scan(&n)
	return n, err
}

func storedAccessTokens(dbPath string, provider core.Provider) ([]string, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.Query("SELECT access_token FROM user_tokens WHERE kind = ?", string(provider))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []string
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			return nil, err
		}
		tokens = append(tokens, token)
	}

	return tokens, rows.Err()
}

func cleanDatabase(dbPath string) error {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	for _, table := range []string{"user_tokens", "user_providers", "users"} {
		if _, err := db.Exec("DELETE FROM " + table); err != nil {
			return err
		}
	}
	return nil
}
