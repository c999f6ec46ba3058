package providers

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"accountd/core"

	"golang.org/x/oauth2"
)

func exchange(ctx context.Context, config *oauth2.Config, httpClient *http.Client, code, verifier string) (*core.Credentials, error) {
	if code == "" {
		return nil, fmt.Errorf("%w: missing code", core.ErrProviderTokenExchange)
	}

	var opts []oauth2.AuthCodeOption
	if verifier != "" {
		opts = append(opts, oauth2.VerifierOption(verifier))
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)
	token, err := config.Exchange(ctx, code, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrProviderTokenExchange, err)
	}

	return &core.Credentials{
		AccessToken: token.AccessToken,
		Secret:      token.RefreshToken,
	}, nil
}

func fetchProfileDocument(ctx context.Context, httpClient *http.Client, url, accessToken string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrProviderUserInfo, err)
	}

	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrProviderUserInfo, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrProviderUserInfo, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d: %s", core.ErrProviderUserInfo, resp.StatusCode, string(body))
	}

	return body, nil
}
