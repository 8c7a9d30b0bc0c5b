package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	twitchTokenURL  = "https://id.twitch.tv/oauth2/token"
	twitchUsersURL  = "https://api.twitch.tv/helix/users"
	httpCallTimeout = 10 * time.Second
)

// twitchOAuthClient exchanges an authorization code for tokens and the
// identity of the user who granted them.
type twitchOAuthClient interface {
	ExchangeCodeForToken(ctx context.Context, code string) (*twitchTokenResult, error)
}

type twitchTokenResult struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int
	UserID       string
	Login        string
	DisplayName  string
}

type twitchOAuthHTTPClient struct {
	clientID     string
	clientSecret string
	redirectURI  string
	tokenURL     string
	usersURL     string
	httpClient   *http.Client
}

func newTwitchOAuthClient(clientID, clientSecret, redirectURI string) *twitchOAuthHTTPClient {
	return &twitchOAuthHTTPClient{
		clientID:     clientID,
		clientSecret: clientSecret,
		redirectURI:  redirectURI,
		tokenURL:     twitchTokenURL,
		usersURL:     twitchUsersURL,
		httpClient:   &http.Client{Timeout: httpCallTimeout},
	}
}

func (c *twitchOAuthHTTPClient) ExchangeCodeForToken(ctx context.Context, code string) (*twitchTokenResult, error) {
	result, err := c.exchangeCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("token exchange failed: %w", err)
	}

	if err := c.fetchTwitchUser(ctx, result); err != nil {
		return nil, fmt.Errorf("user info fetch failed: %w", err)
	}
	return result, nil
}

func (c *twitchOAuthHTTPClient) exchangeCode(ctx context.Context, code string) (*twitchTokenResult, error) {
	form := url.Values{}
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)
	form.Set("code", code)
	form.Set("grant_type", "authorization_code")
	form.Set("redirect_uri", c.redirectURI)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("twitch returned status %d", resp.StatusCode)
	}

	var tokenResp struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return nil, errors.New("no access token in response")
	}

	return &twitchTokenResult{
		AccessToken:  tokenResp.AccessToken,
		RefreshToken: tokenResp.RefreshToken,
		ExpiresIn:    tokenResp.ExpiresIn,
	}, nil
}

func (c *twitchOAuthHTTPClient) fetchTwitchUser(ctx context.Context, result *twitchTokenResult) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.usersURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create user request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+result.AccessToken)
	req.Header.Set("Client-Id", c.clientID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute user request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("twitch user API returned status %d", resp.StatusCode)
	}

	var userResp struct {
		Data []struct {
			ID          string `json:"id"`
			Login       string `json:"login"`
			DisplayName string `json:"display_name"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&userResp); err != nil {
		return fmt.Errorf("failed to decode user response: %w", err)
	}
	if len(userResp.Data) == 0 {
		return errors.New("no user data returned")
	}

	user := userResp.Data[0]
	result.UserID = user.ID
	result.Login = user.Login
	result.DisplayName = user.DisplayName
	if result.DisplayName == "" {
		result.DisplayName = user.Login
	}
	return nil
}
