// Package auth はマーケットプレイスOAuthによる認証とセッション管理を提供する。
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const (
	defaultAuthURL  = "https://auth.mercadolibre.com.ar/authorization"
	defaultTokenURL = "https://api.mercadolibre.com/oauth/token"
)

// OAuthConfig はマーケットプレイスOAuthプロバイダーの設定。
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// テスト用にオーバーライド可能なURL
	AuthURL  string
	TokenURL string
}

// Token は認可コード交換で得られるアクセストークン。
// コアはAccessTokenを不透明な文字列として扱い、内部構造を解釈しない。
type Token struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	UserID       int64  `json:"user_id"`
	RefreshToken string `json:"refresh_token"`
}

// OAuthProvider は認可コードフローのインターフェース。
// テスト時にモックに差し替え可能。
type OAuthProvider interface {
	GetLoginURL(state string) string
	ExchangeCode(ctx context.Context, code string) (*Token, error)
}

// MeliOAuthProvider はマーケットプレイスのOAuth 2.0認可コードフローを提供する。
type MeliOAuthProvider struct {
	config OAuthConfig
}

// NewMeliOAuthProvider はMeliOAuthProviderを生成する。
func NewMeliOAuthProvider(config OAuthConfig) *MeliOAuthProvider {
	if config.AuthURL == "" {
		config.AuthURL = defaultAuthURL
	}
	if config.TokenURL == "" {
		config.TokenURL = defaultTokenURL
	}
	return &MeliOAuthProvider{config: config}
}

// GetLoginURL はマーケットプレイスの認可URLを生成する。
func (p *MeliOAuthProvider) GetLoginURL(state string) string {
	params := url.Values{
		"response_type": {"code"},
		"client_id":     {p.config.ClientID},
		"redirect_uri":  {p.config.RedirectURL},
		"state":         {state},
	}
	return p.config.AuthURL + "?" + params.Encode()
}

// ExchangeCode は認可コードをアクセストークンに交換する。
func (p *MeliOAuthProvider) ExchangeCode(ctx context.Context, code string) (*Token, error) {
	data := url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {p.config.ClientID},
		"client_secret": {p.config.ClientSecret},
		"code":          {code},
		"redirect_uri":  {p.config.RedirectURL},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token exchange failed with status %d: %s", resp.StatusCode, string(body))
	}

	var token Token
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}

	if token.AccessToken == "" {
		return nil, fmt.Errorf("empty access token in response")
	}

	return &token, nil
}

// compile-time interface check
var _ OAuthProvider = (*MeliOAuthProvider)(nil)
