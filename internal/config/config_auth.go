package config

import "time"

type AuthConfig struct {
	JWTSecret   string         `yaml:"jwt_secret"`
	TokenExpiry time.Duration  `yaml:"token_expiry"`
	APIKeys     []APIKeyConfig `yaml:"api_keys"`
	OAuth       OAuthConfig    `yaml:"oauth"`

	// AdminToken protects the /admin/api/ surface; requests must carry it
	// as a bearer token. Admin routes are disabled when empty.
	AdminToken string `yaml:"admin_token"`

	// CredentialKey is the boot key for the encrypted credential store
	// (base64, 32 bytes once decoded). Read once at startup, never
	// hot-reloaded.
	CredentialKey string `yaml:"credential_key"`
}

type APIKeyConfig struct {
	Key    string `yaml:"key"`
	UserID string `yaml:"user_id"`
	Email  string `yaml:"email"`
	Name   string `yaml:"name"`
}

type OAuthConfig struct {
	Google OAuthProviderConfig `yaml:"google"`
	GitHub OAuthProviderConfig `yaml:"github"`
}

type OAuthProviderConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RedirectURL  string `yaml:"redirect_url"`
}
