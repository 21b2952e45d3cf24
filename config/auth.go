package config

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AuthConfig holds the service account credentials and endpoint overrides.
type AuthConfig struct {
	Username string `json:"username"`
	Password string `json:"password"`
	// ClientID identifies this app install. Generated once when absent;
	// persist it to keep write frames attributable to the same install.
	ClientID   string `json:"client_id"`
	AuthURL    string `json:"auth_url"`
	ServiceURL string `json:"service_url"`
	// CachedToken and CachedExpiry seed the token cache from a previous
	// run so a restart does not always cost a login.
	CachedToken  string    `json:"cached_token"`
	CachedExpiry time.Time `json:"cached_expiry"`
}

// SetDefaults applies sane defaults.
func (c *AuthConfig) SetDefaults() {
	if c.ClientID == "" {
		c.ClientID = uuid.NewString()
	}
}

// Validate checks mandatory fields.
func (c AuthConfig) Validate() error {
	if c.Username == "" {
		return fmt.Errorf("auth: username is required")
	}
	if c.Password == "" {
		return fmt.Errorf("auth: password is required")
	}
	return nil
}
