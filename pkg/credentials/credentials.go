// Package credentials holds the search API credential sets and the
// round-robin pool the collector rotates through on rate limits.
package credentials

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyPool is returned when a pool is built without credentials.
	ErrEmptyPool = errors.New("credential pool is empty")

	// ErrMissingSecret is returned when a credential lacks one of its four secrets.
	ErrMissingSecret = errors.New("credential is missing a required secret")
)

// Credential is one complete OAuth1 authentication set for the search provider.
type Credential struct {
	ConsumerKey       string `json:"consumer_key" mapstructure:"consumer_key"`
	ConsumerSecret    string `json:"consumer_secret" mapstructure:"consumer_secret"`
	AccessToken       string `json:"access_token" mapstructure:"access_token"`
	AccessTokenSecret string `json:"access_token_secret" mapstructure:"access_token_secret"`
}

// CredentialError identifies the credential and field that failed validation.
type CredentialError struct {
	Index int
	Field string
}

// Error implements the error interface.
func (e *CredentialError) Error() string {
	return fmt.Sprintf("auth[%d]: %s is empty", e.Index, e.Field)
}

// Unwrap lets errors.Is match ErrMissingSecret.
func (e *CredentialError) Unwrap() error {
	return ErrMissingSecret
}

// Validate checks that all four secrets are present.
// The returned error is a *CredentialError with Index 0.
func (c Credential) Validate() error {
	return c.validate(0)
}

func (c Credential) validate(index int) error {
	fields := []struct {
		name  string
		value string
	}{
		{"consumer_key", c.ConsumerKey},
		{"consumer_secret", c.ConsumerSecret},
		{"access_token", c.AccessToken},
		{"access_token_secret", c.AccessTokenSecret},
	}
	for _, f := range fields {
		if f.value == "" {
			return &CredentialError{Index: index, Field: f.name}
		}
	}
	return nil
}

// ID returns a label safe to put in logs and metric labels.
func (c Credential) ID() string {
	key := c.ConsumerKey
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-2:]
}

// String hides the secrets when a credential ends up in a format verb.
func (c Credential) String() string {
	return "credential(" + c.ID() + ")"
}
