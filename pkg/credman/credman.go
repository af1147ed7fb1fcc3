// Package credman stores download and proxy credentials in the
// operating system's keyring so they never land in the database as
// plaintext. Entries are keyed by the owning link request's token.
package credman

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

// service is the keyring service name used for all ghermez entries.
const service = "ghermez-download-manager"

// ErrNotFound is returned when no credentials exist for a token.
var ErrNotFound = errors.New("credentials not found")

// Credentials holds the secrets attached to one link request. All
// fields are optional; an empty field means "not configured".
type Credentials struct {
	DownloadUser     string `json:"download_user,omitempty"`
	DownloadPassword string `json:"download_passwd,omitempty"`
	ProxyUser        string `json:"proxy_user,omitempty"`
	ProxyPassword    string `json:"proxy_passwd,omitempty"`
}

// Empty reports whether no secret is set.
func (c Credentials) Empty() bool {
	return c == Credentials{}
}

// Save stores the credentials for token, replacing any previous entry.
func Save(token string, c Credentials) error {
	buf, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode credentials: %w", err)
	}
	if err := keyring.Set(service, token, string(buf)); err != nil {
		return fmt.Errorf("failed to store credentials: %w", err)
	}
	return nil
}

// Load retrieves the credentials for token. Returns ErrNotFound when
// no entry exists.
func Load(token string) (Credentials, error) {
	var c Credentials
	raw, err := keyring.Get(service, token)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return c, ErrNotFound
		}
		return c, fmt.Errorf("failed to read credentials: %w", err)
	}
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return c, fmt.Errorf("failed to decode credentials: %w", err)
	}
	return c, nil
}

// Delete removes the credentials for token. Deleting a missing entry
// is not an error.
func Delete(token string) error {
	err := keyring.Delete(service, token)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to delete credentials: %w", err)
	}
	return nil
}
