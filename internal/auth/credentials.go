package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"

	"github.com/xkilldash9x/harvest-cli/internal/config"
)

// ErrNoCredentials is returned when a login is needed but no username or
// password could be found.
var ErrNoCredentials = errors.New("no credentials available")

var (
	keyringGet = keyring.Get
	keyringSet = keyring.Set
)

// Credentials is the account used for form login.
type Credentials struct {
	Username string
	Password string
}

// Complete reports whether both parts are present.
func (c Credentials) Complete() bool { return c.Username != "" && c.Password != "" }

// Resolve returns the configured credentials. When the password is missing
// and the keyring is enabled, it is looked up under (service, username).
func Resolve(ctx context.Context, target config.TargetConfig) (Credentials, error) {
	if err := ctx.Err(); err != nil {
		return Credentials{}, err
	}
	creds := Credentials{Username: target.Username, Password: target.Password}
	if creds.Password == "" && target.UseKeyring && creds.Username != "" {
		secret, err := keyringGet(target.KeyringService, creds.Username)
		switch {
		case err == nil:
			creds.Password = secret
		case errors.Is(err, keyring.ErrNotFound):
		default:
			return Credentials{}, fmt.Errorf("failed to read keyring: %w", err)
		}
	}
	if !creds.Complete() {
		return creds, ErrNoCredentials
	}
	return creds, nil
}

// StorePassword saves password in the keyring for later runs.
func StorePassword(service, username, password string) error {
	if service == "" || username == "" {
		return fmt.Errorf("keyring service and username are required")
	}
	if err := keyringSet(service, username, password); err != nil {
		return fmt.Errorf("failed to write keyring: %w", err)
	}
	return nil
}
