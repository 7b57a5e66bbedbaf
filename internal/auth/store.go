// Package auth keeps the platform credentials saved by the login command.
package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNoCredentials is returned when nothing has been saved yet.
var ErrNoCredentials = errors.New("no saved credentials")

// Credentials identify the janitor to the platform API.
type Credentials struct {
	ServerURL string `json:"server_url,omitempty"`
	Token     string `json:"token"`
}

func credentialsPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve user config dir: %w", err)
	}

	return filepath.Join(configDir, "storage-janitor", "auth.json"), nil
}

func SaveCredentials(creds Credentials) error {
	if creds.Token == "" {
		return errors.New("token is empty")
	}

	filePath, err := credentialsPath()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0o700); err != nil {
		return fmt.Errorf("ensure config dir: %w", err)
	}

	payload, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}

	if err := os.WriteFile(filePath, payload, 0o600); err != nil {
		return fmt.Errorf("write credentials file: %w", err)
	}

	return nil
}

func LoadCredentials() (Credentials, error) {
	filePath, err := credentialsPath()
	if err != nil {
		return Credentials{}, err
	}

	payload, err := os.ReadFile(filePath)
	if errors.Is(err, os.ErrNotExist) {
		return Credentials{}, ErrNoCredentials
	}
	if err != nil {
		return Credentials{}, fmt.Errorf("read credentials file: %w", err)
	}

	var creds Credentials
	if err := json.Unmarshal(payload, &creds); err != nil {
		return Credentials{}, fmt.Errorf("decode credentials file: %w", err)
	}

	if creds.Token == "" {
		return Credentials{}, errors.New("token is empty")
	}

	return creds, nil
}
