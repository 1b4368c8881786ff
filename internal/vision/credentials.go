package vision

import (
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/golang-jwt/jwt/v5"
)

// ServiceAccount is the subset of a service-account key file the client needs.
type ServiceAccount struct {
	Type         string `json:"type"`
	ProjectID    string `json:"project_id"`
	PrivateKeyID string `json:"private_key_id"`
	PrivateKey   string `json:"private_key"`
	ClientEmail  string `json:"client_email"`
	TokenURI     string `json:"token_uri"`

	key *rsa.PrivateKey
}

// ParseServiceAccount decodes a service-account JSON key and its RSA private key.
func ParseServiceAccount(data []byte) (*ServiceAccount, error) {
	var sa ServiceAccount
	if err := json.Unmarshal(data, &sa); err != nil {
		return nil, fmt.Errorf("decode service account: %w", err)
	}
	if sa.ClientEmail == "" {
		return nil, errors.New("service account: client_email is missing")
	}
	if sa.PrivateKey == "" {
		return nil, errors.New("service account: private_key is missing")
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(sa.PrivateKey))
	if err != nil {
		return nil, fmt.Errorf("service account: parse private key: %w", err)
	}
	sa.key = key
	return &sa, nil
}

// LoadServiceAccount reads credentials from inline JSON when set, otherwise from file.
func LoadServiceAccount(file, inline string) (*ServiceAccount, error) {
	if inline != "" {
		return ParseServiceAccount([]byte(inline))
	}
	if file == "" {
		return nil, errors.New("service account: no credentials configured")
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read service account %q: %w", file, err)
	}
	return ParseServiceAccount(data)
}
