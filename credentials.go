// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package gateproxy

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/saucelabs/gateproxy/log"
)

// Authenticator validates proxy credentials of a request.
type Authenticator interface {
	Authenticate(h http.Header) bool
}

type CredentialsConfig struct {
	// UserByteLength is the number of random bytes in the generated username.
	UserByteLength int
	// PassByteLength is the number of random bytes in the generated password.
	PassByteLength int
	// Persistent enables loading and saving credentials to File.
	Persistent bool
	File       string
}

func DefaultCredentialsConfig() *CredentialsConfig {
	return &CredentialsConfig{
		UserByteLength: 6,
		PassByteLength: 8,
		File:           ".credentials.json",
	}
}

func (c *CredentialsConfig) Validate() error {
	if c.UserByteLength <= 0 {
		return fmt.Errorf("user byte length must be positive, got %d", c.UserByteLength)
	}
	if c.PassByteLength <= 0 {
		return fmt.Errorf("pass byte length must be positive, got %d", c.PassByteLength)
	}
	if c.Persistent && c.File == "" {
		return fmt.Errorf("credentials file is required when credentials are persistent")
	}
	return nil
}

type Credentials struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	BasicToken string `json:"basicToken"`
}

func (c *Credentials) complete() bool {
	return c.Username != "" && c.Password != "" && c.BasicToken != ""
}

func newCredentials(user, pass string) Credentials {
	return Credentials{
		Username:   user,
		Password:   pass,
		BasicToken: base64.StdEncoding.EncodeToString([]byte(user + ":" + pass)),
	}
}

// CredentialAuthority holds the single credential pair accepted by the proxy.
// Credentials never change after creation.
type CredentialAuthority struct {
	creds Credentials
	token []byte
}

var _ Authenticator = (*CredentialAuthority)(nil)

// NewCredentialAuthority generates random credentials,
// or reuses the saved ones if persistence is enabled.
func NewCredentialAuthority(cfg *CredentialsConfig, log log.StructuredLogger) (*CredentialAuthority, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var (
		creds  Credentials
		loaded bool
	)
	if cfg.Persistent {
		c, err := loadCredentials(cfg.File)
		if err == nil {
			creds, loaded = c, true
			log.Info("loaded existing credentials", "file", cfg.File)
		} else {
			log.Info("generating new credentials", "file", cfg.File, "reason", err)
		}
	}

	if !loaded {
		c, err := generateCredentials(cfg.UserByteLength, cfg.PassByteLength)
		if err != nil {
			return nil, err
		}
		creds = c

		if cfg.Persistent {
			if err := saveCredentials(cfg.File, creds); err != nil {
				log.Error("failed to save credentials", "file", cfg.File, "error", err)
			} else {
				log.Info("credentials saved", "file", cfg.File)
			}
		}
	}

	log.Info("proxy credentials", "user", creds.Username, "pass", creds.Password)

	return newCredentialAuthority(creds), nil
}

// NewStaticCredentialAuthority returns an authority accepting the given user and password.
func NewStaticCredentialAuthority(user, pass string) *CredentialAuthority {
	return newCredentialAuthority(newCredentials(user, pass))
}

func newCredentialAuthority(c Credentials) *CredentialAuthority {
	return &CredentialAuthority{
		creds: c,
		token: []byte(c.BasicToken),
	}
}

func generateCredentials(userLen, passLen int) (Credentials, error) {
	user, err := randomHex(userLen)
	if err != nil {
		return Credentials{}, fmt.Errorf("generate username: %w", err)
	}
	pass, err := randomHex(passLen)
	if err != nil {
		return Credentials{}, fmt.Errorf("generate password: %w", err)
	}
	return newCredentials(user, pass), nil
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func loadCredentials(name string) (Credentials, error) {
	var c Credentials

	b, err := os.ReadFile(name)
	if err != nil {
		return c, err
	}
	if err := json.Unmarshal(b, &c); err != nil {
		return c, fmt.Errorf("decode %s: %w", name, err)
	}
	if !c.complete() {
		return c, fmt.Errorf("incomplete credentials in %s", name)
	}

	return c, nil
}

func saveCredentials(name string, c Credentials) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(name, b, 0o600)
}

// Credentials returns a copy of the accepted credentials.
func (a *CredentialAuthority) Credentials() Credentials {
	return a.creds
}

// Authenticate reports whether the Proxy-Authorization header carries the accepted basic token.
// The "Basic " prefix is matched case-sensitively and the token must match exactly.
func (a *CredentialAuthority) Authenticate(h http.Header) bool {
	v := h.Get("Proxy-Authorization")
	token, ok := strings.CutPrefix(v, "Basic ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), a.token) == 1
}
