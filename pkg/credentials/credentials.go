// Package credentials provides the local session credential: the bearer token
// the backend issued at login. The token is the only secret the client holds;
// it authorizes REST calls and realtime channel auth.
package credentials

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/oauth2"
)

// ErrNoCredential is returned when no session token is available.
var ErrNoCredential = errors.New("no local credential")

// Provider returns the current session token.
type Provider interface {
	Token() (string, error)
}

// Static is a fixed token. The empty string means "logged out".
type Static string

func (s Static) Token() (string, error) {
	if strings.TrimSpace(string(s)) == "" {
		return "", ErrNoCredential
	}
	return string(s), nil
}

// Env reads the token from an environment variable on every call.
type Env string

func (e Env) Token() (string, error) {
	v := strings.TrimSpace(os.Getenv(string(e)))
	if v == "" {
		return "", ErrNoCredential
	}
	return v, nil
}

// File keeps the token in a file with 0600 permissions.
type File struct {
	path string
	mu   sync.Mutex
}

// NewFile returns a file-backed store at path.
func NewFile(path string) *File {
	return &File{path: path}
}

func (f *File) Token() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrNoCredential
	}
	if err != nil {
		return "", fmt.Errorf("reading credential file: %w", err)
	}
	tok := strings.TrimSpace(string(data))
	if tok == "" {
		return "", ErrNoCredential
	}
	return tok, nil
}

// Save stores token, replacing any previous one.
func (f *File) Save(token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(f.path), 0700); err != nil {
		return fmt.Errorf("creating credential directory: %w", err)
	}
	return os.WriteFile(f.path, []byte(strings.TrimSpace(token)+"\n"), 0600)
}

// Clear removes the stored token. Clearing an absent token is not an error.
func (f *File) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing credential file: %w", err)
	}
	return nil
}

// Chain tries each provider in order and returns the first token found.
type Chain []Provider

func (c Chain) Token() (string, error) {
	for _, p := range c {
		tok, err := p.Token()
		if err == nil {
			return tok, nil
		}
		if !errors.Is(err, ErrNoCredential) {
			return "", err
		}
	}
	return "", ErrNoCredential
}

// TokenSource adapts a Provider to oauth2.TokenSource so HTTP clients can use
// oauth2.Transport for bearer authorization.
func TokenSource(p Provider) oauth2.TokenSource {
	return tokenSource{p: p}
}

type tokenSource struct {
	p Provider
}

func (s tokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.p.Token()
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{AccessToken: tok, TokenType: "Bearer"}, nil
}
