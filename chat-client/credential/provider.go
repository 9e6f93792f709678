// Package credential supplies the bearer token and display name a chat
// session authenticates with. Login, logout and token refresh belong to
// whoever owns the credential; the session only reads it.
package credential

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

// ErrNoCredential is returned when no token or username is available.
var ErrNoCredential = errors.New("credential: not logged in")

// Credential is a bearer token together with the identity it was issued to.
type Credential struct {
	Token    string
	Username string
}

// Valid reports whether both the token and the username are present.
func (c Credential) Valid() bool {
	return strings.TrimSpace(c.Token) != "" && strings.TrimSpace(c.Username) != ""
}

// Provider returns the current credential, or ErrNoCredential.
type Provider interface {
	Credential() (Credential, error)
}

// Expirer is implemented by providers that can revoke a credential while a
// session is using it. Done is closed on logout or expiry.
type Expirer interface {
	Done() <-chan struct{}
}

// Static is a Provider holding a fixed credential that can be revoked once.
type Static struct {
	mu      sync.Mutex
	cred    Credential
	done    chan struct{}
	revoked bool
}

// NewStatic returns a Static provider for token and username.
func NewStatic(token, username string) *Static {
	return &Static{
		cred: Credential{Token: token, Username: username},
		done: make(chan struct{}),
	}
}

func (s *Static) Credential() (Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.revoked || !s.cred.Valid() {
		return Credential{}, ErrNoCredential
	}
	return s.cred, nil
}

func (s *Static) Done() <-chan struct{} {
	return s.done
}

// Revoke invalidates the credential and closes Done. Repeated calls are no-ops.
func (s *Static) Revoke() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.revoked {
		return
	}
	s.revoked = true
	close(s.done)
}

// tokenFile mirrors what the browser client kept in local storage after login.
type tokenFile struct {
	AccessToken string `json:"access_token"`
	User        struct {
		Username string `json:"username"`
	} `json:"user"`
}

// File reads the credential from a JSON token file on every call so a
// token refreshed by another process is picked up on the next connect.
type File struct {
	Path string
}

func (f File) Credential() (Credential, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Credential{}, ErrNoCredential
		}
		return Credential{}, fmt.Errorf("read token file: %w", err)
	}
	var tf tokenFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return Credential{}, fmt.Errorf("decode token file: %w", err)
	}
	cred := Credential{Token: tf.AccessToken, Username: tf.User.Username}
	if !cred.Valid() {
		return Credential{}, ErrNoCredential
	}
	return cred, nil
}

// WriteFile stores cred at path in the format File reads.
func WriteFile(path string, cred Credential) error {
	var tf tokenFile
	tf.AccessToken = cred.Token
	tf.User.Username = cred.Username
	data, err := json.MarshalIndent(tf, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
