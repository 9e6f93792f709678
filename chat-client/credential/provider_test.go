package credential

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestStaticRevoke(t *testing.T) {
	p := NewStatic("tok", "alice")

	cred, err := p.Credential()
	if err != nil {
		t.Fatalf("credential: %v", err)
	}
	if cred.Token != "tok" || cred.Username != "alice" {
		t.Fatalf("unexpected credential %+v", cred)
	}

	p.Revoke()
	p.Revoke()
	select {
	case <-p.Done():
	default:
		t.Fatal("done channel not closed after revoke")
	}
	if _, err := p.Credential(); !errors.Is(err, ErrNoCredential) {
		t.Fatalf("expected ErrNoCredential after revoke, got %v", err)
	}
}

func TestStaticMissingFields(t *testing.T) {
	tests := []struct {
		name     string
		token    string
		username string
	}{
		{"no token", "", "alice"},
		{"no username", "tok", ""},
		{"blank username", "tok", "   "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewStatic(tt.token, tt.username).Credential()
			if !errors.Is(err, ErrNoCredential) {
				t.Fatalf("expected ErrNoCredential, got %v", err)
			}
		})
	}
}

func TestFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	f := File{Path: path}

	if _, err := f.Credential(); !errors.Is(err, ErrNoCredential) {
		t.Fatalf("missing file: expected ErrNoCredential, got %v", err)
	}

	if err := WriteFile(path, Credential{Token: "abc", Username: "bob"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	cred, err := f.Credential()
	if err != nil {
		t.Fatalf("credential: %v", err)
	}
	if cred.Token != "abc" || cred.Username != "bob" {
		t.Fatalf("unexpected credential %+v", cred)
	}
}

func TestFileMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := File{Path: path}.Credential()
	if err == nil || errors.Is(err, ErrNoCredential) {
		t.Fatalf("expected decode error, got %v", err)
	}
}
