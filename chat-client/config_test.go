package main

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gosuda/portal-chat/chat-client/credential"
)

func TestParseEnvDefaults(t *testing.T) {
	var c config
	if err := parseEnv(&c); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if c.ServerURL != "http://localhost:8000" || c.Room != "general" || c.ReconnectMax != 5 {
		t.Fatalf("unexpected defaults %+v", c)
	}
	if c.ReconnectInitial != 500*time.Millisecond || c.ReconnectMaxInterval != 15*time.Second || c.HistoryTimeout != 10*time.Second {
		t.Fatalf("unexpected durations %+v", c)
	}
}

func TestParseEnvError(t *testing.T) {
	t.Setenv("CHAT_RECONNECT_INITIAL", "soon")
	var c config
	err := parseEnv(&c)
	if err == nil || !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env error, got %v", err)
	}
}

func TestProviderSelection(t *testing.T) {
	explicit := config{Token: "tok", Username: "alice"}
	cred, err := explicit.provider().Credential()
	if err != nil || cred.Token != "tok" || cred.Username != "alice" {
		t.Fatalf("explicit token: %+v %v", cred, err)
	}

	path := filepath.Join(t.TempDir(), "token.json")
	if err := credential.WriteFile(path, credential.Credential{Token: "filetok", Username: "bob"}); err != nil {
		t.Fatal(err)
	}
	fromFile := config{TokenFile: path}
	cred, err = fromFile.provider().Credential()
	if err != nil || cred.Token != "filetok" || cred.Username != "bob" {
		t.Fatalf("token file: %+v %v", cred, err)
	}
}

func TestReconnectPolicyFromConfig(t *testing.T) {
	c := config{ReconnectMax: 0, ReconnectInitial: time.Second, ReconnectMaxInterval: time.Minute}
	p := c.reconnectPolicy()
	if p.MaxAttempts != 0 || p.InitialInterval != time.Second || p.MaxInterval != time.Minute {
		t.Fatalf("unexpected policy %+v", p)
	}
}
