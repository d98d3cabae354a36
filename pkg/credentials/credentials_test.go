package credentials

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestStatic(t *testing.T) {
	if _, err := Static("").Token(); !errors.Is(err, ErrNoCredential) {
		t.Fatalf("empty static token: got %v", err)
	}
	tok, err := Static("abc").Token()
	if err != nil || tok != "abc" {
		t.Fatalf("got %q, %v", tok, err)
	}
}

func TestEnv(t *testing.T) {
	t.Setenv("CALCHAT_TEST_TOKEN", "  ")
	if _, err := Env("CALCHAT_TEST_TOKEN").Token(); !errors.Is(err, ErrNoCredential) {
		t.Fatalf("blank env token: got %v", err)
	}
	t.Setenv("CALCHAT_TEST_TOKEN", "from-env")
	if tok, _ := Env("CALCHAT_TEST_TOKEN").Token(); tok != "from-env" {
		t.Fatalf("got %q", tok)
	}
}

func TestFileSaveClear(t *testing.T) {
	f := NewFile(filepath.Join(t.TempDir(), "sub", "token"))

	if _, err := f.Token(); !errors.Is(err, ErrNoCredential) {
		t.Fatalf("missing file: got %v", err)
	}
	if err := f.Save("secret\n"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	tok, err := f.Token()
	if err != nil || tok != "secret" {
		t.Fatalf("Token after save: %q, %v", tok, err)
	}
	if err := f.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if err := f.Clear(); err != nil {
		t.Fatalf("second Clear: %v", err)
	}
	if _, err := f.Token(); !errors.Is(err, ErrNoCredential) {
		t.Fatalf("after clear: got %v", err)
	}
}

func TestChainAndTokenSource(t *testing.T) {
	chain := Chain{Static(""), Static("second")}
	tok, err := TokenSource(chain).Token()
	if err != nil {
		t.Fatalf("TokenSource: %v", err)
	}
	if tok.AccessToken != "second" || tok.Type() != "Bearer" {
		t.Fatalf("unexpected token %+v", tok)
	}

	if _, err := TokenSource(Chain{Static("")}).Token(); !errors.Is(err, ErrNoCredential) {
		t.Fatalf("empty chain: got %v", err)
	}
}
