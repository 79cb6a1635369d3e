package encryption

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"torrentsready/internal/config"
)

func newTestAgeEncryptor(t *testing.T) *AgeEncryptor {
	t.Helper()
	dir := t.TempDir()
	return NewAgeEncryptor(config.EncryptionConfig{
		Type:           "age",
		PublicKeyPath:  filepath.Join(dir, "keys", "trd.pub"),
		PrivateKeyPath: filepath.Join(dir, "keys", "trd.key"),
	})
}

func TestAgeEncryptor_SetupAndRoundTrip(t *testing.T) {
	t.Parallel()

	e := newTestAgeEncryptor(t)
	if e.IsConfigured() {
		t.Fatal("IsConfigured() = true before Setup")
	}
	if err := e.Setup("correct horse"); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if !e.IsConfigured() {
		t.Fatal("IsConfigured() = false after Setup")
	}

	pub, err := e.PublicKey()
	if err != nil {
		t.Fatalf("PublicKey() error = %v", err)
	}
	if !strings.HasPrefix(pub, "age1") {
		t.Errorf("PublicKey() = %q, want age1 prefix", pub)
	}

	info, err := os.Stat(e.privateKeyPath)
	if err != nil {
		t.Fatalf("stat private key: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("private key mode = %v, want 0600", info.Mode().Perm())
	}

	input := []byte("album.zip contents")
	var sealed bytes.Buffer
	if err := e.Encrypt(bytes.NewReader(input), &sealed); err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if bytes.Contains(sealed.Bytes(), input) {
		t.Error("sealed output contains plaintext")
	}

	dctx, err := e.Unlock("correct horse")
	if err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}
	var opened bytes.Buffer
	if err := dctx.Decrypt(&sealed, &opened); err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if !bytes.Equal(opened.Bytes(), input) {
		t.Errorf("Decrypt() = %q, want %q", opened.Bytes(), input)
	}
}

func TestAgeEncryptor_FreshInstanceSealsWithStoredKey(t *testing.T) {
	t.Parallel()

	e := newTestAgeEncryptor(t)
	if err := e.Setup("pw"); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	reopened := NewAgeEncryptor(config.EncryptionConfig{
		PublicKeyPath:  e.publicKeyPath,
		PrivateKeyPath: e.privateKeyPath,
	})

	var sealed bytes.Buffer
	if err := reopened.Encrypt(strings.NewReader("data"), &sealed); err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	dctx, err := reopened.Unlock("pw")
	if err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}
	var opened bytes.Buffer
	if err := dctx.Decrypt(&sealed, &opened); err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if opened.String() != "data" {
		t.Errorf("Decrypt() = %q, want data", opened.String())
	}
}

func TestAgeEncryptor_Errors(t *testing.T) {
	t.Parallel()

	t.Run("empty passphrase", func(t *testing.T) {
		if err := newTestAgeEncryptor(t).Setup(""); err == nil {
			t.Error("Setup(\"\") error = nil, want error")
		}
	})

	t.Run("wrong passphrase", func(t *testing.T) {
		e := newTestAgeEncryptor(t)
		if err := e.Setup("right"); err != nil {
			t.Fatalf("Setup() error = %v", err)
		}
		if _, err := e.Unlock("wrong"); err == nil {
			t.Error("Unlock() with wrong passphrase error = nil, want error")
		}
	})

	t.Run("encrypt before setup", func(t *testing.T) {
		var out bytes.Buffer
		if err := newTestAgeEncryptor(t).Encrypt(strings.NewReader("x"), &out); err == nil {
			t.Error("Encrypt() before Setup error = nil, want error")
		}
	})

	t.Run("unlock before setup", func(t *testing.T) {
		if _, err := newTestAgeEncryptor(t).Unlock("pw"); err == nil {
			t.Error("Unlock() before Setup error = nil, want error")
		}
	})
}

func TestNewEncryptorFromConfig(t *testing.T) {
	t.Parallel()

	if _, err := NewEncryptorFromConfig(config.EncryptionConfig{Type: "test"}); err != nil {
		t.Errorf("NewEncryptorFromConfig(test) error = %v", err)
	}
	if _, err := NewEncryptorFromConfig(config.EncryptionConfig{Type: "age"}); err == nil {
		t.Error("NewEncryptorFromConfig(age) without key paths error = nil, want error")
	}
	if _, err := NewEncryptorFromConfig(config.EncryptionConfig{Type: "rot13"}); err == nil {
		t.Error("NewEncryptorFromConfig(rot13) error = nil, want error")
	}
}
