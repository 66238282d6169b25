package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEncryptDecryptSecretsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets", "secrets.enc")
	password := "test-password-12345"
	secrets := map[string]string{
		"ANTHROPIC_API_KEY": "sk-ant-test123",
		"OPENAI_API_KEY":    "sk-test-openai",
	}

	if err := EncryptSecretsFile(path, password, secrets); err != nil {
		t.Fatalf("Failed to encrypt secrets: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Failed to stat secrets file: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("Expected file permissions 0600, got %04o", info.Mode().Perm())
	}

	decrypted, err := DecryptSecretsFile(path, password)
	if err != nil {
		t.Fatalf("Failed to decrypt secrets: %v", err)
	}
	for key, expected := range secrets {
		if decrypted[key] != expected {
			t.Errorf("Secret %s: expected %q, got %q", key, expected, decrypted[key])
		}
	}
}

func TestDecryptWrongPassword(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.enc")
	if err := EncryptSecretsFile(path, "right", map[string]string{"K": "v"}); err != nil {
		t.Fatalf("Failed to encrypt secrets: %v", err)
	}
	if _, err := DecryptSecretsFile(path, "wrong"); err == nil {
		t.Error("Expected error for wrong password")
	}
}

func TestDecryptTruncated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.enc")
	if err := os.WriteFile(path, []byte("short"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := DecryptSecretsFile(path, "x"); err == nil {
		t.Error("Expected error for truncated file")
	}
}

func TestSecretsPreferFileOverEnv(t *testing.T) {
	t.Setenv(EnvOpenAIAPIKey, "from-env")

	s := NewSecrets()
	got, err := s.Get(EnvOpenAIAPIKey)
	if err != nil || got != "from-env" {
		t.Fatalf("Expected env value, got %q (%v)", got, err)
	}

	s.Set(EnvOpenAIAPIKey, "from-file")
	path := filepath.Join(t.TempDir(), "secrets.enc")
	if err := s.Save(path, "pw"); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded := NewSecrets()
	if err := loaded.Load(path, "pw"); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	got, _ = loaded.Get(EnvOpenAIAPIKey)
	if got != "from-file" {
		t.Errorf("Expected file value, got %q", got)
	}
}

func TestAPIKeyResolution(t *testing.T) {
	t.Setenv(EnvAnthropicAPIKey, "sk-ant")
	t.Setenv(EnvOllamaHost, "")
	s := NewSecrets()

	key, err := s.APIKey(&ProviderConfig{Name: "claude", Kind: ProviderAnthropic})
	if err != nil || key != "sk-ant" {
		t.Errorf("Expected env key, got %q (%v)", key, err)
	}

	key, _ = s.APIKey(&ProviderConfig{Name: "claude", Kind: ProviderAnthropic, APIKey: "explicit"})
	if key != "explicit" {
		t.Errorf("Expected explicit key, got %q", key)
	}

	host, _ := s.APIKey(&ProviderConfig{Name: "local", Kind: ProviderOllama})
	if host != "http://localhost:11434" {
		t.Errorf("Expected default ollama host, got %q", host)
	}

	t.Setenv(EnvGoogleAPIKey, "")
	if _, err := s.APIKey(&ProviderConfig{Name: "gem", Kind: ProviderGoogle}); err == nil {
		t.Error("Expected error for missing google key")
	}
}
