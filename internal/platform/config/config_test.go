package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithEnvMap(map[string]string{
			"API_FIRESTORE_PROJECT_ID": "camellia-test",
		}),
	)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != defaultPort {
		t.Errorf("expected default port %q, got %q", defaultPort, cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != defaultReadTimeout {
		t.Errorf("expected default read timeout %v, got %v", defaultReadTimeout, cfg.Server.ReadTimeout)
	}
	if cfg.Environment != defaultEnvironment {
		t.Errorf("expected environment %q, got %q", defaultEnvironment, cfg.Environment)
	}
	if cfg.Firestore.ProjectID != "camellia-test" {
		t.Errorf("expected firestore project id to flow through, got %q", cfg.Firestore.ProjectID)
	}
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := Load(
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithEnvMap(map[string]string{
			"API_FIRESTORE_PROJECT_ID": "camellia-prod",
			"API_SERVER_PORT":          "9090",
			"API_SERVER_READ_TIMEOUT":  "5s",
			"API_NOTIFY_ADMIN_EMAILS":  "ops@example.com, support@example.com ,",
			"API_CHECKOUT_SUCCESS_URL": "https://shop.example.com/checkout/success",
			"API_ENVIRONMENT":          "production",
		}),
	)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %q", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 5*time.Second {
		t.Errorf("expected 5s read timeout, got %v", cfg.Server.ReadTimeout)
	}
	if len(cfg.Notifications.AdminEmails) != 2 {
		t.Fatalf("expected 2 admin emails, got %v", cfg.Notifications.AdminEmails)
	}
	if cfg.Notifications.AdminEmails[1] != "support@example.com" {
		t.Errorf("expected trimmed email, got %q", cfg.Notifications.AdminEmails[1])
	}
	if cfg.Checkout.SuccessURL != "https://shop.example.com/checkout/success" {
		t.Errorf("unexpected success URL %q", cfg.Checkout.SuccessURL)
	}
	if cfg.Environment != "production" {
		t.Errorf("expected production environment, got %q", cfg.Environment)
	}
}

func TestLoadMissingProjectID(t *testing.T) {
	_, err := Load(WithoutSystemEnv(), WithEnvFile(""), WithEnvMap(map[string]string{}))
	if err == nil {
		t.Fatal("expected error when firestore project id is missing")
	}
}

func TestLoadDotEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "# comment line\nAPI_FIRESTORE_PROJECT_ID=from-dotenv\nAPI_STRIPE_API_KEY=\"sk_test_123\"\nBROKEN LINE\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	cfg, err := Load(WithoutSystemEnv(), WithEnvFile(path))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Firestore.ProjectID != "from-dotenv" {
		t.Errorf("expected project id from .env, got %q", cfg.Firestore.ProjectID)
	}
	if cfg.Stripe.APIKey != "sk_test_123" {
		t.Errorf("expected quotes stripped, got %q", cfg.Stripe.APIKey)
	}
}

func TestLoadEnvMapPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("API_FIRESTORE_PROJECT_ID=dotenv-project\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	cfg, err := Load(
		WithoutSystemEnv(),
		WithEnvFile(path),
		WithEnvMap(map[string]string{"API_FIRESTORE_PROJECT_ID": "map-project"}),
	)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Firestore.ProjectID != "map-project" {
		t.Errorf("expected env map to win, got %q", cfg.Firestore.ProjectID)
	}
}
