package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	cfg, err := Load(context.Background(), WithEnvMap(map[string]string{}), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.APIPrefix != "/api" {
		t.Errorf("expected default api prefix /api, got %q", cfg.Server.APIPrefix)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.PSP.Currency != "usd" {
		t.Errorf("expected usd currency, got %s", cfg.PSP.Currency)
	}
	if cfg.PSP.Configured() {
		t.Errorf("expected processor to be unconfigured without a secret key")
	}
	if cfg.Shop.ShippingFee.String() != "5.99" {
		t.Errorf("expected shipping 5.99, got %s", cfg.Shop.ShippingFee)
	}
	if cfg.Environment != "local" {
		t.Errorf("expected local environment, got %s", cfg.Environment)
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"STOREFRONT_SERVER_PORT":                "9090",
		"STOREFRONT_SERVER_READ_TIMEOUT":        "20s",
		"STOREFRONT_API_PREFIX":                 "/",
		"STOREFRONT_PSP_STRIPE_SECRET_KEY":      "secret://stripe/secret",
		"STOREFRONT_PSP_STRIPE_PUBLISHABLE_KEY": "pk_test_123",
		"STOREFRONT_SHOP_SHIPPING_FEE":          "0",
	}

	var resolved []string
	resolver := SecretResolverFunc(func(ctx context.Context, ref string) (string, error) {
		resolved = append(resolved, ref)
		return "sk_test_resolved", nil
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 20*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.Server.APIPrefix != "" {
		t.Errorf("expected root prefix, got %q", cfg.Server.APIPrefix)
	}
	if cfg.PSP.SecretKey != "sk_test_resolved" {
		t.Errorf("expected resolved secret key, got %q", cfg.PSP.SecretKey)
	}
	if cfg.PSP.PublishableKey != "pk_test_123" {
		t.Errorf("expected publishable key passthrough, got %q", cfg.PSP.PublishableKey)
	}
	if len(resolved) != 1 || resolved[0] != "secret://stripe/secret" {
		t.Errorf("unexpected resolver calls: %v", resolved)
	}
	if !cfg.Shop.ShippingFee.IsZero() {
		t.Errorf("expected free shipping, got %s", cfg.Shop.ShippingFee)
	}
}

func TestLoadFallsBackToUnprefixedStripeKeys(t *testing.T) {
	env := map[string]string{
		"STRIPE_SECRET_KEY":      "sk_test_plain",
		"STRIPE_PUBLISHABLE_KEY": "pk_test_plain",
	}
	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.PSP.SecretKey != "sk_test_plain" || cfg.PSP.PublishableKey != "pk_test_plain" {
		t.Fatalf("unexpected psp config %#v", cfg.PSP)
	}
	if !cfg.PSP.Configured() {
		t.Fatalf("expected processor configured")
	}
}

func TestLoadSecretResolutionFailure(t *testing.T) {
	env := map[string]string{
		"STOREFRONT_PSP_STRIPE_SECRET_KEY": "sm://stripe/secret",
	}
	resolver := SecretResolverFunc(func(context.Context, string) (string, error) {
		return "", errors.New("boom")
	})

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected SecretError, got %v", err)
	}
	if secretErr.Ref != "secret://stripe/secret" {
		t.Fatalf("expected normalised ref, got %s", secretErr.Ref)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	env := map[string]string{
		"STOREFRONT_PSP_CURRENCY":      "eur",
		"STOREFRONT_SHOP_SHIPPING_FEE": "-1",
	}
	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	fields := validation.Fields()
	if len(fields) != 2 {
		t.Fatalf("expected two invalid fields, got %v", fields)
	}
}

func TestLoadReadsDotEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "# comment\nexport STOREFRONT_SERVER_PORT=7070\nSTRIPE_SECRET_KEY=\"sk_test_env\"\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	cfg, err := Load(context.Background(), WithoutSystemEnv(), WithEnvFile(path))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Server.Port != "7070" {
		t.Fatalf("expected port from .env, got %s", cfg.Server.Port)
	}
	if cfg.PSP.SecretKey != "sk_test_env" {
		t.Fatalf("expected quoted value trimmed, got %q", cfg.PSP.SecretKey)
	}
}
