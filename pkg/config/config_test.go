package config

import (
	"testing"
	"time"
)

func TestGetListSplitsAndTrims(t *testing.T) {
	t.Setenv("EDGESHIP_TEST_LIST", " subnet-a, ,subnet-b ")
	got := GetList("EDGESHIP_TEST_LIST", nil)
	if len(got) != 2 || got[0] != "subnet-a" || got[1] != "subnet-b" {
		t.Fatalf("unexpected list %v", got)
	}
	if fallback := GetList("EDGESHIP_TEST_LIST_UNSET", []string{"x"}); len(fallback) != 1 || fallback[0] != "x" {
		t.Fatalf("expected fallback, got %v", fallback)
	}
}

func TestGetIntFallsBackOnInvalidValue(t *testing.T) {
	t.Setenv("EDGESHIP_TEST_INT", "nope")
	if got := GetInt("EDGESHIP_TEST_INT", 7); got != 7 {
		t.Fatalf("expected fallback 7, got %d", got)
	}
}

func TestLoadBuilderConfigReadsExecutionContext(t *testing.T) {
	t.Setenv("GIT_REPOSITORY_URL", "https://example.com/repo.git")
	t.Setenv("PROJECT_ID", "brave-blue-fox")
	t.Setenv("GIT_TIMEOUT_SECONDS", "3")
	cfg := LoadBuilderConfig()
	if cfg.RepositoryURL != "https://example.com/repo.git" {
		t.Fatalf("unexpected repository url %q", cfg.RepositoryURL)
	}
	if cfg.DeploymentID != "brave-blue-fox" {
		t.Fatalf("unexpected deployment id %q", cfg.DeploymentID)
	}
	if cfg.GitTimeout != 3*time.Second {
		t.Fatalf("unexpected git timeout %s", cfg.GitTimeout)
	}
	if cfg.OutputDir != "dist" {
		t.Fatalf("expected default output dir dist, got %q", cfg.OutputDir)
	}
}

func TestLoadProxyConfigDerivesAddrFromPort(t *testing.T) {
	t.Setenv("PORT", "8100")
	cfg := LoadProxyConfig()
	if cfg.Addr != ":8100" {
		t.Fatalf("expected :8100, got %q", cfg.Addr)
	}
}
