package policy

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

const testRegoPolicy = `# Blocks every charge.
# severity: critical
package test.no_charge

import rego.v1

deny contains msg if {
	some step in input.plan.steps
	step.verb == "charge"
	msg := "charges are disabled"
}
`

func newTestLoader() *Loader {
	return NewLoader(zerolog.New(nil).Level(zerolog.Disabled))
}

func writePolicy(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("Failed to create dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}
	return path
}

func TestLoadFromFile_Rego(t *testing.T) {
	loader := newTestLoader()
	policyFile := writePolicy(t, t.TempDir(), "no-charge.rego", testRegoPolicy)

	policy, err := loader.loadFromFile(context.Background(), policyFile)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}

	if policy.Name != "no-charge" {
		t.Errorf("Expected name 'no-charge', got '%s'", policy.Name)
	}
	if policy.Rego != testRegoPolicy {
		t.Error("Rego content doesn't match")
	}
	if policy.Description != "Blocks every charge." {
		t.Errorf("Unexpected description %q", policy.Description)
	}
	if policy.Severity != SeverityCritical {
		t.Errorf("Expected critical severity, got %s", policy.Severity)
	}
	if !policy.Enabled {
		t.Error("Policy should be enabled by default")
	}
	if policy.Metadata["source"] != policyFile {
		t.Errorf("Expected source metadata, got %v", policy.Metadata)
	}
}

func TestLoadFromFile_JSON(t *testing.T) {
	loader := newTestLoader()

	data, err := json.Marshal(Policy{
		Name:    "json-policy",
		Rego:    testRegoPolicy,
		Enabled: true,
		Tags:    []string{"test"},
	})
	if err != nil {
		t.Fatalf("Failed to marshal policy: %v", err)
	}
	policyFile := writePolicy(t, t.TempDir(), "policy.json", string(data))

	policy, err := loader.loadFromFile(context.Background(), policyFile)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}
	if policy.Name != "json-policy" {
		t.Errorf("Expected name 'json-policy', got '%s'", policy.Name)
	}
	if policy.Severity != SeverityWarning {
		t.Errorf("Expected default severity warning, got %s", policy.Severity)
	}
	if policy.CreatedAt.IsZero() {
		t.Error("Expected CreatedAt default")
	}
}

func TestLoadFromFile_Errors(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"unsupported type", "policy.txt", "hello"},
		{"invalid json", "bad.json", "{not json"},
		{"json without name", "noname.json", `{"rego": "package x"}`},
		{"json without rego", "norego.json", `{"name": "x"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writePolicy(t, dir, tt.file, tt.content)
			if _, err := newTestLoader().loadFromFile(context.Background(), path); err == nil {
				t.Error("Expected error")
			}
		})
	}
}

func TestLoadFromDirectory(t *testing.T) {
	dir := t.TempDir()
	writePolicy(t, dir, "a.rego", testRegoPolicy)
	writePolicy(t, dir, "nested/b.rego", strings.Replace(testRegoPolicy, "test.no_charge", "test.nested", 1))
	writePolicy(t, dir, "README.md", "ignored")

	policies, err := newTestLoader().LoadFromPaths(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("Failed to load directory: %v", err)
	}
	if len(policies) != 2 {
		t.Fatalf("Expected 2 policies, got %d", len(policies))
	}

	writePolicy(t, dir, "broken.json", "{")
	if _, err := newTestLoader().LoadFromPaths(context.Background(), []string{dir}); err == nil {
		t.Error("Expected a broken file to fail the directory")
	}
}

func TestLoadFromPath_NonExistent(t *testing.T) {
	_, err := newTestLoader().LoadFromPaths(context.Background(), []string{filepath.Join(t.TempDir(), "missing")})
	if err == nil {
		t.Error("Expected error for non-existent path")
	}
}

func TestExtractHeader(t *testing.T) {
	loader := newTestLoader()

	tests := []struct {
		name         string
		content      string
		wantDesc     string
		wantSeverity Severity
	}{
		{
			name:         "single line",
			content:      "# Blocks voids\npackage x",
			wantDesc:     "Blocks voids",
			wantSeverity: SeverityWarning,
		},
		{
			name:         "multi line with severity",
			content:      "# Blocks voids\n# in production\n# severity: error\npackage x",
			wantDesc:     "Blocks voids in production",
			wantSeverity: SeverityError,
		},
		{
			name:         "unknown severity is ignored",
			content:      "# severity: loud\npackage x",
			wantSeverity: SeverityWarning,
		},
		{
			name:         "comments after code are ignored",
			content:      "package x\n# trailing",
			wantSeverity: SeverityWarning,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			desc, sev := loader.extractHeader(tt.content)
			if desc != tt.wantDesc {
				t.Errorf("Expected description '%s', got '%s'", tt.wantDesc, desc)
			}
			if sev != tt.wantSeverity {
				t.Errorf("Expected severity %s, got %s", tt.wantSeverity, sev)
			}
		})
	}
}

func TestClearCache(t *testing.T) {
	loader := newTestLoader()
	policyFile := writePolicy(t, t.TempDir(), "test.rego", testRegoPolicy)

	if _, err := loader.loadFromFile(context.Background(), policyFile); err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}
	if len(loader.cache) != 1 {
		t.Errorf("Expected 1 cache entry, got %d", len(loader.cache))
	}

	loader.ClearCache()

	if len(loader.cache) != 0 {
		t.Errorf("Expected 0 cache entries after clear, got %d", len(loader.cache))
	}
}

func TestWatch(t *testing.T) {
	dir := t.TempDir()
	writePolicy(t, dir, "a.rego", testRegoPolicy)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan []Policy, 4)
	loader := newTestLoader()
	err := loader.Watch(ctx, []string{dir}, func(policies []Policy) error {
		reloaded <- policies
		return nil
	})
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	defer loader.StopWatching()

	writePolicy(t, dir, "b.rego", strings.Replace(testRegoPolicy, "test.no_charge", "test.other", 1))

	select {
	case policies := <-reloaded:
		if len(policies) != 2 {
			t.Errorf("Expected 2 policies after reload, got %d", len(policies))
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for reload")
	}
}
