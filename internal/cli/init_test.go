package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/ledgerwatch/internal/denylist"
)

func resetInitFlags() {
	initDir = ""
	initForce = false
}

func TestRunInit_HomeDir(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	resetInitFlags()

	if err := runInit(nil, nil); err != nil {
		t.Fatalf("runInit failed: %v", err)
	}

	configDir := filepath.Join(tmpDir, ".ledgerwatch")

	checks := map[string]string{
		"config.yaml":   "networks:",
		"policy.yaml":   "admin_only",
		"denylist.yaml": "addresses:",
	}
	for name, want := range checks {
		data, err := os.ReadFile(filepath.Join(configDir, name))
		if err != nil {
			t.Fatalf("%s not created: %v", name, err)
		}
		if !strings.Contains(string(data), want) {
			t.Errorf("%s missing %q", name, want)
		}
	}
}

func TestRunInit_ExplicitDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "cfg")
	resetInitFlags()
	initDir = dir
	defer resetInitFlags()

	if err := runInit(nil, nil); err != nil {
		t.Fatalf("runInit failed: %v", err)
	}
	info, err := os.Stat(filepath.Join(dir, "config.yaml"))
	if err != nil {
		t.Fatalf("config.yaml not created: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("config.yaml mode = %v, want 0600", info.Mode().Perm())
	}
}

func TestRunInit_NoOverwriteWithoutForce(t *testing.T) {
	dir := t.TempDir()
	resetInitFlags()
	initDir = dir
	defer resetInitFlags()

	sentinel := "# sentinel content\n"
	policyPath := filepath.Join(dir, "policy.yaml")
	if err := os.WriteFile(policyPath, []byte(sentinel), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := runInit(nil, nil); err != nil {
		t.Fatalf("runInit failed: %v", err)
	}

	data, _ := os.ReadFile(policyPath)
	if string(data) != sentinel {
		t.Error("policy.yaml was overwritten without --force")
	}
	if _, err := os.Stat(filepath.Join(dir, "denylist.yaml")); err != nil {
		t.Error("missing files should still be created")
	}
}

func TestRunInit_ForceOverwrites(t *testing.T) {
	dir := t.TempDir()
	resetInitFlags()
	initDir = dir
	initForce = true
	defer resetInitFlags()

	sentinel := "# sentinel content\n"
	policyPath := filepath.Join(dir, "policy.yaml")
	if err := os.WriteFile(policyPath, []byte(sentinel), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := runInit(nil, nil); err != nil {
		t.Fatalf("runInit failed: %v", err)
	}

	data, _ := os.ReadFile(policyPath)
	if string(data) == sentinel {
		t.Error("policy.yaml was NOT overwritten with --force")
	}
}

func TestWriteIfMissing(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "test.txt")
	defer resetInitFlags()

	initForce = false
	wrote, err := writeIfMissing(path, "hello")
	if err != nil {
		t.Fatalf("first write failed: %v", err)
	}
	if !wrote {
		t.Error("first write should return true")
	}

	wrote, err = writeIfMissing(path, "world")
	if err != nil {
		t.Fatalf("second write failed: %v", err)
	}
	if wrote {
		t.Error("second write should return false without force")
	}

	data, _ := os.ReadFile(path)
	if string(data) != "hello" {
		t.Errorf("content changed without force: %q", string(data))
	}

	initForce = true
	wrote, err = writeIfMissing(path, "world")
	if err != nil {
		t.Fatalf("force write failed: %v", err)
	}
	if !wrote {
		t.Error("force write should return true")
	}
	data, _ = os.ReadFile(path)
	if string(data) != "world" {
		t.Errorf("force write didn't overwrite: %q", string(data))
	}
}

func TestDefaultDenylistYAML(t *testing.T) {
	content, err := defaultDenylistYAML()
	if err != nil {
		t.Fatalf("defaultDenylistYAML failed: %v", err)
	}

	if !strings.HasPrefix(content, "# ledgerwatch sanctions denylist") {
		t.Error("missing header comment")
	}

	var p denylist.Patterns
	if err := yaml.Unmarshal([]byte(content), &p); err != nil {
		t.Fatalf("generated denylist does not parse: %v", err)
	}
	if len(p.Addresses) != len(denylist.DefaultPatterns.Addresses) {
		t.Errorf("addresses = %d, want %d", len(p.Addresses), len(denylist.DefaultPatterns.Addresses))
	}
}

func TestInitPolicyRefusesOverwrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	policyFlag = path
	configPath = filepath.Join(dir, "missing-config.yaml")
	defer func() { policyFlag, configPath = "", "" }()

	cmd := &cobra.Command{}
	var out strings.Builder
	cmd.SetOut(&out)

	if err := runInitPolicy(cmd, nil); err != nil {
		t.Fatalf("first init-policy: %v", err)
	}
	if !strings.Contains(out.String(), path) {
		t.Errorf("output = %q, want path", out.String())
	}
	if err := runInitPolicy(cmd, nil); err == nil {
		t.Fatal("second init-policy should refuse to overwrite")
	}
}
