package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestValidateCmd(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)

	out, err := execute(t, "validate")
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if !strings.Contains(out, "7 populations, 2 stimuli, 15 connections") {
		t.Errorf("unexpected output: %q", out)
	}

	out, err = execute(t, "validate", "--tau", "-1", "--json")
	if err == nil {
		t.Fatal("expected error for invalid parameter")
	}
	var res validateResult
	decodeJSON(t, out, &res)
	if res.Valid || len(res.Errors) != 1 {
		t.Errorf("result = %+v", res)
	}

	broken := filepath.Join(tmpDir, "broken.yaml")
	def := `populations:
  - {name: a, dim: 2}
connections:
  - {source: a, target: missing}
  - {source: a, target: "a[0]"}
`
	if err := os.WriteFile(broken, []byte(def), 0600); err != nil {
		t.Fatal(err)
	}
	out, err = execute(t, "validate", "--network", broken)
	if err == nil {
		t.Fatal("expected error for broken network")
	}
	if !strings.HasPrefix(out, "Network is invalid") {
		t.Errorf("unexpected output: %q", out)
	}
	if strings.Count(out, "  - ") < 2 {
		t.Errorf("expected every issue listed, got %q", out)
	}
}

func TestGraphCmd(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)

	out, err := execute(t, "graph")
	if err != nil {
		t.Fatalf("graph failed: %v", err)
	}
	if !strings.HasPrefix(out, "digraph pcosc {") {
		t.Errorf("DOT output starts with %q", out[:min(len(out), 20)])
	}

	out, err = execute(t, "graph", "--format", "json")
	if err != nil {
		t.Fatalf("graph --format json failed: %v", err)
	}
	var g struct {
		NodeCount int `json:"node_count"`
		EdgeCount int `json:"edge_count"`
	}
	decodeJSON(t, out, &g)
	if g.NodeCount != 9 || g.EdgeCount != 15 {
		t.Errorf("node_count = %d, edge_count = %d, want 9 and 15", g.NodeCount, g.EdgeCount)
	}

	file := filepath.Join(tmpDir, "pcosc.dot")
	if _, err := execute(t, "graph", "-o", file); err != nil {
		t.Fatalf("graph -o failed: %v", err)
	}
	data, err := os.ReadFile(file)
	if err != nil {
		t.Fatalf("reading output file: %v", err)
	}
	if !strings.HasPrefix(string(data), "digraph pcosc {") {
		t.Error("output file does not contain DOT")
	}

	if _, err := execute(t, "graph", "--format", "html"); err == nil {
		t.Error("expected error for unsupported format")
	}
}

func TestConfigCmd(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)

	out, err := execute(t, "config", "list")
	if err != nil {
		t.Fatalf("config list failed: %v", err)
	}
	for _, key := range []string{"simulation:", "model:", "store:", "mcp:", "logging:"} {
		if !strings.Contains(out, key) {
			t.Errorf("config list missing %s", key)
		}
	}

	out, err = execute(t, "config", "list", "--json")
	if err != nil {
		t.Fatalf("config list --json failed: %v", err)
	}
	var cfg map[string]any
	decodeJSON(t, out, &cfg)
	if _, ok := cfg["simulation"]; !ok {
		t.Errorf("JSON config missing simulation: %v", cfg)
	}

	out, err = execute(t, "config", "path")
	if err != nil {
		t.Fatalf("config path failed: %v", err)
	}
	want := filepath.Join(tmpDir, "home", ".pcosc", "config.yaml")
	if strings.TrimSpace(out) != want {
		t.Errorf("config path = %q, want %q", strings.TrimSpace(out), want)
	}
}

func TestConfig_FileSettingsApplyToRun(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)

	cfgDir := filepath.Join(tmpDir, "home", ".pcosc")
	if err := os.MkdirAll(cfgDir, 0700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(cfgDir, "config.yaml"), []byte("simulation:\n  duration: 0.03\n"), 0600); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "run", "--root", tmpDir, "--json")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	var s runSummary
	decodeJSON(t, out, &s)
	if s.Steps != 30 {
		t.Errorf("steps = %d, want 30 from the config file", s.Steps)
	}
}
