package cmdline

import (
	"os"
	"path/filepath"
	"testing"
)

// Test that the parser detects when defaults are overridden on the command line for the sync command
func TestParseSync(t *testing.T) {
	defer ClearParse()
	os.Args = []string{"bin/imgsync", "--log-level", "info", "sync", "--mode", "tarball", "--max-blob-size", "1000000", "--temp-dir", "/tmp", "registry.example.com/frobozz/busybox:v1", "localhost:5000/frobozz/busybox:v1"}
	fromCmdline, cfg, err := Parse()
	if err != nil {
		t.Fatal(err)
	}
	if fromCmdline.Command != "sync" {
		t.Fatalf("expected sync command, got %q", fromCmdline.Command)
	}
	switch {
	case !fromCmdline.LogLevel:
		t.Fail()
	case !fromCmdline.Mode:
		t.Fail()
	case !fromCmdline.MaxBlobSize:
		t.Fail()
	case !fromCmdline.TempDir:
		t.Fail()
	}
	if len(fromCmdline.Args) != 2 || fromCmdline.Args[0] != "registry.example.com/frobozz/busybox:v1" {
		t.Errorf("unexpected positional args: %v", fromCmdline.Args)
	}
	if cfg.Mode != "tarball" || cfg.MaxBlobSize != 1000000 {
		t.Errorf("unexpected parsed config: %+v", cfg)
	}
}

// Test that defaults land in the parsed config when not given on the command line
func TestParseSyncDefaults(t *testing.T) {
	defer ClearParse()
	os.Args = []string{"bin/imgsync", "sync", "src.example.com/a:1", "dst.example.com/a:1"}
	fromCmdline, cfg, err := Parse()
	if err != nil {
		t.Fatal(err)
	}
	if fromCmdline.Mode || fromCmdline.MaxBlobSize {
		t.Error("no flags were given but the parser marked some as given")
	}
	if cfg.Mode != "buffer" {
		t.Errorf("expected default mode, got %q", cfg.Mode)
	}
}

func TestParseServe(t *testing.T) {
	defer ClearParse()
	td, err := os.MkdirTemp("", "")
	if err != nil {
		t.Fail()
	}
	defer os.RemoveAll(td)
	afile := filepath.Join(td, "config.yaml")
	os.WriteFile(afile, []byte("logLevel: info"), 0755)

	os.Args = []string{"bin/imgsync", "--config-file", afile, "serve", "--port", "22", "--metrics-port", "2112"}
	fromCmdline, cfg, err := Parse()
	if err != nil {
		t.Fatal(err)
	}
	if fromCmdline.Command != "serve" {
		t.Fail()
	}
	switch {
	case !fromCmdline.ConfigFile:
		t.Fail()
	case !fromCmdline.Port:
		t.Fail()
	case !fromCmdline.MetricsPort:
		t.Fail()
	}
	if cfg.Port != 22 || cfg.MetricsPort != 2112 {
		t.Errorf("unexpected parsed config: %+v", cfg)
	}
}

func TestParseSave(t *testing.T) {
	defer ClearParse()
	os.Args = []string{"bin/imgsync", "save", "--format", "tarball", "registry.example.com/frobozz/busybox:v1", "/tmp/busybox.tar"}
	fromCmdline, _, err := Parse()
	if err != nil {
		t.Fatal(err)
	}
	if fromCmdline.Command != "save" || fromCmdline.Format != "tarball" {
		t.Errorf("unexpected parse: %+v", fromCmdline)
	}
	if len(fromCmdline.Args) != 2 {
		t.Errorf("unexpected positional args: %v", fromCmdline.Args)
	}
}

// Test that an invalid enum value fails validation
func TestParseBadMode(t *testing.T) {
	defer ClearParse()
	os.Args = []string{"bin/imgsync", "sync", "--mode", "zipfile", "a.example.com/x:1", "b.example.com/x:1"}
	if _, _, err := Parse(); err == nil {
		t.Error("expected a parse error for an invalid mode")
	}
}
