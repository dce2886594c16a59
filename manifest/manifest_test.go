package manifest

import (
	"os"
	"path/filepath"
	"testing"
)

func writeManifest(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "hebi.toml"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[project]
name = "demo"
version = "0.1.0"

[source]
dirs = ["scripts", "lib"]
entry = "app.hebi"

[run]
max-depth = 512
log-level = "debug"

[cache]
enabled = true
path = "tmp/cache.db"

[image]
output = "demo.img"
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if m.Project.Name != "demo" || m.Project.Version != "0.1.0" {
		t.Errorf("project = %+v", m.Project)
	}
	if len(m.Source.Dirs) != 2 || m.Source.Dirs[0] != "scripts" {
		t.Errorf("dirs = %v", m.Source.Dirs)
	}
	if m.Run.MaxDepth != 512 || m.Run.LogLevel != "debug" {
		t.Errorf("run = %+v", m.Run)
	}
	if !m.Cache.Enabled {
		t.Error("cache not enabled")
	}
	if m.Image.Output != "demo.img" {
		t.Errorf("image = %+v", m.Image)
	}
	if m.Dir == "" || !filepath.IsAbs(m.Dir) {
		t.Errorf("Dir = %q, want absolute", m.Dir)
	}
}

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[project]
name = "bare"
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Source.Dirs) != 1 || m.Source.Dirs[0] != "src" {
		t.Errorf("default dirs = %v", m.Source.Dirs)
	}
	if m.Source.Entry != "main.hebi" {
		t.Errorf("default entry = %q", m.Source.Entry)
	}
	if got, want := m.CachePath(), filepath.Join(m.Dir, ".hebi", "cache.db"); got != want {
		t.Errorf("CachePath() = %q, want %q", got, want)
	}
}

func TestLoadMissing(t *testing.T) {
	if _, err := Load(t.TempDir()); err == nil {
		t.Error("loading an empty directory should fail")
	}
}

func TestLoadMalformed(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "[project\nname = ")
	if _, err := Load(dir); err == nil {
		t.Error("malformed toml accepted")
	}
}

func TestFindAndLoadWalksUp(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "[project]\nname = \"up\"\n")
	nested := filepath.Join(root, "a", "b", "c")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}

	m, err := FindAndLoad(nested)
	if err != nil {
		t.Fatal(err)
	}
	if m == nil || m.Project.Name != "up" {
		t.Fatalf("m = %+v", m)
	}
}

func TestFindAndLoadNone(t *testing.T) {
	m, err := FindAndLoad(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if m != nil {
		t.Errorf("found a manifest where none exists: %+v", m)
	}
}

func TestPathHelpers(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[source]
dirs = ["scripts"]
entry = "run.hebi"
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if got := m.SourceDirPaths(); len(got) != 1 || got[0] != filepath.Join(m.Dir, "scripts") {
		t.Errorf("SourceDirPaths() = %v", got)
	}
	if got := m.EntryPath(); got != filepath.Join(m.Dir, "run.hebi") {
		t.Errorf("EntryPath() = %q", got)
	}

	// Absolute settings pass through untouched.
	abs := filepath.Join(dir, "elsewhere.db")
	m.Cache.Path = abs
	if got := m.CachePath(); got != abs {
		t.Errorf("CachePath() = %q, want %q", got, abs)
	}
}
