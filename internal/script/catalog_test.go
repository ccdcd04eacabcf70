package script

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaultsWhenDirUnset(t *testing.T) {
	c, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(c.Names()) == 0 {
		t.Fatalf("default catalog should not be empty")
	}
	for _, name := range c.Names() {
		s, ok := c.Get(name)
		if !ok || len(s.Steps) == 0 {
			t.Fatalf("script %q should exist with steps", name)
		}
	}
}

func TestLoadFromTOMLDir(t *testing.T) {
	dir := t.TempDir()
	content := `name = "greeting"

[[steps]]
kind = "text"
content = "oi"

[[steps]]
kind = "audio"
file = "audios/oi.ogg"
caption = "ola"
`
	if err := os.WriteFile(filepath.Join(dir, "greeting.toml"), []byte(content), 0o644); err != nil {
		t.Fatalf("write script file: %v", err)
	}

	c, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	s, ok := c.Get("greeting")
	if !ok {
		t.Fatalf("script greeting not loaded, have %v", c.Names())
	}
	if len(s.Steps) != 2 {
		t.Fatalf("steps = %d, want 2", len(s.Steps))
	}
	if s.Steps[0].Kind != KindText || s.Steps[0].Content != "oi" {
		t.Fatalf("unexpected first step: %+v", s.Steps[0])
	}
	if s.Steps[1].Kind != KindAudio || s.Steps[1].File != "audios/oi.ogg" || s.Steps[1].Caption != "ola" {
		t.Fatalf("unexpected second step: %+v", s.Steps[1])
	}
}

func TestLoadRejectsInvalidScript(t *testing.T) {
	dir := t.TempDir()
	bad := `name = "broken"

[[steps]]
kind = "text"
`
	if err := os.WriteFile(filepath.Join(dir, "broken.toml"), []byte(bad), 0o644); err != nil {
		t.Fatalf("write script file: %v", err)
	}
	if _, err := Load(dir); err == nil {
		t.Fatalf("Load() should reject a text step without content")
	}
}

func TestLoadRejectsEmptyDir(t *testing.T) {
	if _, err := Load(t.TempDir()); err == nil {
		t.Fatalf("Load() should fail on a dir without scripts")
	}
}

func TestPickIntersection(t *testing.T) {
	c, _ := Load("")

	// Active list names a script the catalog does not have plus a real one.
	s, ok := c.Pick([]string{"missing", "small-talk"})
	if !ok {
		t.Fatalf("Pick() should find small-talk")
	}
	if s.Name != "small-talk" {
		t.Fatalf("Pick() = %q, want small-talk", s.Name)
	}
}

func TestPickEmptyIntersection(t *testing.T) {
	c, _ := Load("")
	if _, ok := c.Pick([]string{"missing"}); ok {
		t.Fatalf("Pick() with no overlap should report false")
	}
	if _, ok := c.Pick(nil); ok {
		t.Fatalf("Pick() with empty active list should report false")
	}
}
