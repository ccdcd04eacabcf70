// Package script holds the static catalog of warming conversation scripts.
// The catalog is read-only at runtime; which scripts are active is decided by
// the warming configuration, not here.
package script

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

type Kind string

const (
	KindText  Kind = "text"
	KindAudio Kind = "audio"
)

// Step is one scripted exchange. Text steps carry content; audio steps carry
// a file reference plus a caption. Steps are immutable once in a script.
type Step struct {
	Kind    Kind   `json:"kind" toml:"kind"`
	Content string `json:"content,omitempty" toml:"content"`
	File    string `json:"file,omitempty" toml:"file"`
	Caption string `json:"caption,omitempty" toml:"caption"`
}

type Script struct {
	Name  string `toml:"name"`
	Steps []Step `toml:"steps"`
}

type Catalog struct {
	scripts map[string]Script
}

// Load reads every *.toml script from dir. An empty dir falls back to the
// built-in defaults so a fresh install can warm without any files on disk.
func Load(dir string) (*Catalog, error) {
	if strings.TrimSpace(dir) == "" {
		return defaultCatalog(), nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read scripts dir: %w", err)
	}

	scripts := make(map[string]Script)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".toml") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read script %s: %w", e.Name(), err)
		}
		var s Script
		if _, err := toml.Decode(string(raw), &s); err != nil {
			return nil, fmt.Errorf("decode script %s: %w", e.Name(), err)
		}
		if s.Name == "" {
			s.Name = strings.TrimSuffix(e.Name(), ".toml")
		}
		if err := validate(s); err != nil {
			return nil, fmt.Errorf("script %s: %w", e.Name(), err)
		}
		scripts[s.Name] = s
	}
	if len(scripts) == 0 {
		return nil, fmt.Errorf("no scripts found in %s", dir)
	}
	return &Catalog{scripts: scripts}, nil
}

func validate(s Script) error {
	if len(s.Steps) == 0 {
		return errors.New("script has no steps")
	}
	for i, st := range s.Steps {
		switch st.Kind {
		case KindText:
			if st.Content == "" {
				return fmt.Errorf("step %d: text step without content", i)
			}
		case KindAudio:
			if st.File == "" {
				return fmt.Errorf("step %d: audio step without file", i)
			}
		default:
			return fmt.Errorf("step %d: unknown kind %q", i, st.Kind)
		}
	}
	return nil
}

// Get returns the named script.
func (c *Catalog) Get(name string) (Script, bool) {
	s, ok := c.scripts[name]
	return s, ok
}

// Names lists every script in the catalog, sorted.
func (c *Catalog) Names() []string {
	out := make([]string, 0, len(c.scripts))
	for name := range c.scripts {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Pick chooses uniformly at random among the scripts present in both the
// catalog and the active list. An empty intersection returns false; the
// scheduler skips that cycle rather than forcing a pairing.
func (c *Catalog) Pick(active []string) (Script, bool) {
	var eligible []Script
	for _, name := range active {
		if s, ok := c.scripts[name]; ok {
			eligible = append(eligible, s)
		}
	}
	if len(eligible) == 0 {
		return Script{}, false
	}
	return eligible[rand.IntN(len(eligible))], true
}

func defaultCatalog() *Catalog {
	scripts := map[string]Script{
		"small-talk": {
			Name: "small-talk",
			Steps: []Step{
				{Kind: KindText, Content: "oi, tudo bem?"},
				{Kind: KindText, Content: "tudo certo por aqui! e com voce?"},
				{Kind: KindText, Content: "tambem, na correria de sempre"},
				{Kind: KindText, Content: "te mando mensagem mais tarde entao"},
				{Kind: KindText, Content: "fechou, ate mais!"},
			},
		},
		"weekend-plans": {
			Name: "weekend-plans",
			Steps: []Step{
				{Kind: KindText, Content: "e ai, vai fazer algo no fim de semana?"},
				{Kind: KindText, Content: "to pensando em ir na praia, bora?"},
				{Kind: KindAudio, File: "audios/risada.ogg", Caption: "kkkk"},
				{Kind: KindText, Content: "combinado entao, sabado de manha"},
			},
		},
	}
	return &Catalog{scripts: scripts}
}
