package language

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed languages.yaml
var defaultCatalog []byte

var ErrUnknownLanguage = errors.New("unknown language")

// Voice is a named synthesis voice.
type Voice struct {
	Name   string `yaml:"name" json:"name"`
	Code   string `yaml:"code" json:"code"`
	Gender string `yaml:"gender" json:"gender"`
}

// Language describes a practice language and how its text is joined and counted.
type Language struct {
	Name           string  `yaml:"name" json:"name"`
	Locale         string  `yaml:"locale" json:"locale"`
	SpaceDelimited bool    `yaml:"space_delimited" json:"space_delimited"`
	CharacterBased bool    `yaml:"character_based" json:"character_based"`
	SpeechName     string  `yaml:"speech_name" json:"speech_name"`
	Voices         []Voice `yaml:"voices" json:"voices"`
}

// Join appends a recognized fragment to accumulated text. Space-delimited
// languages get a single separating space; the first fragment is never prefixed.
func (l Language) Join(acc, fragment string) string {
	if acc == "" {
		return fragment
	}
	if fragment == "" {
		return acc
	}
	if l.SpaceDelimited {
		return acc + " " + fragment
	}
	return acc + fragment
}

// DefaultVoice returns the first configured voice.
func (l Language) DefaultVoice() (Voice, bool) {
	if len(l.Voices) == 0 {
		return Voice{}, false
	}
	return l.Voices[0], true
}

// Voice returns the voice with the given code, falling back to the default.
func (l Language) Voice(code string) (Voice, bool) {
	for _, v := range l.Voices {
		if strings.EqualFold(v.Code, code) {
			return v, true
		}
	}
	return l.DefaultVoice()
}

// Catalog is an ordered set of languages keyed by locale.
type Catalog struct {
	languages []Language
	byLocale  map[string]Language
}

type catalogFile struct {
	Languages []Language `yaml:"languages"`
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := Parse(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("embedded language catalog: %v", err))
	}
	return c
}

// Load reads a catalog file, or returns the built-in catalog when path is empty.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read language catalog: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse language catalog %s: %w", path, err)
	}
	return c, nil
}

// Parse decodes and validates a YAML catalog.
func Parse(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	if len(f.Languages) == 0 {
		return nil, errors.New("catalog has no languages")
	}
	c := &Catalog{byLocale: make(map[string]Language, len(f.Languages))}
	for i, l := range f.Languages {
		l.Locale = strings.ToLower(strings.TrimSpace(l.Locale))
		if l.Locale == "" {
			return nil, fmt.Errorf("language %d: locale is required", i)
		}
		if l.SpeechName == "" {
			return nil, fmt.Errorf("language %s: speech_name is required", l.Locale)
		}
		if _, dup := c.byLocale[l.Locale]; dup {
			return nil, fmt.Errorf("language %s: duplicate locale", l.Locale)
		}
		c.languages = append(c.languages, l)
		c.byLocale[l.Locale] = l
	}
	return c, nil
}

// Lookup finds a language by locale, case-insensitively.
func (c *Catalog) Lookup(locale string) (Language, error) {
	l, ok := c.byLocale[strings.ToLower(strings.TrimSpace(locale))]
	if !ok {
		return Language{}, fmt.Errorf("%w: %q", ErrUnknownLanguage, locale)
	}
	return l, nil
}

// LookupOrDefault finds a language, falling back to the first catalog entry.
func (c *Catalog) LookupOrDefault(locale string) Language {
	if l, err := c.Lookup(locale); err == nil {
		return l
	}
	return c.languages[0]
}

// All returns the catalog in declaration order.
func (c *Catalog) All() []Language {
	out := make([]Language, len(c.languages))
	copy(out, c.languages)
	return out
}
