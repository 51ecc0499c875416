package persona

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"persona-rag/internal/models"
	"persona-rag/internal/prompt"
)

//go:embed personas.yaml
var defaultCatalogue []byte

var idRe = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// Profile is the static configuration of one persona
type Profile struct {
	ID               string          `yaml:"id" json:"id"`
	Name             string          `yaml:"name" json:"name"`
	Domain           string          `yaml:"domain" json:"domain"`
	Quote            string          `yaml:"quote" json:"quote"`
	AccentColor      string          `yaml:"accent_color" json:"accent_color"`
	ToneDescription  string          `yaml:"tone_description" json:"tone_description,omitempty"`
	Available        bool            `yaml:"available" json:"available"`
	Document         string          `yaml:"document" json:"-"`
	DocumentLabel    string          `yaml:"document_label" json:"-"`
	SuggestedPrompts []string        `yaml:"suggested_prompts" json:"suggested_prompts,omitempty"`
	Prompt           prompt.Template `yaml:"prompt" json:"-"`
}

// HasDocument reports whether the persona answers from a retrieval index
func (p Profile) HasDocument() bool { return p.Document != "" }

// Label is the citation title prefix for the persona's document
func (p Profile) Label() string {
	if p.DocumentLabel != "" {
		return p.DocumentLabel
	}
	return filepath.Base(p.Document)
}

// Catalogue is an ordered set of persona profiles
type Catalogue struct {
	Personas []Profile `yaml:"personas"`
}

// Default returns the built-in catalogue
func Default() (*Catalogue, error) {
	return Parse(defaultCatalogue, "")
}

// Load reads a catalogue file. Relative document paths are resolved against
// the file's directory. An empty path selects the built-in catalogue.
func Load(path string) (*Catalogue, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, models.NewError(models.KindConfiguration, "persona.Load", err)
	}
	c, err := Parse(data, filepath.Dir(path))
	if err != nil {
		return nil, err
	}
	log.Info().Str("path", path).Int("personas", len(c.Personas)).Msg("Loaded persona catalogue")
	return c, nil
}

// Parse decodes and validates a catalogue. Every prompt template is checked
// for both slots here, so a bad template fails at startup.
func Parse(data []byte, baseDir string) (*Catalogue, error) {
	var c Catalogue
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, models.NewError(models.KindConfiguration, "persona.Parse", err)
	}
	if err := c.validate(); err != nil {
		return nil, models.NewError(models.KindConfiguration, "persona.Parse", err)
	}
	if baseDir != "" {
		for i := range c.Personas {
			doc := c.Personas[i].Document
			if doc != "" && !filepath.IsAbs(doc) {
				c.Personas[i].Document = filepath.Join(baseDir, doc)
			}
		}
	}
	return &c, nil
}

func (c *Catalogue) validate() error {
	if len(c.Personas) == 0 {
		return errors.New("catalogue has no personas")
	}
	seen := make(map[string]bool, len(c.Personas))
	for _, p := range c.Personas {
		if !idRe.MatchString(p.ID) {
			return fmt.Errorf("invalid persona id %q", p.ID)
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate persona id %q", p.ID)
		}
		seen[p.ID] = true
		if p.Prompt.IsZero() {
			return fmt.Errorf("persona %s: %w: prompt is missing", p.ID, models.ErrTemplate)
		}
	}
	return nil
}

// Get returns the profile for id
func (c *Catalogue) Get(id string) (Profile, bool) {
	for _, p := range c.Personas {
		if p.ID == id {
			return p, true
		}
	}
	return Profile{}, false
}

// Available lists the profiles that can be queried, in catalogue order
func (c *Catalogue) Available() []Profile {
	var out []Profile
	for _, p := range c.Personas {
		if p.Available {
			out = append(out, p)
		}
	}
	return out
}
