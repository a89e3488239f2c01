package prompts

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Prompt is a system prompt for one role
type Prompt struct {
	Role        string `yaml:"role" json:"role"`
	Text        string `yaml:"prompt" json:"prompt"`
	Description string `yaml:"description" json:"description"`
	// Source is the override file, empty for built-ins
	Source string `yaml:"-" json:"source,omitempty"`
}

// Store holds the active prompt per role
type Store struct {
	dir    string
	logger zerolog.Logger

	mu      sync.RWMutex
	prompts map[string]Prompt
}

// NewStore creates a store with built-in prompts and applies overrides
// found in dir. An empty or missing dir keeps the built-ins.
func NewStore(dir string, logger zerolog.Logger) (*Store, error) {
	s := &Store{
		dir:     dir,
		logger:  logger,
		prompts: make(map[string]Prompt, len(builtin)),
	}
	for role, p := range builtin {
		s.prompts[role] = p
	}

	if dir == "" {
		return s, nil
	}
	for _, role := range Roles() {
		if err := s.Reload(role); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Dir returns the override directory
func (s *Store) Dir() string {
	return s.dir
}

// Get returns the prompt text for role, or "" when unknown
func (s *Store) Get(role string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prompts[role].Text
}

// Prompt returns the full prompt for role
func (s *Store) Prompt(role string) (Prompt, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prompts[role]
	return p, ok
}

// Reload re-reads the override for role. Without an override file the
// built-in prompt is restored.
func (s *Store) Reload(role string) error {
	p, err := s.load(role)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.prompts[role] = p
	s.mu.Unlock()

	if p.Source != "" {
		s.logger.Info().Str("role", role).Str("path", p.Source).Msg("Prompt override loaded")
	}
	return nil
}

func (s *Store) load(role string) (Prompt, error) {
	fallback, known := builtin[role]
	if !known {
		return Prompt{}, fmt.Errorf("unknown prompt role %q", role)
	}

	for _, ext := range []string{".md", ".yaml", ".yml"} {
		path := filepath.Join(s.dir, role+ext)
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return Prompt{}, fmt.Errorf("failed to read prompt %s: %w", path, err)
		}

		p, err := parse(role, ext, data)
		if err != nil {
			return Prompt{}, fmt.Errorf("failed to parse prompt %s: %w", path, err)
		}
		if p.Description == "" {
			p.Description = fallback.Description
		}
		p.Source = path
		return p, nil
	}
	return fallback, nil
}

func parse(role, ext string, data []byte) (Prompt, error) {
	if ext == ".md" {
		text := strings.TrimSpace(string(data))
		if text == "" {
			return Prompt{}, errors.New("prompt is empty")
		}
		return Prompt{Role: role, Text: text}, nil
	}

	var p Prompt
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Prompt{}, err
	}
	if p.Role != "" && p.Role != role {
		return Prompt{}, fmt.Errorf("file declares role %q", p.Role)
	}
	p.Role = role
	p.Text = strings.TrimSpace(p.Text)
	if p.Text == "" {
		return Prompt{}, errors.New("prompt is empty")
	}
	return p, nil
}

// roleForPath maps an override file back to its role
func roleForPath(path string) (string, bool) {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	switch ext {
	case ".md", ".yaml", ".yml":
	default:
		return "", false
	}
	role := strings.TrimSuffix(base, ext)
	_, ok := builtin[role]
	return role, ok
}
