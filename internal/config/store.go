package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
)

// Store persists a Config as JSON at a fixed path.
type Store struct {
	path string

	mu  sync.Mutex // protects cfg
	cfg *Config
}

// NewStore returns a Store for the file at path. Nothing is read until Load
// or Get is called.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the file backing the store.
func (s *Store) Path() string { return s.path }

// Load reads the file, or writes the defaults when it does not exist yet.
func (s *Store) Load() (Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.loadLocked()
}

func (s *Store) loadLocked() (Config, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg := Default()
		if err := s.write(cfg); err != nil {
			return Config{}, err
		}
		s.cfg = &cfg
		return cfg.Clone(), nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return Config{}, err
	}
	s.cfg = &cfg
	return cfg.Clone(), nil
}

// Parse decodes a JSON document on top of the defaults and validates it.
// Sections or fields missing from data keep their default values.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: invalid JSON: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Get returns the current configuration, loading it on first use.
func (s *Store) Get() (Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg == nil {
		return s.loadLocked()
	}
	return s.cfg.Clone(), nil
}

// Save validates cfg, writes it to disk and makes it the current configuration.
func (s *Store) Save(cfg Config) error {
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.write(cfg); err != nil {
		return err
	}
	cfg = cfg.Clone()
	s.cfg = &cfg
	return nil
}

// Update deep merges updates into the current configuration and validates the
// result. Nested keys that updates does not mention keep their prior values.
// On error the current configuration is left untouched. Update does not write
// to disk; call Save to persist.
func (s *Store) Update(updates map[string]any) (Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg == nil {
		if _, err := s.loadLocked(); err != nil {
			return Config{}, err
		}
	}

	merged, err := Merge(*s.cfg, updates)
	if err != nil {
		return Config{}, err
	}
	s.cfg = &merged
	return merged.Clone(), nil
}

// Merge applies updates to base and returns the validated result. Unknown
// keys are rejected.
func Merge(base Config, updates map[string]any) (Config, error) {
	current, err := toMap(base)
	if err != nil {
		return Config{}, err
	}
	deepMerge(current, updates)

	encoded, err := json.Marshal(current)
	if err != nil {
		return Config{}, fmt.Errorf("update config: %w", err)
	}
	var merged Config
	dec := json.NewDecoder(bytes.NewReader(encoded))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&merged); err != nil {
		return Config{}, &ValidationError{Field: "update", Reason: err.Error()}
	}
	merged.normalize()
	if err := merged.Validate(); err != nil {
		return Config{}, err
	}
	return merged, nil
}

func toMap(cfg Config) (map[string]any, error) {
	encoded, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	out := map[string]any{}
	if err := json.Unmarshal(encoded, &out); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return out, nil
}

func deepMerge(base, updates map[string]any) {
	for key, value := range updates {
		nested, ok := value.(map[string]any)
		if existing, isMap := base[key].(map[string]any); ok && isMap {
			deepMerge(existing, nested)
			continue
		}
		base[key] = value
	}
}

// write replaces the file atomically while holding the cross process lock.
func (s *Store) write(cfg Config) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	lock := flock.New(s.path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock config: %w", err)
	}
	defer lock.Unlock()

	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("write config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
