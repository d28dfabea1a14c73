// Package patterns holds the versioned regex lists that back the input
// validator, command classifier, file-path guard and output sanitizer.
// Lists are compiled-in defaults, optionally overridden per category by YAML
// files in a directory, hot-checked for modification before each use.
package patterns

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Pattern is a single named regex with the reason surfaced to callers when it matches.
type Pattern struct {
	Name   string `yaml:"name"`
	Regex  string `yaml:"regex"`
	Reason string `yaml:"reason"`

	compiled *regexp.Regexp
}

// Match reports whether s matches the pattern.
func (p *Pattern) Match(s string) bool {
	if p.compiled == nil {
		return false
	}
	return p.compiled.MatchString(s)
}

// ReplaceAllStringFunc applies fn to every match of the pattern in s.
func (p *Pattern) ReplaceAllStringFunc(s string, fn func(string) string) string {
	if p.compiled == nil {
		return s
	}
	return p.compiled.ReplaceAllStringFunc(s, fn)
}

func compileAll(list []Pattern) error {
	for i := range list {
		re, err := regexp.Compile("(?i)" + list[i].Regex)
		if err != nil {
			return fmt.Errorf("pattern %q: %w", list[i].Name, err)
		}
		list[i].compiled = re
	}
	return nil
}

// fileSet is the on-disk shape of one category file, e.g. blocked.yaml.
type fileSet struct {
	Patterns []Pattern `yaml:"patterns"`
}

// Store holds all pattern categories for one running process.
type Store struct {
	mu sync.RWMutex

	dir     string
	mtimes  map[string]time.Time
	checked time.Time

	Injection       []Pattern
	Blocked         []Pattern
	Dangerous       []Pattern
	SensitiveFiles  []Pattern
	DangerousCode   []Pattern
	SecretRegexes   []Pattern
	SecretKeyNames  []Pattern
	GrepSecretTerms []Pattern
	BlockedURLs     []Pattern
	BlockedDirs     []string
}

const (
	fileInjection      = "injection.yaml"
	fileBlocked        = "blocked.yaml"
	fileDangerous      = "dangerous.yaml"
	fileSensitiveFiles = "sensitive_files.yaml"
	fileDangerousCode  = "dangerous_code.yaml"
	fileSecrets        = "secrets.yaml"
	fileBlockedURLs    = "blocked_urls.yaml"
	fileBlockedDirs    = "blocked_dirs.yaml"
)

// Load builds a Store from built-in defaults, then overlays any category
// file found in dir. A missing dir or missing individual files is not an
// error: defaults stand in for anything absent.
func Load(dir string) (*Store, error) {
	s := &Store{dir: dir, mtimes: map[string]time.Time{}}
	s.loadDefaults()
	if dir != "" {
		if err := s.overlayDir(dir); err != nil {
			return nil, err
		}
	}
	s.checked = time.Now()
	return s, nil
}

// MaybeReload re-reads any category file whose mtime has advanced since the
// last check. Cheap: a single Stat per category file, throttled to once
// every two seconds so a hot classification path never hits the filesystem
// on every call.
func (s *Store) MaybeReload() error {
	s.mu.RLock()
	dir := s.dir
	last := s.checked
	s.mu.RUnlock()

	if dir == "" || time.Since(last) < 2*time.Second {
		return nil
	}

	changed := false
	for _, name := range []string{fileInjection, fileBlocked, fileDangerous, fileSensitiveFiles, fileDangerousCode, fileSecrets, fileBlockedURLs, fileBlockedDirs} {
		path := filepath.Join(dir, name)
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		s.mu.RLock()
		prev, known := s.mtimes[path]
		s.mu.RUnlock()
		if !known || info.ModTime().After(prev) {
			changed = true
		}
	}

	s.mu.Lock()
	s.checked = time.Now()
	s.mu.Unlock()

	if !changed {
		return nil
	}
	return s.overlayDir(dir)
}

func (s *Store) overlayDir(dir string) error {
	load := func(name string, into *[]Pattern) error {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil // absent: defaults stand
		}
		var fs fileSet
		if err := yaml.Unmarshal(data, &fs); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		if err := compileAll(fs.Patterns); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		s.mu.Lock()
		*into = fs.Patterns
		if info, statErr := os.Stat(path); statErr == nil {
			s.mtimes[path] = info.ModTime()
		}
		s.mu.Unlock()
		return nil
	}

	if err := load(fileInjection, &s.Injection); err != nil {
		return err
	}
	if err := load(fileBlocked, &s.Blocked); err != nil {
		return err
	}
	if err := load(fileDangerous, &s.Dangerous); err != nil {
		return err
	}
	if err := load(fileSensitiveFiles, &s.SensitiveFiles); err != nil {
		return err
	}
	if err := load(fileDangerousCode, &s.DangerousCode); err != nil {
		return err
	}
	if err := load(fileSecrets, &s.SecretRegexes); err != nil {
		return err
	}
	if err := load(fileBlockedURLs, &s.BlockedURLs); err != nil {
		return err
	}

	blockedDirsPath := filepath.Join(dir, fileBlockedDirs)
	if data, err := os.ReadFile(blockedDirsPath); err == nil {
		var dirs struct {
			Dirs []string `yaml:"dirs"`
		}
		if err := yaml.Unmarshal(data, &dirs); err != nil {
			return fmt.Errorf("parse %s: %w", blockedDirsPath, err)
		}
		s.mu.Lock()
		s.BlockedDirs = dirs.Dirs
		if info, statErr := os.Stat(blockedDirsPath); statErr == nil {
			s.mtimes[blockedDirsPath] = info.ModTime()
		}
		s.mu.Unlock()
	}

	return nil
}

// MatchFirst returns the first pattern in list matching s, honoring list order.
func MatchFirst(list []Pattern, s string) (*Pattern, bool) {
	for i := range list {
		if list[i].Match(s) {
			return &list[i], true
		}
	}
	return nil, false
}
