// Package manifest persists project manifests on disk.
//
// Each project is stored as <root>/<name>/discovered.json, the layout
// downstream tooling reads. Files are written atomically so a reader never
// observes a half-written manifest.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"slices"

	"github.com/nao1215/chainscan/internal/model"
)

// FileName is the manifest file name inside a project directory.
const FileName = "discovered.json"

var (
	// ErrInvalidProjectName is returned for names that are not safe as a
	// single path element.
	ErrInvalidProjectName = errors.New("invalid project name")

	// ErrNotFound is returned by Load when no manifest exists for a project.
	ErrNotFound = errors.New("manifest not found")

	// ErrNameMismatch is returned by Load when the file holds the manifest of
	// a different project.
	ErrNameMismatch = errors.New("manifest name does not match project")
)

// projectNamePattern allows lower and upper case letters, digits, dots,
// dashes and underscores, starting with a letter or digit.
var projectNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

// ValidateProjectName checks that name can be used as a directory name.
func ValidateProjectName(name string) error {
	if !projectNamePattern.MatchString(name) || name == "." || name == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidProjectName, name)
	}
	return nil
}

// Store reads and writes manifests below a root directory.
type Store struct {
	root string
}

// NewStore creates a Store rooted at dir. The directory is created on the
// first Save.
func NewStore(dir string) *Store {
	return &Store{root: dir}
}

// Root returns the root directory.
func (s *Store) Root() string {
	return s.root
}

// Path returns the manifest path for a project.
func (s *Store) Path(name string) string {
	return filepath.Join(s.root, name, FileName)
}

// Encode renders m exactly as Save writes it: two-space indented JSON with
// a trailing newline.
func Encode(m *model.ProjectManifest) ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode manifest %s: %w", m.Name, err)
	}
	return append(data, '\n'), nil
}

// Save writes m to <root>/<m.Name>/discovered.json, replacing any previous
// manifest atomically.
func (s *Store) Save(m *model.ProjectManifest) (string, error) {
	if err := ValidateProjectName(m.Name); err != nil {
		return "", err
	}
	data, err := Encode(m)
	if err != nil {
		return "", err
	}

	dir := filepath.Join(s.root, m.Name)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create project directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".discovered-*.json")
	if err != nil {
		return "", fmt.Errorf("failed to create temporary manifest: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		// No-op after a successful rename.
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("failed to sync manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close manifest: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return "", fmt.Errorf("failed to set manifest permissions: %w", err)
	}

	path := s.Path(m.Name)
	if err := os.Rename(tmpName, path); err != nil {
		return "", fmt.Errorf("failed to replace manifest: %w", err)
	}
	return path, nil
}

// Load reads the manifest of a project.
func (s *Store) Load(name string) (*model.ProjectManifest, error) {
	if err := ValidateProjectName(name); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.Path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m model.ProjectManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", name, err)
	}
	if m.Name != name {
		return nil, fmt.Errorf("%w: file for %q contains %q", ErrNameMismatch, name, m.Name)
	}
	return &m, nil
}

// Exists reports whether a manifest has been saved for a project.
func (s *Store) Exists(name string) bool {
	if ValidateProjectName(name) != nil {
		return false
	}
	_, err := os.Stat(s.Path(name))
	return err == nil
}

// List returns the names of all projects with a saved manifest, sorted.
// A missing root yields an empty list.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list manifests: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() && s.Exists(e.Name()) {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)
	return names, nil
}
