// internal/actionlog/store.go
package actionlog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"

	"github.com/xkilldash9x/flowreplay/api/schemas"
)

const recordingExt = ".json"

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Entry describes a stored recording.
type Entry struct {
	Name     string
	Path     string
	Modified time.Time
	Size     int64
}

// Store is a directory of recordings addressed by name.
type Store struct {
	dir    string
	logger *zap.Logger
}

// NewStore opens (and creates) the recordings directory. A leading "~" is expanded.
func NewStore(dir string, logger *zap.Logger) (*Store, error) {
	expanded, err := homedir.Expand(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to expand recordings directory %q: %w", dir, err)
	}
	if err := os.MkdirAll(expanded, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create recordings directory: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{dir: expanded, logger: logger.Named("actionlog")}, nil
}

// Dir returns the absolute directory backing the store.
func (s *Store) Dir() string { return s.dir }

// Path resolves a recording reference. Anything that looks like a path
// (has a separator or extension) is used as given; bare names map into the store.
func (s *Store) Path(ref string) string {
	if strings.ContainsRune(ref, os.PathSeparator) || filepath.Ext(ref) != "" {
		if expanded, err := homedir.Expand(ref); err == nil {
			return expanded
		}
		return ref
	}
	return filepath.Join(s.dir, SanitizeName(ref)+recordingExt)
}

// Get loads a recording by name or path.
func (s *Store) Get(ref string) (*schemas.Recording, *Report, error) {
	return Load(s.Path(ref), s.logger)
}

// Put saves a recording under ref and returns the written path.
func (s *Store) Put(ref string, rec *schemas.Recording) (string, error) {
	path := s.Path(ref)
	if err := Save(path, rec); err != nil {
		return "", err
	}
	s.logger.Info("Recording saved.", zap.String("path", path), zap.Int("actions", len(rec.Actions)))
	return path, nil
}

// List returns stored recordings, newest first.
func (s *Store) List() ([]Entry, error) {
	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list recordings: %w", err)
	}

	entries := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		if de.IsDir() || filepath.Ext(de.Name()) != recordingExt || strings.HasPrefix(de.Name(), ".") {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		entries = append(entries, Entry{
			Name:     strings.TrimSuffix(de.Name(), recordingExt),
			Path:     filepath.Join(s.dir, de.Name()),
			Modified: info.ModTime(),
			Size:     info.Size(),
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Modified.Equal(entries[j].Modified) {
			return entries[i].Name < entries[j].Name
		}
		return entries[i].Modified.After(entries[j].Modified)
	})
	return entries, nil
}

// SanitizeName turns an arbitrary label (often a URL host) into a file name.
func SanitizeName(name string) string {
	cleaned := strings.Trim(unsafeName.ReplaceAllString(name, "_"), "_.")
	if cleaned == "" {
		return "recording"
	}
	return cleaned
}

// DefaultName names a new recording after the target host and the capture time.
func DefaultName(host string, at time.Time) string {
	return SanitizeName(host) + "_" + at.UTC().Format("20060102T150405")
}
