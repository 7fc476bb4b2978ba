package pkgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ElishaAz/VR-Navigation/pkg/graph"
)

var importsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "vrnav_package_imports_total",
		Help: "Total number of package imports by result",
	},
	[]string{"result"},
)

func init() {
	prometheus.MustRegister(importsTotal)
}

// Config configures a Store.
type Config struct {
	Root       string // permanent storage, one subdirectory per map
	Scratch    string // extraction area, wiped before every import
	Duplicates DuplicatePolicy
	Logger     *slog.Logger
}

// Store imports packages into per-map slots under a root directory.
type Store struct {
	root       string
	scratch    string
	duplicates DuplicatePolicy
	logger     *slog.Logger

	mu sync.Mutex // serialises imports over the shared scratch directory
}

func NewStore(cfg Config) *Store {
	if cfg.Duplicates == "" {
		cfg.Duplicates = Reject
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Scratch == "" {
		cfg.Scratch = filepath.Join(os.TempDir(), "vrnav-extracted")
	}
	return &Store{
		root:       cfg.Root,
		scratch:    cfg.Scratch,
		duplicates: cfg.Duplicates,
		logger:     cfg.Logger.With("component", "pkgstore"),
	}
}

func (s *Store) Root() string {
	return s.root
}

// Import extracts archive into scratch, validates it and moves it into the
// slot named by its MapInfo. On any failure nothing is moved into the root
// and the scratch directory is left empty.
func (s *Store) Import(ctx context.Context, archive []byte) (MapInfo, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, slot, err := s.importLocked(ctx, archive)
	if err != nil {
		s.clearScratch()
		importsTotal.WithLabelValues(resultLabel(err)).Inc()
		s.logger.Warn("import failed", "error", err)
		return MapInfo{}, "", err
	}
	importsTotal.WithLabelValues("ok").Inc()
	s.logger.Info("imported map", "map", info.Name, "version", info.Version, "slot", slot)
	return info, slot, nil
}

func (s *Store) importLocked(ctx context.Context, archive []byte) (MapInfo, string, error) {
	if err := os.RemoveAll(s.scratch); err != nil {
		return MapInfo{}, "", fmt.Errorf("clear scratch: %w", err)
	}
	if err := os.MkdirAll(s.scratch, 0o755); err != nil {
		return MapInfo{}, "", fmt.Errorf("create scratch: %w", err)
	}

	if err := extract(ctx, archive, s.scratch); err != nil {
		return MapInfo{}, "", err
	}
	if !IsMapDir(s.scratch) {
		return MapInfo{}, "", fmt.Errorf("%w: package must contain both %s and %s", ErrMalformedPackage, InfoFile, ConfigFile)
	}

	info, err := ReadManifest(s.scratch)
	if err != nil {
		return MapInfo{}, "", err
	}
	if _, err := ReadGraph(s.scratch); err != nil {
		return MapInfo{}, "", err
	}

	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return MapInfo{}, "", fmt.Errorf("create maps root: %w", err)
	}
	slot := filepath.Join(s.root, info.SlotName())

	if _, err := os.Stat(slot); err == nil {
		if s.duplicates != Overwrite {
			return MapInfo{}, "", fmt.Errorf("%w: %s", ErrAlreadyExists, info)
		}
		s.logger.Info("overwriting map", "map", info.Name, "version", info.Version)
		if err := os.RemoveAll(slot); err != nil {
			return MapInfo{}, "", fmt.Errorf("remove old slot: %w", err)
		}
	}

	if err := os.Rename(s.scratch, slot); err != nil {
		return MapInfo{}, "", fmt.Errorf("move package into place: %w", err)
	}
	return info, slot, nil
}

func (s *Store) clearScratch() {
	if err := os.RemoveAll(s.scratch); err != nil {
		s.logger.Error("failed to clear scratch", "path", s.scratch, "error", err)
	}
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, ErrMalformedPackage):
		return "malformed"
	case errors.Is(err, ErrAlreadyExists):
		return "exists"
	default:
		return "error"
	}
}

// Locate scans the store root.
func (s *Store) Locate() (map[MapInfo]string, error) {
	return Locate(s.root, s.logger)
}

// Entry is a located map.
type Entry struct {
	MapInfo
	Path string `json:"path"`
}

// List returns the located maps ordered by name, then version.
func (s *Store) List() ([]Entry, error) {
	found, err := s.Locate()
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(found))
	for info, path := range found {
		out = append(out, Entry{MapInfo: info, Path: path})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Version < out[j].Version
	})
	return out, nil
}

// Open resolves a stored map and reads its graph.
func (s *Store) Open(info MapInfo) (string, *graph.Graph, error) {
	if err := info.Validate(); err != nil {
		return "", nil, fmt.Errorf("%w: %s", ErrNotFound, info)
	}
	slot := filepath.Join(s.root, info.SlotName())
	if !IsMapDir(slot) {
		return "", nil, fmt.Errorf("%w: %s", ErrNotFound, info)
	}
	g, err := ReadGraph(slot)
	if err != nil {
		return "", nil, err
	}
	return slot, g, nil
}

// Remove deletes a stored map.
func (s *Store) Remove(info MapInfo) error {
	if err := info.Validate(); err != nil {
		return fmt.Errorf("%w: %s", ErrNotFound, info)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	slot := filepath.Join(s.root, info.SlotName())
	if _, err := os.Stat(slot); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, info)
		}
		return err
	}
	if err := os.RemoveAll(slot); err != nil {
		return fmt.Errorf("remove %s: %w", info, err)
	}
	s.logger.Info("removed map", "map", info.Name, "version", info.Version)
	return nil
}

// IsMapDir reports whether dir directly contains both manifest files.
func IsMapDir(dir string) bool {
	for _, name := range []string{InfoFile, ConfigFile} {
		fi, err := os.Stat(filepath.Join(dir, name))
		if err != nil || !fi.Mode().IsRegular() {
			return false
		}
	}
	return true
}

// Locate returns the maps stored in the immediate subdirectories of root.
// A missing root is created and yields an empty result. Directories that
// fail the structure check or whose info cannot be read are skipped.
func Locate(root string, logger *slog.Logger) (map[MapInfo]string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	found := make(map[MapInfo]string)

	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		if err := os.MkdirAll(root, 0o755); err != nil {
			return nil, fmt.Errorf("create maps root: %w", err)
		}
		return found, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan maps root: %w", err)
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(root, e.Name())
		if !IsMapDir(dir) {
			continue
		}
		info, err := ReadManifest(dir)
		if err != nil {
			logger.Warn("skipping unreadable map", "path", dir, "error", err)
			continue
		}
		found[info] = dir
	}
	return found, nil
}

// ReadManifest reads dir's map.info.
func ReadManifest(dir string) (MapInfo, error) {
	data, err := os.ReadFile(filepath.Join(dir, InfoFile))
	if err != nil {
		return MapInfo{}, fmt.Errorf("%w: %v", ErrMalformedPackage, err)
	}
	var info MapInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return MapInfo{}, fmt.Errorf("%w: %s: %v", ErrMalformedPackage, InfoFile, err)
	}
	if err := info.Validate(); err != nil {
		return MapInfo{}, err
	}
	return info, nil
}

// ReadGraph reads and validates dir's map.config.
func ReadGraph(dir string) (*graph.Graph, error) {
	f, err := os.Open(filepath.Join(dir, ConfigFile))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPackage, err)
	}
	defer f.Close()

	g, err := graph.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformedPackage, ConfigFile, err)
	}
	return g, nil
}

// WriteMap writes map.info and map.config into dir, creating it if needed.
// Each file is replaced atomically.
func WriteMap(dir string, info MapInfo, g *graph.Graph) error {
	if err := info.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	infoJSON, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}
	if err := writeFileAtomic(dir, InfoFile, func(f *os.File) error {
		_, err := f.Write(infoJSON)
		return err
	}); err != nil {
		return err
	}
	return writeFileAtomic(dir, ConfigFile, func(f *os.File) error {
		return graph.Encode(f, g)
	})
}

func writeFileAtomic(dir, name string, write func(*os.File) error) error {
	tempFile, err := os.CreateTemp(dir, "temp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer tempFile.Close()

	if err := write(tempFile); err != nil {
		os.Remove(tempFile.Name())
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := tempFile.Sync(); err != nil {
		os.Remove(tempFile.Name())
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		os.Remove(tempFile.Name())
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	fullPath := filepath.Join(dir, name)
	if err := os.Rename(tempFile.Name(), fullPath); err != nil {
		os.Remove(tempFile.Name())
		return fmt.Errorf("failed to rename temp file to %s: %w", fullPath, err)
	}
	return nil
}
