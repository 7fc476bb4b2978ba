package pkgstore

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var (
	// ErrMalformedPackage is returned when an archive or map directory is
	// structurally invalid or its manifests cannot be read.
	ErrMalformedPackage = errors.New("pkgstore: malformed package")

	// ErrAlreadyExists is returned when an import targets an occupied slot
	// and duplicates are rejected.
	ErrAlreadyExists = errors.New("pkgstore: map already exists")

	// ErrNotFound is returned when no map is stored under a MapInfo.
	ErrNotFound = errors.New("pkgstore: map not found")
)

const (
	// InfoFile holds the MapInfo header.
	InfoFile = "map.info"
	// ConfigFile holds the graph manifest.
	ConfigFile = "map.config"
)

// MapInfo identifies a stored map. It is comparable and used as a map key.
type MapInfo struct {
	Name    string  `json:"name"`
	Version float64 `json:"version"`
}

func (m MapInfo) String() string {
	return fmt.Sprintf("%s v%s", m.Name, formatVersion(m.Version))
}

// SlotName is the directory a map is stored under: {name}v{version}.
func (m MapInfo) SlotName() string {
	return m.Name + "v" + formatVersion(m.Version)
}

// Validate rejects infos that cannot name a slot.
func (m MapInfo) Validate() error {
	switch {
	case m.Name == "":
		return fmt.Errorf("%w: map name is empty", ErrMalformedPackage)
	case m.Name == "." || m.Name == "..", strings.ContainsAny(m.Name, `/\`):
		return fmt.Errorf("%w: map name %q is not a valid directory name", ErrMalformedPackage, m.Name)
	case math.IsNaN(m.Version) || math.IsInf(m.Version, 0):
		return fmt.Errorf("%w: map version is not a number", ErrMalformedPackage)
	}
	return nil
}

func formatVersion(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// DuplicatePolicy decides what Import does with an occupied slot.
type DuplicatePolicy string

const (
	Reject    DuplicatePolicy = "reject"
	Overwrite DuplicatePolicy = "overwrite"
)

func ParseDuplicatePolicy(s string) (DuplicatePolicy, error) {
	switch DuplicatePolicy(s) {
	case Reject, Overwrite:
		return DuplicatePolicy(s), nil
	}
	return "", fmt.Errorf("unknown duplicate policy %q (want reject or overwrite)", s)
}
