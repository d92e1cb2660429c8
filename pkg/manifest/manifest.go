package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// FileName is the manifest file each service directory provides
const FileName = "manifest.json"

// Layer is a deployment layer, L0 being the feed source
type Layer string

const (
	LayerL0 Layer = "L0"
	LayerL1 Layer = "L1"
	LayerL2 Layer = "L2"
	LayerL3 Layer = "L3"
	LayerL4 Layer = "L4"
)

// PortRange is an inclusive range of ports
type PortRange struct {
	Min int
	Max int
}

// Contains reports whether port lies in the range
func (r PortRange) Contains(port int) bool {
	return port >= r.Min && port <= r.Max
}

func (r PortRange) String() string {
	return fmt.Sprintf("%d-%d", r.Min, r.Max)
}

// layerPorts is the port allocation per layer
var layerPorts = map[Layer]PortRange{
	LayerL0: {9000, 9009},
	LayerL1: {9010, 9019},
	LayerL2: {9020, 9029},
	LayerL3: {9030, 9039},
	LayerL4: {3000, 3099},
}

// ImplicitUpstreamPort is the L0 feed port that is always a valid upstream,
// whether or not a manifest declares it.
const ImplicitUpstreamPort = 9000

// Ports returns the allocated port range of a layer
func (l Layer) Ports() (PortRange, bool) {
	r, ok := layerPorts[l]
	return r, ok
}

// Index returns the numeric position of the layer, or -1 if unknown
func (l Layer) Index() int {
	switch l {
	case LayerL0:
		return 0
	case LayerL1:
		return 1
	case LayerL2:
		return 2
	case LayerL3:
		return 3
	case LayerL4:
		return 4
	}
	return -1
}

// Manifest declares one service of a deployment
type Manifest struct {
	Name           string   `json:"name"`
	Version        string   `json:"version"`
	Layer          Layer    `json:"layer"`
	Port           int      `json:"port"`
	Health         string   `json:"health"`
	EventsConsumed []string `json:"events_consumed"`
	EventsProduced []string `json:"events_produced"`
	Upstream       string   `json:"upstream,omitempty"`

	// Dir is the name of the directory the manifest was loaded from
	Dir string `json:"-"`
}

// Load reads a single manifest file
func Load(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	m.Dir = filepath.Base(filepath.Dir(path))
	return m, nil
}

// LoadDir reads <root>/<service>/manifest.json for every service directory
// under root, in directory name order. Directories without a manifest are
// skipped.
func LoadDir(root string) ([]Manifest, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read services directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var manifests []Manifest
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		m, err := Load(filepath.Join(root, entry.Name(), FileName))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		manifests = append(manifests, m)
	}
	return manifests, nil
}
