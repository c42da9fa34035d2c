package mockup

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Class is the device family of a mockup frame, resolved once from the
// template id when the catalog is loaded.
type Class int

const (
	ClassOther Class = iota
	ClassBrowser
	ClassMobile
	ClassLaptop
	ClassTablet
)

func (c Class) String() string {
	switch c {
	case ClassBrowser:
		return "browser"
	case ClassMobile:
		return "mobile"
	case ClassLaptop:
		return "laptop"
	case ClassTablet:
		return "tablet"
	default:
		return "other"
	}
}

// Device maps the frame class to the viewport preset a capture should use
// when the caller picked a mockup but no device.
func (c Class) Device() string {
	switch c {
	case ClassMobile:
		return "mobile"
	case ClassLaptop:
		return "laptop"
	case ClassTablet:
		return "tablet"
	default:
		return "desktop"
	}
}

func classify(id string) Class {
	id = strings.ToLower(id)
	switch {
	case strings.Contains(id, "browser"):
		return ClassBrowser
	case strings.Contains(id, "iphone"), strings.Contains(id, "pixel"),
		strings.Contains(id, "galaxy"), strings.Contains(id, "phone"),
		strings.Contains(id, "mobile"):
		return ClassMobile
	case strings.Contains(id, "macbook"), strings.Contains(id, "laptop"):
		return ClassLaptop
	case strings.Contains(id, "ipad"), strings.Contains(id, "tablet"):
		return ClassTablet
	default:
		return ClassOther
	}
}

// Rect is the placement rectangle where captured content lands on a frame.
type Rect struct {
	X      int `yaml:"x" json:"x"`
	Y      int `yaml:"y" json:"y"`
	Width  int `yaml:"width" json:"width"`
	Height int `yaml:"height" json:"height"`
}

// Template is one catalog entry. Asset is resolved relative to the catalog
// file and only opened at composite time, so a missing image degrades a
// single request instead of failing startup.
type Template struct {
	ID     string `yaml:"id"`
	Asset  string `yaml:"asset"`
	Screen Rect   `yaml:"screen"`
	Class  Class  `yaml:"-"`
}

type catalogFile struct {
	Mockups []*Template `yaml:"mockups"`
}

// Registry is the immutable mockup catalog, loaded once at process start.
type Registry struct {
	templates map[string]*Template
}

// Load parses the YAML catalog and resolves classes and asset paths.
func Load(path string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mockup catalog: %w", err)
	}
	var file catalogFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse mockup catalog: %w", err)
	}

	baseDir := filepath.Dir(path)
	templates := make(map[string]*Template, len(file.Mockups))
	for _, t := range file.Mockups {
		if t.ID == "" {
			return nil, fmt.Errorf("mockup catalog entry without id")
		}
		if t.Screen.Width <= 0 || t.Screen.Height <= 0 {
			return nil, fmt.Errorf("mockup %q has an empty screen rect", t.ID)
		}
		if !filepath.IsAbs(t.Asset) {
			t.Asset = filepath.Join(baseDir, t.Asset)
		}
		t.Class = classify(t.ID)
		templates[t.ID] = t
	}
	return &Registry{templates: templates}, nil
}

// Get looks up a template by id.
func (r *Registry) Get(id string) (*Template, bool) {
	t, ok := r.templates[id]
	return t, ok
}

// Has reports whether the id exists in the catalog.
func (r *Registry) Has(id string) bool {
	_, ok := r.templates[id]
	return ok
}
