package memory

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cory-johannsen/stylesync/internal/document"
)

// yamlRoomFile is the top-level YAML structure of a room seed file.
type yamlRoomFile struct {
	Room yamlRoom `yaml:"room"`
}

type yamlRoom struct {
	ID        string     `yaml:"id"`
	VersionID string     `yaml:"version_id"`
	Atomic    yamlAtomic `yaml:"atomic"`
	Page      yamlPage   `yaml:"page"`
}

type yamlAtomic struct {
	ComponentID string `yaml:"component_id"`
	ClassName   string `yaml:"class_name"`
}

type yamlPage struct {
	ID        string         `yaml:"id"`
	Overrides []yamlOverride `yaml:"overrides"`
}

type yamlOverride struct {
	InstanceID string `yaml:"instance_id"`
	NodeID     string `yaml:"node_id"`
	ClassName  string `yaml:"class_name"`
}

// LoadYAML reads and validates a single room seed file.
//
// Precondition: path must point to a YAML room file.
// Postcondition: Returns a validated RoomDocument or a non-nil error.
func LoadYAML(path string) (document.RoomDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return document.RoomDocument{}, fmt.Errorf("reading room file %s: %w", path, err)
	}
	return ParseYAML(data)
}

// ParseYAML parses and validates a room document from YAML bytes.
func ParseYAML(data []byte) (document.RoomDocument, error) {
	var file yamlRoomFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return document.RoomDocument{}, fmt.Errorf("parsing room YAML: %w", err)
	}
	doc := file.Room.toDocument()
	if err := doc.Validate(); err != nil {
		return document.RoomDocument{}, fmt.Errorf("validating room: %w", err)
	}
	return doc, nil
}

// LoadYAMLDir loads every .yaml/.yml file in dir.
//
// Precondition: dir must be a readable directory.
// Postcondition: Returns all validated documents or the first error encountered.
func LoadYAMLDir(dir string) ([]document.RoomDocument, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading room directory %s: %w", dir, err)
	}

	var docs []document.RoomDocument
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}
		doc, err := LoadYAML(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("loading room from %s: %w", name, err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// NewStoreFromDir seeds a Store from the YAML files in dir.
func NewStoreFromDir(dir string) (*Store, error) {
	docs, err := LoadYAMLDir(dir)
	if err != nil {
		return nil, err
	}
	return NewStore(docs...)
}

func (yr yamlRoom) toDocument() document.RoomDocument {
	overrides := make([]document.PageOverride, 0, len(yr.Page.Overrides))
	for _, o := range yr.Page.Overrides {
		overrides = append(overrides, document.PageOverride{
			InstanceID: o.InstanceID,
			NodeID:     o.NodeID,
			ClassName:  strings.TrimSpace(o.ClassName),
		})
	}
	return document.RoomDocument{
		RoomID:           yr.ID,
		CurrentVersionID: yr.VersionID,
		AtomicDoc: document.AtomicDoc{
			ComponentID: yr.Atomic.ComponentID,
			ClassName:   strings.TrimSpace(yr.Atomic.ClassName),
		},
		PageDoc: document.PageDoc{PageID: yr.Page.ID, Overrides: overrides},
	}
}
