package vectordb

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"persona-rag/internal/helper"
)

const ManifestFile = "manifest.yaml"

// ErrInvalidManifest marks a manifest that exists but cannot describe a
// complete build
var ErrInvalidManifest = errors.New("invalid manifest")

// Manifest describes a completed index build. It is written last, so its
// presence marks the build as complete.
type Manifest struct {
	Persona      string    `yaml:"persona"`
	BuildID      string    `yaml:"build_id"`
	Source       string    `yaml:"source"`
	Embedder     string    `yaml:"embedder"`
	Dimension    int       `yaml:"dimension"`
	Chunks       int       `yaml:"chunks"`
	ChunkSize    int       `yaml:"chunk_size"`
	ChunkOverlap int       `yaml:"chunk_overlap"`
	// Compress records the on-disk encoding the index was written with
	Compress bool      `yaml:"compress"`
	BuiltAt  time.Time `yaml:"built_at"`
}

// NewManifest fills in the build id and time
func NewManifest(persona, source, embedder string, chunkSize, chunkOverlap int) (Manifest, error) {
	id, err := helper.GenerateUUID()
	if err != nil {
		return Manifest{}, err
	}
	return Manifest{
		Persona:      persona,
		BuildID:      id,
		Source:       source,
		Embedder:     embedder,
		ChunkSize:    chunkSize,
		ChunkOverlap: chunkOverlap,
		BuiltAt:      time.Now().UTC(),
	}, nil
}

func WriteManifest(dir string, m Manifest) error {
	return WriteManifestFile(filepath.Join(dir, ManifestFile), m)
}

// ReadManifest returns os.ErrNotExist when dir holds no manifest and
// ErrInvalidManifest when it cannot be decoded
func ReadManifest(dir string) (*Manifest, error) {
	return ReadManifestFile(filepath.Join(dir, ManifestFile))
}

func WriteManifestFile(path string, m Manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func ReadManifestFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	if m.Chunks <= 0 {
		return nil, fmt.Errorf("%w: no chunks recorded", ErrInvalidManifest)
	}
	return &m, nil
}
