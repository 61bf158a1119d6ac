// ABOUTME: File-based inventory extractor reading per-image manifests written by an external analyzer.
// ABOUTME: Maps image references to manifest files and converts their records to raw inventory items.

package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jfeddern/VulnAgent/internal/inventory"
	"github.com/jfeddern/VulnAgent/internal/types"
	"github.com/sirupsen/logrus"
)

// ErrManifestNotFound is returned when no manifest exists for an image
var ErrManifestNotFound = errors.New("inventory manifest not found")

// Manifest is the on-disk inventory of one image
type Manifest struct {
	Image           string          `json:"image,omitempty"`
	OSPackages      []types.RawItem `json:"os_packages"`
	Dependencies    []types.RawItem `json:"dependencies,omitempty"`
	RawDependencies []string        `json:"raw_dependencies,omitempty"` // "lang#product#version"
	DependencyError string          `json:"dependency_error,omitempty"`
}

// InventoryProvider implements InventoryExtractor over a directory of manifests
type InventoryProvider struct {
	dir    string
	logger *logrus.Logger
}

// NewInventoryProvider creates an extractor reading manifests from dir
func NewInventoryProvider(dir string, logger *logrus.Logger) *InventoryProvider {
	return &InventoryProvider{
		dir:    dir,
		logger: logger,
	}
}

// Name returns the extractor name
func (p *InventoryProvider) Name() string {
	return "inventory-files"
}

// OSPackages returns the OS packages recorded for image
func (p *InventoryProvider) OSPackages(ctx context.Context, image string) ([]types.RawItem, error) {
	manifest, err := p.load(image)
	if err != nil {
		return nil, err
	}
	return inventory.WithCategory(manifest.OSPackages, types.CategoryOS), nil
}

// Dependencies returns the language dependencies recorded for image.
// A recorded analyzer error is returned as an extraction failure.
func (p *InventoryProvider) Dependencies(ctx context.Context, image string) ([]types.RawItem, error) {
	manifest, err := p.load(image)
	if err != nil {
		return nil, err
	}
	if manifest.DependencyError != "" {
		return nil, errors.New(manifest.DependencyError)
	}

	items := append([]types.RawItem{}, manifest.Dependencies...)
	for _, raw := range manifest.RawDependencies {
		item, err := inventory.ParseDependency(raw)
		if err != nil {
			p.logger.WithError(err).WithField("image", image).Warn("Skipping malformed dependency string")
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

func (p *InventoryProvider) load(image string) (*Manifest, error) {
	logger := p.logger.WithFields(logrus.Fields{
		"operation": "load_manifest",
		"image":     image,
	})

	for _, path := range p.candidatePaths(image) {
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read inventory manifest '%s': %w", path, err)
		}

		var manifest Manifest
		if err := json.Unmarshal(data, &manifest); err != nil {
			return nil, fmt.Errorf("failed to parse inventory manifest '%s': %w", path, err)
		}

		logger.WithFields(logrus.Fields{
			"path":         path,
			"os_packages":  len(manifest.OSPackages),
			"dependencies": len(manifest.Dependencies) + len(manifest.RawDependencies),
		}).Debug("Loaded inventory manifest")
		return &manifest, nil
	}

	return nil, fmt.Errorf("%w for image %s in %s", ErrManifestNotFound, image, p.dir)
}

// candidatePaths lists manifest locations for image, most specific first
func (p *InventoryProvider) candidatePaths(image string) []string {
	names := []string{ManifestName(image)}
	if ref, err := types.ParseImageReference(image); err == nil {
		names = append(names,
			ManifestName(ref.Registry+"/"+ref.Repository+":"+ref.Identifier),
			ManifestName(ref.Repository+":"+ref.Identifier),
		)
	}

	var paths []string
	seen := make(map[string]bool)
	for _, n := range names {
		if !seen[n] {
			seen[n] = true
			paths = append(paths, filepath.Join(p.dir, n))
		}
	}
	return paths
}

var manifestNameReplacer = strings.NewReplacer("/", "_", ":", "_", "@", "_")

// ManifestName returns the file name holding the manifest of image
func ManifestName(image string) string {
	return manifestNameReplacer.Replace(strings.TrimSpace(image)) + ".json"
}
