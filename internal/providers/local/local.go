// ABOUTME: Local image sources for development and one-shot evaluation.
// ABOUTME: Reads container image lists from the command line or from JSON files without cloud API dependencies.

package local

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/jfeddern/VulnAgent/internal/types"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

// LocalProvider implements ImageSource for local file-based image discovery
type LocalProvider struct {
	imageListFile string
	logger        *logrus.Logger
}

// NewLocalProvider creates a new local file-based provider
func NewLocalProvider(imageListFile string, logger *logrus.Logger) *LocalProvider {
	return &LocalProvider{
		imageListFile: imageListFile,
		logger:        logger,
	}
}

// Name returns the provider name
func (l *LocalProvider) Name() string {
	return "local"
}

// IsRegistryImage checks if the image matches any registry pattern
// For local mode, we accept any image URI format
func (l *LocalProvider) IsRegistryImage(imageURI string) bool {
	return strings.TrimSpace(imageURI) != ""
}

// DiscoverImages reads container images from a JSON file
func (l *LocalProvider) DiscoverImages(ctx context.Context) ([]types.ImageInfo, error) {
	logger := l.logger.WithField("operation", "discover_images_local")

	// Read the image list file
	data, err := os.ReadFile(l.imageListFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read image list file '%s': %w", l.imageListFile, err)
	}

	var imageURIs []string
	if err := json.Unmarshal(data, &imageURIs); err != nil {
		return nil, fmt.Errorf("failed to parse image list JSON: %w", err)
	}

	logger.WithField("image_count", len(imageURIs)).Info("Read image list from file")

	images := toImageInfos(lo.Filter(imageURIs, func(uri string, _ int) bool {
		return l.IsRegistryImage(uri)
	}), "Local")

	logger.WithField("valid_images", len(images)).Info("Local image discovery completed")
	return images, nil
}

// StaticProvider implements ImageSource for images named on the command line
type StaticProvider struct {
	images []string
	logger *logrus.Logger
}

// NewStaticProvider creates a provider returning a fixed list of images
func NewStaticProvider(images []string, logger *logrus.Logger) *StaticProvider {
	return &StaticProvider{
		images: images,
		logger: logger,
	}
}

// Name returns the provider name
func (s *StaticProvider) Name() string {
	return "static"
}

// DiscoverImages returns the configured images, blank entries dropped
func (s *StaticProvider) DiscoverImages(ctx context.Context) ([]types.ImageInfo, error) {
	uris := lo.Uniq(lo.FilterMap(s.images, func(uri string, _ int) (string, bool) {
		uri = strings.TrimSpace(uri)
		return uri, uri != ""
	}))
	if len(uris) == 0 {
		return nil, fmt.Errorf("no images configured")
	}

	s.logger.WithField("image_count", len(uris)).Debug("Using configured image list")
	return toImageInfos(uris, "Static"), nil
}

func toImageInfos(uris []string, workloadType string) []types.ImageInfo {
	return lo.Map(uris, func(uri string, _ int) types.ImageInfo {
		return types.ImageInfo{
			URI:          strings.TrimSpace(uri),
			Namespace:    "local",
			Workload:     "local",
			WorkloadType: workloadType,
		}
	})
}
