// ABOUTME: Mock inventory extractor for local testing and development.
// ABOUTME: Returns canned OS packages and language dependencies chosen by image repository name.

package mock

import (
	"context"
	"errors"
	"strings"

	"github.com/jfeddern/VulnAgent/internal/types"
	"github.com/sirupsen/logrus"
)

// MockInventoryExtractor implements InventoryExtractor with mock data
type MockInventoryExtractor struct {
	logger *logrus.Logger
}

// NewMockInventoryExtractor creates a new mock inventory extractor
func NewMockInventoryExtractor(logger *logrus.Logger) *MockInventoryExtractor {
	return &MockInventoryExtractor{
		logger: logger,
	}
}

// Name returns the name of this extractor
func (m *MockInventoryExtractor) Name() string {
	return "mock-inventory"
}

// OSPackages returns mock OS packages for an image
func (m *MockInventoryExtractor) OSPackages(ctx context.Context, image string) ([]types.RawItem, error) {
	m.logger.WithField("image", image).Debug("Getting mock OS packages")

	repo, err := repositoryOf(image)
	if err != nil {
		return nil, err
	}

	// Every image shares a base layer
	packages := []types.RawItem{
		osPackage("bash", "5.0"),
		osPackage("coreutils", "8.30"),
		osPackage("libc6", "2.35-0ubuntu3.1"),
	}

	switch {
	case strings.Contains(repo, "nginx") || strings.Contains(repo, "web"):
		packages = append(packages, osPackage("nginx", "1.20.1"), osPackage("openssl", "1.0.1"))
	case strings.Contains(repo, "postgres") || strings.Contains(repo, "database"):
		packages = append(packages, osPackage("postgresql", "14.9"), osPackage("xz-utils", "5.4.1"))
	case strings.Contains(repo, "legacy"):
		packages = append(packages, osPackage("openssh-server", "8.9p1"), osPackage("openssl", "1.0.1"))
	}

	return packages, nil
}

// Dependencies returns mock language dependencies for an image
func (m *MockInventoryExtractor) Dependencies(ctx context.Context, image string) ([]types.RawItem, error) {
	m.logger.WithField("image", image).Debug("Getting mock dependencies")

	repo, err := repositoryOf(image)
	if err != nil {
		return nil, err
	}

	switch {
	case strings.Contains(repo, "python") || strings.Contains(repo, "api"):
		return []types.RawItem{
			dependency(types.CategoryPython, "requests", "2.19.0"),
			dependency(types.CategoryPython, "django", "3.2.4"),
			dependency(types.CategoryPython, "python-six", "1.16.0"),
		}, nil
	case strings.Contains(repo, "node") || strings.Contains(repo, "frontend"):
		return []types.RawItem{
			dependency(types.CategoryNodeJS, "lodash", "4.17.15"),
			dependency(types.CategoryNodeJS, "express", "4.17.1"),
			dependency(types.CategoryJS, "jquery", "3.4.1"),
		}, nil
	case strings.Contains(repo, "shipper"):
		return []types.RawItem{
			dependency(types.CategoryJava, "log4j-core", "2.14.1"),
			dependency(types.CategoryRuby, "fluentd", "1.16.2"),
		}, nil
	case strings.Contains(repo, "legacy"):
		return nil, errors.New("dependency analyzer does not support this image layout")
	}

	return nil, nil
}

func osPackage(product, version string) types.RawItem {
	return types.RawItem{Category: types.CategoryOS.String(), Product: product, Version: &version}
}

func dependency(category types.Category, product, version string) types.RawItem {
	return types.RawItem{Category: category.String(), Product: product, Version: &version}
}

func repositoryOf(image string) (string, error) {
	ref, err := types.ParseImageReference(image)
	if err != nil {
		return "", err
	}
	return ref.Repository, nil
}
