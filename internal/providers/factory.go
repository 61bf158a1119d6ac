// ABOUTME: Factory for creating image sources, inventory extractors and oracles.
// ABOUTME: Centralizes provider instantiation and configuration logic.

package providers

import (
	"context"
	"fmt"
	"time"

	"github.com/jfeddern/VulnAgent/internal/engine"
	"github.com/jfeddern/VulnAgent/internal/oracle"
	"github.com/jfeddern/VulnAgent/internal/providers/aws"
	"github.com/jfeddern/VulnAgent/internal/providers/docker"
	"github.com/jfeddern/VulnAgent/internal/providers/local"
	"github.com/jfeddern/VulnAgent/internal/providers/mock"
	"github.com/sirupsen/logrus"
)

// ProviderConfig holds configuration for creating providers
type ProviderConfig struct {
	ImageSource     string
	Images          []string
	ImageListFile   string
	Container       string
	Registry        string
	InventoryDir    string
	OracleHost      string
	OraclePort      int
	OracleTimeout   time.Duration
	ECRAccountID    string
	ECRRegion       string
	ECRRepositories []string
	MockMode        bool // Enable mock providers for local testing
}

// NewProviderConfig derives the provider configuration from the engine configuration
func NewProviderConfig(config *engine.Config) *ProviderConfig {
	return &ProviderConfig{
		ImageSource:     config.ImageSource,
		Images:          config.Images,
		ImageListFile:   config.ImageListFile,
		Container:       config.Container,
		Registry:        config.Registry,
		InventoryDir:    config.InventoryDir,
		OracleHost:      config.OracleHost,
		OraclePort:      config.OraclePort,
		OracleTimeout:   config.OracleTimeout,
		ECRAccountID:    config.ECRAccountID,
		ECRRegion:       config.ECRRegion,
		ECRRepositories: config.ECRRepositories,
		MockMode:        config.MockMode,
	}
}

// CreateImageSource creates an image source based on configuration
func CreateImageSource(ctx context.Context, config *ProviderConfig, logger *logrus.Logger) (engine.ImageSource, error) {
	// A container to evaluate takes precedence over the configured source
	if config.Container != "" {
		return resolveContainer(ctx, docker.NewProvider(logger), config.Container, logger)
	}

	// Check for mock mode first
	if config.MockMode {
		logger.Info("Using mock image source for testing")
		return mock.NewMockImageSource(logger), nil
	}

	switch config.ImageSource {
	case "static":
		return local.NewStaticProvider(config.Images, logger), nil
	case "file":
		return local.NewLocalProvider(config.ImageListFile, logger), nil
	case "cluster":
		return aws.NewEKSProvider(config.Registry, logger)
	case "ecr":
		if config.ECRAccountID == "" || config.ECRRegion == "" {
			return nil, fmt.Errorf("ecr image source requires an account id and region")
		}
		return aws.NewECRProvider(ctx, config.ECRAccountID, config.ECRRegion, config.ECRRepositories, logger)
	case "docker":
		return docker.NewProvider(logger), nil
	default:
		return nil, fmt.Errorf("unsupported image source: %s", config.ImageSource)
	}
}

// resolveContainer turns a running container into a single-image source
func resolveContainer(ctx context.Context, resolver ContainerResolver, container string, logger *logrus.Logger) (engine.ImageSource, error) {
	image, err := resolver.ResolveContainerImage(ctx, container)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve container %s: %w", container, err)
	}

	logger.WithFields(logrus.Fields{
		"container": container,
		"image":     image,
	}).Info("Evaluating image of running container")
	return local.NewStaticProvider([]string{image}, logger), nil
}

// CreateInventoryExtractor creates an inventory extractor based on configuration
func CreateInventoryExtractor(config *ProviderConfig, logger *logrus.Logger) (engine.InventoryExtractor, error) {
	if config.MockMode {
		logger.Info("Using mock inventory extractor for testing")
		return mock.NewMockInventoryExtractor(logger), nil
	}

	if config.InventoryDir == "" {
		return nil, fmt.Errorf("no inventory directory configured")
	}
	return local.NewInventoryProvider(config.InventoryDir, logger), nil
}

// CreateOracle creates the vulnerability oracle client based on configuration
func CreateOracle(config *ProviderConfig, logger *logrus.Logger) (engine.Oracle, error) {
	if config.MockMode {
		logger.Info("Using mock vulnerability oracle for testing")
		return mock.NewMockOracle(logger), nil
	}

	return oracle.NewClient(oracle.Config{
		Host:    config.OracleHost,
		Port:    config.OraclePort,
		Timeout: config.OracleTimeout,
	}, logger)
}
