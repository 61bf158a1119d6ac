// ABOUTME: Docker engine image source discovering images of running containers.
// ABOUTME: Also resolves a container id or name to the image it was started from.

package docker

import (
	"context"
	"fmt"
	"strings"

	"github.com/jfeddern/VulnAgent/internal/types"
	"github.com/moby/moby/client"
	"github.com/sirupsen/logrus"
)

// Container is a running container as reported by the engine
type Container struct {
	ID    string
	Name  string
	Image string
}

// Lister returns the running containers matching filters
type Lister func(ctx context.Context, filters client.Filters) ([]Container, error)

// Provider implements ImageSource and ContainerResolver for a Docker engine
type Provider struct {
	list   Lister
	logger *logrus.Logger
}

// NewProvider creates a provider using the engine configured by the DOCKER_* environment
func NewProvider(logger *logrus.Logger) *Provider {
	return NewProviderWithLister(listRunning, logger)
}

// NewProviderWithLister creates a provider over a custom container lister
func NewProviderWithLister(list Lister, logger *logrus.Logger) *Provider {
	return &Provider{
		list:   list,
		logger: logger,
	}
}

// Name returns the provider name
func (p *Provider) Name() string {
	return "docker"
}

// DiscoverImages returns the images of all running containers
func (p *Provider) DiscoverImages(ctx context.Context) ([]types.ImageInfo, error) {
	logger := p.logger.WithField("operation", "discover_images")

	containers, err := p.list(ctx, client.Filters{
		"status": {"running": true},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	var images []types.ImageInfo
	for _, c := range containers {
		images = append(images, types.ImageInfo{
			URI:          c.Image,
			Namespace:    "docker",
			Workload:     c.Name,
			WorkloadType: "Container",
		})
	}

	logger.WithField("container_count", len(containers)).Info("Image discovery completed")
	return images, nil
}

// ResolveContainerImage returns the image of the running container with the given id or name
func (p *Provider) ResolveContainerImage(ctx context.Context, container string) (string, error) {
	logger := p.logger.WithFields(logrus.Fields{
		"operation": "resolve_container",
		"container": container,
	})

	containers, err := p.list(ctx, client.Filters{
		"status": {"running": true},
		"id":     {container: true},
	})
	if err != nil {
		return "", fmt.Errorf("failed to list containers: %w", err)
	}
	if len(containers) == 0 {
		// Fall back to matching by name
		containers, err = p.list(ctx, client.Filters{
			"status": {"running": true},
			"name":   {container: true},
		})
		if err != nil {
			return "", fmt.Errorf("failed to list containers: %w", err)
		}
	}

	switch len(containers) {
	case 0:
		return "", fmt.Errorf("no running container matches %q", container)
	case 1:
		logger.WithField("image", containers[0].Image).Info("Resolved container image")
		return containers[0].Image, nil
	default:
		return "", fmt.Errorf("%d running containers match %q", len(containers), container)
	}
}

func listRunning(ctx context.Context, filters client.Filters) ([]Container, error) {
	c, err := client.New(client.FromEnv)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	result, err := c.ContainerList(ctx, client.ContainerListOptions{
		Filters: filters,
	})
	if err != nil {
		return nil, err
	}

	containers := make([]Container, 0, len(result.Items))
	for i := range result.Items {
		item := result.Items[i]
		name := item.ID
		if len(item.Names) > 0 {
			name = strings.TrimPrefix(item.Names[0], "/")
		}
		containers = append(containers, Container{
			ID:    item.ID,
			Name:  name,
			Image: item.Image,
		})
	}

	return containers, nil
}
