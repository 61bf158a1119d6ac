// ABOUTME: Provider interfaces beyond the engine's image source, extractor and oracle contracts.
// ABOUTME: Defines the container resolution capability the factory uses for -container.

package providers

import (
	"context"

	"github.com/jfeddern/VulnAgent/internal/providers/docker"
)

// ContainerResolver maps a running container id or name to its image
type ContainerResolver interface {
	ResolveContainerImage(ctx context.Context, container string) (string, error)
}

var _ ContainerResolver = (*docker.Provider)(nil)
