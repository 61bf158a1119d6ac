// ABOUTME: Mock image source for local testing and development.
// ABOUTME: Provides realistic cluster image discovery without requiring cluster or registry access.

package mock

import (
	"context"

	"github.com/jfeddern/VulnAgent/internal/types"
	"github.com/sirupsen/logrus"
)

// MockImageSource implements ImageSource with mock data
type MockImageSource struct {
	logger *logrus.Logger
}

// NewMockImageSource creates a new mock image source
func NewMockImageSource(logger *logrus.Logger) *MockImageSource {
	return &MockImageSource{
		logger: logger,
	}
}

// Name returns the name of this image source
func (m *MockImageSource) Name() string {
	return "mock-images"
}

// DiscoverImages returns mock image data simulating a Kubernetes cluster
func (m *MockImageSource) DiscoverImages(ctx context.Context) ([]types.ImageInfo, error) {
	m.logger.Info("Discovering mock images from simulated cluster")

	// Mock images representing various workloads in a typical cluster
	images := []types.ImageInfo{
		{
			URI:          "123456789012.dkr.ecr.us-east-1.amazonaws.com/web-frontend:v1.2.3",
			Namespace:    "production",
			Workload:     "web-frontend",
			WorkloadType: "Deployment",
		},
		{
			URI:          "123456789012.dkr.ecr.us-east-1.amazonaws.com/api-backend:v2.1.0",
			Namespace:    "production",
			Workload:     "api-backend",
			WorkloadType: "Deployment",
		},
		{
			URI:          "123456789012.dkr.ecr.us-east-1.amazonaws.com/postgres-db:14.9",
			Namespace:    "production",
			Workload:     "postgres-db",
			WorkloadType: "StatefulSet",
		},
		{
			URI:          "123456789012.dkr.ecr.us-east-1.amazonaws.com/node-frontend:staging",
			Namespace:    "staging",
			Workload:     "node-frontend",
			WorkloadType: "Deployment",
		},
		{
			URI:          "123456789012.dkr.ecr.us-east-1.amazonaws.com/log-shipper:2.0.1",
			Namespace:    "monitoring",
			Workload:     "log-shipper",
			WorkloadType: "DaemonSet",
		},
		{
			URI:          "123456789012.dkr.ecr.us-east-1.amazonaws.com/legacy-app:v1.0.0",
			Namespace:    "legacy",
			Workload:     "legacy-app",
			WorkloadType: "Deployment",
		},
	}

	m.logger.WithField("image_count", len(images)).Info("Mock image discovery completed")
	return images, nil
}
