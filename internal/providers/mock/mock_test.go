// ABOUTME: Unit tests for the mock image source, inventory extractor and oracle.
// ABOUTME: Validates mock data generation and provider interface compliance.

package mock

import (
	"context"
	"testing"
	"time"

	"github.com/jfeddern/VulnAgent/internal/types"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockImageSource_DiscoverImages(t *testing.T) {
	source := NewMockImageSource(logrus.New())
	assert.Equal(t, "mock-images", source.Name())

	images, err := source.DiscoverImages(context.Background())
	require.NoError(t, err)
	assert.Len(t, images, 6)

	workloadTypes := make(map[string]bool)
	for _, image := range images {
		assert.NotEmpty(t, image.URI)
		assert.NotEmpty(t, image.Namespace)
		assert.NotEmpty(t, image.Workload)

		_, err := types.ParseImageReference(image.URI)
		assert.NoError(t, err, image.URI)
		workloadTypes[image.WorkloadType] = true
	}
	assert.True(t, workloadTypes["Deployment"])
	assert.True(t, workloadTypes["StatefulSet"])
	assert.True(t, workloadTypes["DaemonSet"])
}

func TestMockInventoryExtractor_Profiles(t *testing.T) {
	extractor := NewMockInventoryExtractor(logrus.New())
	ctx := context.Background()
	assert.Equal(t, "mock-inventory", extractor.Name())

	tests := []struct {
		name         string
		image        string
		expectOS     string
		expectDeps   int
		expectDepErr bool
	}{
		{name: "web image", image: "123456789012.dkr.ecr.us-east-1.amazonaws.com/web-frontend:v1.2.3", expectOS: "openssl", expectDeps: 3},
		{name: "database image", image: "123456789012.dkr.ecr.us-east-1.amazonaws.com/postgres-db:14.9", expectOS: "xz-utils", expectDeps: 0},
		{name: "api image", image: "123456789012.dkr.ecr.us-east-1.amazonaws.com/api-backend:v2.1.0", expectOS: "bash", expectDeps: 3},
		{name: "legacy image", image: "123456789012.dkr.ecr.us-east-1.amazonaws.com/legacy-app:v1.0.0", expectOS: "openssh-server", expectDepErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			packages, err := extractor.OSPackages(ctx, tt.image)
			require.NoError(t, err)

			products := make([]string, 0, len(packages))
			for _, p := range packages {
				assert.Equal(t, "os", p.Category)
				products = append(products, p.Product)
			}
			assert.Contains(t, products, tt.expectOS)

			deps, err := extractor.Dependencies(ctx, tt.image)
			if tt.expectDepErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, deps, tt.expectDeps)
			for _, d := range deps {
				assert.True(t, types.ParseCategory(d.Category).IsDependency(), d.Category)
			}
		})
	}
}

func TestMockInventoryExtractor_InvalidImage(t *testing.T) {
	extractor := NewMockInventoryExtractor(logrus.New())

	_, err := extractor.OSPackages(context.Background(), "Invalid Image!")

	assert.Error(t, err)
}

func TestMockOracle_Lookup(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	mockOracle := NewMockOracle(logger)
	ctx := context.Background()
	assert.Equal(t, "mock-oracle", mockOracle.Name())

	outcome := mockOracle.Lookup(ctx, "openssl", "1.0.1")
	require.True(t, outcome.IsVulnerable())
	require.Len(t, outcome.Records, 3)
	assert.Equal(t, "CVE-2014-0160", outcome.Records[0].ID)
	assert.Equal(t, types.KindBID, outcome.Records[1].Kind)
	assert.Equal(t, types.KindExploit, outcome.Records[2].Kind)

	// Product normalization applies to the canned table
	outcome = mockOracle.Lookup(ctx, "log4j_core", "2.14.1")
	assert.True(t, outcome.IsVulnerable())

	outcome = mockOracle.Lookup(ctx, "coreutils", "8.30")
	assert.Equal(t, types.OutcomeClean, outcome.Status)

	outcome = mockOracle.Lookup(ctx, "openssl", "3.0.13")
	assert.Equal(t, types.OutcomeClean, outcome.Status)
}

func TestMockOracle_Cancelled(t *testing.T) {
	mockOracle := NewMockOracle(logrus.New())
	mockOracle.latency = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome := mockOracle.Lookup(ctx, "openssl", "1.0.1")

	assert.True(t, outcome.IsFailed())
	assert.Equal(t, types.ReasonTimeout, outcome.Reason)
}
