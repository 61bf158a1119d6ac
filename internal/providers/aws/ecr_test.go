// ABOUTME: Tests for the AWS ECR image source.
// ABOUTME: Tests repository and image pagination, tag handling and API error propagation with a fake ECR client.

package aws

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	ecrtypes "github.com/aws/aws-sdk-go-v2/service/ecr/types"
	"github.com/jfeddern/VulnAgent/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeECR serves repositories and images one page per entry
type fakeECR struct {
	repositories []string
	images       map[string][][]string // repository -> images -> tags
	reposErr     error
	imagesErr    error

	requestedRepositories []string
}

func (f *fakeECR) DescribeRepositories(ctx context.Context, params *ecr.DescribeRepositoriesInput, optFns ...func(*ecr.Options)) (*ecr.DescribeRepositoriesOutput, error) {
	if f.reposErr != nil {
		return nil, f.reposErr
	}
	f.requestedRepositories = params.RepositoryNames

	names := f.repositories
	if len(params.RepositoryNames) > 0 {
		names = params.RepositoryNames
	}

	index := pageIndex(params.NextToken)
	if index >= len(names) {
		return &ecr.DescribeRepositoriesOutput{}, nil
	}

	out := &ecr.DescribeRepositoriesOutput{
		Repositories: []ecrtypes.Repository{{RepositoryName: aws.String(names[index])}},
	}
	if index+1 < len(names) {
		out.NextToken = aws.String(pageToken(index + 1))
	}
	return out, nil
}

func (f *fakeECR) DescribeImages(ctx context.Context, params *ecr.DescribeImagesInput, optFns ...func(*ecr.Options)) (*ecr.DescribeImagesOutput, error) {
	if f.imagesErr != nil {
		return nil, f.imagesErr
	}

	images := f.images[aws.ToString(params.RepositoryName)]
	index := pageIndex(params.NextToken)
	if index >= len(images) {
		return &ecr.DescribeImagesOutput{}, nil
	}

	out := &ecr.DescribeImagesOutput{
		ImageDetails: []ecrtypes.ImageDetail{{ImageTags: images[index]}},
	}
	if index+1 < len(images) {
		out.NextToken = aws.String(pageToken(index + 1))
	}
	return out, nil
}

func pageToken(i int) string {
	return string(rune('a' + i))
}

func pageIndex(token *string) int {
	if token == nil {
		return 0
	}
	return int([]rune(*token)[0] - 'a')
}

func TestECRProviderName(t *testing.T) {
	provider := NewECRProviderWithClient(&fakeECR{}, "123456789012", "us-east-1", nil, testLogger())

	assert.Equal(t, "aws-ecr", provider.Name())
	assert.Equal(t, testRegistry, provider.RegistryHost())
}

func TestECRProviderDiscoverImages(t *testing.T) {
	client := &fakeECR{
		repositories: []string{"web-app", "team/api"},
		images: map[string][][]string{
			"web-app":  {{"v1.0.0"}, {"v1.1.0", "latest"}, {}},
			"team/api": {{"2024-01-01"}},
		},
	}
	provider := NewECRProviderWithClient(client, "123456789012", "us-east-1", nil, testLogger())

	images, err := provider.DiscoverImages(context.Background())
	require.NoError(t, err)
	require.Len(t, images, 3)

	assert.Equal(t, testRegistry+"/web-app:v1.0.0", images[0].URI)
	assert.Equal(t, testRegistry+"/web-app:latest", images[1].URI)
	assert.Equal(t, testRegistry+"/team/api:2024-01-01", images[2].URI)

	for _, img := range images {
		assert.Equal(t, "123456789012", img.Namespace)
		assert.Equal(t, "Repository", img.WorkloadType)
		ref, err := types.ParseImageReference(img.URI)
		require.NoError(t, err)
		assert.Equal(t, provider.RegistryHost(), ref.Registry, img.URI)
	}
	assert.Equal(t, "team/api", images[2].Workload)
}

func TestECRProviderConfiguredRepositories(t *testing.T) {
	client := &fakeECR{
		repositories: []string{"web-app", "team/api"},
		images: map[string][][]string{
			"web-app":  {{"v1.0.0"}},
			"team/api": {{"v2"}},
		},
	}
	provider := NewECRProviderWithClient(client, "123456789012", "us-east-1", []string{"team/api"}, testLogger())

	images, err := provider.DiscoverImages(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"team/api"}, client.requestedRepositories)
	require.Len(t, images, 1)
	assert.Equal(t, testRegistry+"/team/api:v2", images[0].URI)
}

func TestECRProviderErrors(t *testing.T) {
	tests := []struct {
		name   string
		client *fakeECR
		expect string
	}{
		{
			name:   "repository listing fails",
			client: &fakeECR{reposErr: errors.New("AccessDeniedException")},
			expect: "failed to describe repositories",
		},
		{
			name: "image listing fails",
			client: &fakeECR{
				repositories: []string{"web-app"},
				imagesErr:    errors.New("RepositoryNotFoundException"),
			},
			expect: "failed to describe images in web-app",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := NewECRProviderWithClient(tt.client, "123456789012", "us-east-1", nil, testLogger())

			images, err := provider.DiscoverImages(context.Background())

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.expect)
			assert.Nil(t, images)
		})
	}
}
