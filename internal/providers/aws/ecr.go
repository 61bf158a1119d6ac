// ABOUTME: AWS ECR image source listing tagged images from registry repositories.
// ABOUTME: Handles authentication, cross-account role assumption and paginated repository and image listing.

package aws

import (
	"context"
	"fmt"
	"os"
	"slices"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	ecrtypes "github.com/aws/aws-sdk-go-v2/service/ecr/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/jfeddern/VulnAgent/internal/types"
	"github.com/sirupsen/logrus"
)

// ecrAPI is the subset of the ECR client used for image discovery
type ecrAPI interface {
	ecr.DescribeRepositoriesAPIClient
	ecr.DescribeImagesAPIClient
}

// ECRProvider implements ImageSource for Amazon ECR repositories
type ECRProvider struct {
	client       ecrAPI
	accountID    string
	region       string
	repositories []string // all repositories of the registry when empty
	logger       *logrus.Logger
}

// NewECRProvider creates a new ECR image source
func NewECRProvider(ctx context.Context, accountID, region string, repositories []string, logger *logrus.Logger) (*ECRProvider, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// Check if we need to assume a role based on AWS_IAM_ASSUME_ROLE_ARN environment variable
	if assumeRoleARN := os.Getenv("AWS_IAM_ASSUME_ROLE_ARN"); assumeRoleARN != "" {
		logger.WithField("role_arn", assumeRoleARN).Info("Assuming role from AWS_IAM_ASSUME_ROLE_ARN environment variable")

		stsClient := sts.NewFromConfig(cfg.Copy())
		cfg.Credentials = aws.NewCredentialsCache(stscreds.NewAssumeRoleProvider(stsClient, assumeRoleARN))
	} else {
		// Fallback: Check caller identity and assume role if in different account
		stsClient := sts.NewFromConfig(cfg.Copy())

		identity, err := stsClient.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
		if err != nil {
			logger.WithError(err).Warn("Could not get caller identity, proceeding with default credentials")
		} else {
			currentAccountID := aws.ToString(identity.Account)
			logger.WithFields(logrus.Fields{
				"current_account": currentAccountID,
				"target_account":  accountID,
			}).Info("AWS identity information")

			if currentAccountID != accountID {
				roleARN := fmt.Sprintf("arn:aws:iam::%s:role/VulnAgentRegistryReadRole", accountID)
				logger.WithField("role_arn", roleARN).Info("Assuming cross-account role")
				cfg.Credentials = aws.NewCredentialsCache(stscreds.NewAssumeRoleProvider(stsClient, roleARN))
			}
		}
	}

	return NewECRProviderWithClient(ecr.NewFromConfig(cfg), accountID, region, repositories, logger), nil
}

// NewECRProviderWithClient creates an ECR image source over an existing client
func NewECRProviderWithClient(client ecrAPI, accountID, region string, repositories []string, logger *logrus.Logger) *ECRProvider {
	return &ECRProvider{
		client:       client,
		accountID:    accountID,
		region:       region,
		repositories: repositories,
		logger:       logger,
	}
}

// Name returns the provider name
func (e *ECRProvider) Name() string {
	return "aws-ecr"
}

// RegistryHost returns the ECR registry host name
func (e *ECRProvider) RegistryHost() string {
	return fmt.Sprintf("%s.dkr.ecr.%s.amazonaws.com", e.accountID, e.region)
}

// DiscoverImages lists every tagged image in the configured repositories
func (e *ECRProvider) DiscoverImages(ctx context.Context) ([]types.ImageInfo, error) {
	logger := e.logger.WithFields(logrus.Fields{
		"operation": "discover_images",
		"registry":  e.RegistryHost(),
	})

	repositories, err := e.listRepositories(ctx)
	if err != nil {
		logger.WithError(err).Error("Failed to list repositories")
		return nil, err
	}

	logger.WithField("repository_count", len(repositories)).Info("Processing repositories")

	var images []types.ImageInfo
	for _, repo := range repositories {
		repoImages, err := e.listImages(ctx, repo)
		if err != nil {
			logger.WithError(err).WithField("repository", repo).Error("Failed to list images")
			return nil, err
		}
		images = append(images, repoImages...)
	}

	logger.WithField("image_count", len(images)).Info("Image discovery completed")
	return images, nil
}

func (e *ECRProvider) listRepositories(ctx context.Context) ([]string, error) {
	input := &ecr.DescribeRepositoriesInput{RegistryId: aws.String(e.accountID)}
	if len(e.repositories) > 0 {
		input.RepositoryNames = e.repositories
	}

	var names []string
	paginator := ecr.NewDescribeRepositoriesPaginator(e.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to describe repositories: %w", err)
		}
		for _, repo := range page.Repositories {
			names = append(names, aws.ToString(repo.RepositoryName))
		}
	}

	return names, nil
}

func (e *ECRProvider) listImages(ctx context.Context, repository string) ([]types.ImageInfo, error) {
	input := &ecr.DescribeImagesInput{
		RegistryId:     aws.String(e.accountID),
		RepositoryName: aws.String(repository),
		Filter:         &ecrtypes.DescribeImagesFilter{TagStatus: ecrtypes.TagStatusTagged},
	}

	var images []types.ImageInfo
	paginator := ecr.NewDescribeImagesPaginator(e.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to describe images in %s: %w", repository, err)
		}
		for _, detail := range page.ImageDetails {
			if len(detail.ImageTags) == 0 {
				continue
			}
			// One evaluation per image, named by its lowest tag
			tags := slices.Clone(detail.ImageTags)
			slices.Sort(tags)
			images = append(images, types.ImageInfo{
				URI:          fmt.Sprintf("%s/%s:%s", e.RegistryHost(), repository, tags[0]),
				Namespace:    e.accountID,
				Workload:     repository,
				WorkloadType: "Repository",
			})
		}
	}

	return images, nil
}
