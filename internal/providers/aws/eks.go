// ABOUTME: Kubernetes cluster image source for EKS and other conformant clusters.
// ABOUTME: Discovers container images from Deployments, StatefulSets and DaemonSets using the Kubernetes API.

package aws

import (
	"context"
	"fmt"
	"strings"

	"github.com/jfeddern/VulnAgent/internal/types"
	"github.com/sirupsen/logrus"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// EKSProvider implements ImageSource for Kubernetes workloads
type EKSProvider struct {
	clientset kubernetes.Interface
	registry  string // only images from this registry host when set
	logger    *logrus.Logger
}

// NewEKSProvider creates a new cluster image source
func NewEKSProvider(registry string, logger *logrus.Logger) (*EKSProvider, error) {
	var config *rest.Config
	var err error

	// Try in-cluster config first (for pod deployment)
	config, err = rest.InClusterConfig()
	if err != nil {
		// Fallback to kubeconfig (for local development)
		logger.Info("In-cluster config not available, trying kubeconfig")
		config, err = clientcmd.BuildConfigFromFlags("", clientcmd.RecommendedHomeFile)
		if err != nil {
			return nil, fmt.Errorf("failed to build kubernetes config: %w", err)
		}
	}

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes clientset: %w", err)
	}

	logger.Info("Successfully connected to Kubernetes cluster")
	return NewEKSProviderWithClient(clientset, registry, logger), nil
}

// NewEKSProviderWithClient creates a cluster image source over an existing clientset
func NewEKSProviderWithClient(clientset kubernetes.Interface, registry string, logger *logrus.Logger) *EKSProvider {
	return &EKSProvider{
		clientset: clientset,
		registry:  strings.TrimSpace(registry),
		logger:    logger,
	}
}

// Name returns the provider name
func (e *EKSProvider) Name() string {
	return "aws-eks"
}

// IsRegistryImage checks if the image should be evaluated, every parseable image when no registry is set
func (e *EKSProvider) IsRegistryImage(imageURI string) bool {
	ref, err := types.ParseImageReference(imageURI)
	if err != nil {
		return false
	}
	return e.registry == "" || ref.Registry == e.registry
}

// DiscoverImages discovers container images from cluster workloads
func (e *EKSProvider) DiscoverImages(ctx context.Context) ([]types.ImageInfo, error) {
	logger := e.logger.WithField("operation", "discover_images")

	var images []types.ImageInfo

	// Discover images from Deployments
	deploymentImages, err := e.discoverFromDeployments(ctx)
	if err != nil {
		logger.WithError(err).Error("Failed to discover images from deployments")
		return nil, err
	}
	images = append(images, deploymentImages...)

	// Discover images from StatefulSets
	statefulSetImages, err := e.discoverFromStatefulSets(ctx)
	if err != nil {
		logger.WithError(err).Error("Failed to discover images from statefulsets")
		return nil, err
	}
	images = append(images, statefulSetImages...)

	// Discover images from DaemonSets
	daemonSetImages, err := e.discoverFromDaemonSets(ctx)
	if err != nil {
		logger.WithError(err).Error("Failed to discover images from daemonsets")
		return nil, err
	}
	images = append(images, daemonSetImages...)

	logger.WithField("image_count", len(images)).Info("Image discovery completed")
	return images, nil
}

func (e *EKSProvider) discoverFromDeployments(ctx context.Context) ([]types.ImageInfo, error) {
	logger := e.logger.WithField("resource_type", "deployments")

	deployments, err := e.clientset.AppsV1().Deployments("").List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list deployments: %w", err)
	}

	logger.WithField("deployment_count", len(deployments.Items)).Info("Processing deployments")

	var images []types.ImageInfo
	for _, deployment := range deployments.Items {
		images = append(images, e.extractImagesFromPodSpec(
			deployment.Spec.Template.Spec,
			deployment.Namespace,
			deployment.Name,
			"Deployment",
		)...)
	}

	return images, nil
}

func (e *EKSProvider) discoverFromStatefulSets(ctx context.Context) ([]types.ImageInfo, error) {
	logger := e.logger.WithField("resource_type", "statefulsets")

	statefulSets, err := e.clientset.AppsV1().StatefulSets("").List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list statefulsets: %w", err)
	}

	logger.WithField("statefulset_count", len(statefulSets.Items)).Info("Processing statefulsets")

	var images []types.ImageInfo
	for _, statefulSet := range statefulSets.Items {
		images = append(images, e.extractImagesFromPodSpec(
			statefulSet.Spec.Template.Spec,
			statefulSet.Namespace,
			statefulSet.Name,
			"StatefulSet",
		)...)
	}

	return images, nil
}

func (e *EKSProvider) discoverFromDaemonSets(ctx context.Context) ([]types.ImageInfo, error) {
	logger := e.logger.WithField("resource_type", "daemonsets")

	daemonSets, err := e.clientset.AppsV1().DaemonSets("").List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list daemonsets: %w", err)
	}

	logger.WithField("daemonset_count", len(daemonSets.Items)).Info("Processing daemonsets")

	var images []types.ImageInfo
	for _, daemonSet := range daemonSets.Items {
		images = append(images, e.extractImagesFromPodSpec(
			daemonSet.Spec.Template.Spec,
			daemonSet.Namespace,
			daemonSet.Name,
			"DaemonSet",
		)...)
	}

	return images, nil
}

func (e *EKSProvider) extractImagesFromPodSpec(podSpec corev1.PodSpec, namespace, workload, workloadType string) []types.ImageInfo {
	var uris []string
	for _, container := range podSpec.InitContainers {
		uris = append(uris, container.Image)
	}
	for _, container := range podSpec.Containers {
		uris = append(uris, container.Image)
	}
	for _, container := range podSpec.EphemeralContainers {
		uris = append(uris, container.Image)
	}

	var images []types.ImageInfo
	for _, uri := range uris {
		if !e.IsRegistryImage(uri) {
			e.logger.WithFields(logrus.Fields{
				"image":     uri,
				"workload":  workload,
				"namespace": namespace,
			}).Debug("Skipping image outside the configured registry")
			continue
		}
		images = append(images, types.ImageInfo{
			URI:          uri,
			Namespace:    namespace,
			Workload:     workload,
			WorkloadType: workloadType,
		})
	}

	return images
}
