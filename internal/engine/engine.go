// ABOUTME: Evaluation engine wiring inventory extraction, lookups and aggregation per image.
// ABOUTME: Also drives periodic evaluation of discovered images and keeps the latest reports.

package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jfeddern/VulnAgent/internal/inventory"
	"github.com/jfeddern/VulnAgent/internal/report"
	"github.com/jfeddern/VulnAgent/internal/types"
	"github.com/sirupsen/logrus"
)

// ImageSource abstracts where images to evaluate come from (static list, cluster, registry, docker)
type ImageSource interface {
	Name() string
	DiscoverImages(ctx context.Context) ([]types.ImageInfo, error)
}

// InventoryExtractor abstracts the collaborator that lists software installed in an image
type InventoryExtractor interface {
	Name() string
	OSPackages(ctx context.Context, image string) ([]types.RawItem, error)
	Dependencies(ctx context.Context, image string) ([]types.RawItem, error)
}

// Config holds configuration for the evaluation engine
type Config struct {
	Mode            string // "once" or "serve"
	ImageSource     string // "static", "file", "cluster", "ecr" or "docker"
	Images          []string
	ImageListFile   string
	Container       string
	Registry        string // cluster source registry filter
	InventoryDir    string
	OracleHost      string
	OraclePort      int
	OracleTimeout   time.Duration
	MaxConcurrency  int
	Port            int
	ScrapeInterval  time.Duration
	ECRAccountID    string
	ECRRegion       string
	ECRRepositories []string
	Output          string
	MockMode        bool // Enable mock providers for local testing
}

// Engine evaluates images through the lookup pipeline
type Engine struct {
	imageSource  ImageSource
	extractor    InventoryExtractor
	orchestrator *Orchestrator
	aggregator   *report.Aggregator
	config       *Config
	logger       *logrus.Logger

	// Latest reports with discovery metadata
	mutex              sync.RWMutex
	reportData         map[string]*types.ImageReportData
	lastCollectionTime time.Time
}

// NewEngine creates a new evaluation engine
func NewEngine(imageSource ImageSource, extractor InventoryExtractor, oracle Oracle, config *Config, logger *logrus.Logger) *Engine {
	return &Engine{
		imageSource:  imageSource,
		extractor:    extractor,
		orchestrator: NewOrchestrator(oracle, config.MaxConcurrency, logger),
		aggregator:   report.NewAggregator(),
		config:       config,
		logger:       logger,
		reportData:   make(map[string]*types.ImageReportData),
	}
}

// Evaluate builds the vulnerability report for one image. It never fails:
// extraction and lookup problems are recorded in the report.
func (e *Engine) Evaluate(ctx context.Context, image string) *types.Report {
	logger := e.logger.WithFields(logrus.Fields{
		"operation": "evaluate_image",
		"image":     image,
		"extractor": e.extractor.Name(),
	})
	startTime := time.Now()

	var issues []types.ReportIssue

	osPackages, err := e.extractor.OSPackages(ctx, image)
	if err != nil {
		logger.WithError(err).Error("Failed to extract OS packages")
		issues = append(issues, types.ReportIssue{
			Kind:    types.IssueExtractionFailed,
			Message: fmt.Sprintf("os package extraction failed: %v", err),
		})
		osPackages = nil
	}

	dependencies, err := e.extractor.Dependencies(ctx, image)
	if err != nil {
		logger.WithError(err).Error("Failed to extract dependencies")
		issues = append(issues, types.ReportIssue{
			Kind:    types.IssueExtractionFailed,
			Message: fmt.Sprintf("dependency extraction failed: %v", err),
		})
		dependencies = nil
	}

	raw := append(inventory.WithCategory(osPackages, types.CategoryOS), dependencies...)
	normalized := inventory.Normalize(raw)
	for _, rejected := range normalized.Rejected {
		logger.WithError(rejected).Warn("Rejected inventory record")
	}
	issues = append(issues, normalized.Issues()...)

	logger.WithFields(logrus.Fields{
		"raw_records": len(raw),
		"items":       normalized.Buckets.Len(),
		"rejected":    len(normalized.Rejected),
	}).Info("Normalized image inventory")

	outcomes := e.orchestrator.Run(ctx, normalized.Buckets)
	imageReport := e.aggregator.Aggregate(image, outcomes[types.CategoryOS], outcomes, issues...)

	logger.WithFields(logrus.Fields{
		"duration":       time.Since(startTime),
		"os_total":       imageReport.OSSummary.Total,
		"os_vulnerable":  imageReport.OSSummary.Vulnerable,
		"overall_status": imageReport.OverallStatus,
		"report_issues":  len(imageReport.Issues),
		"status_message": imageReport.StatusMessage,
	}).Info("Image evaluation completed")

	return imageReport
}

// Start evaluates discovered images now and then every scrape interval until ctx is done
func (e *Engine) Start(ctx context.Context) {
	logger := e.logger.WithField("component", "evaluation_engine")

	// Perform initial collection
	if _, err := e.EvaluateAll(ctx); err != nil {
		logger.WithError(err).Error("Initial image evaluation failed")
	}

	// Start periodic collection
	ticker := time.NewTicker(e.config.ScrapeInterval)
	defer ticker.Stop()

	logger.WithField("interval", e.config.ScrapeInterval).Info("Starting periodic image evaluation")

	for {
		select {
		case <-ctx.Done():
			logger.Info("Evaluation engine stopping")
			return
		case <-ticker.C:
			if _, err := e.EvaluateAll(ctx); err != nil {
				logger.WithError(err).Error("Image evaluation failed")
			}
		}
	}
}

// EvaluateAll discovers images and evaluates them one after another
func (e *Engine) EvaluateAll(ctx context.Context) (map[string]*types.ImageReportData, error) {
	logger := e.logger.WithFields(logrus.Fields{
		"operation":    "evaluate_images",
		"image_source": e.imageSource.Name(),
	})
	startTime := time.Now()

	images, err := e.imageSource.DiscoverImages(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to discover images: %w", err)
	}

	logger.WithField("image_count", len(images)).Info("Discovered images")

	newReportData := make(map[string]*types.ImageReportData)
	for _, imageInfo := range images {
		if ctx.Err() != nil {
			logger.WithError(ctx.Err()).Warn("Image evaluation interrupted")
			break
		}
		if _, seen := newReportData[imageInfo.URI]; seen {
			continue
		}

		newReportData[imageInfo.URI] = &types.ImageReportData{
			Report:    e.Evaluate(ctx, imageInfo.URI),
			ImageInfo: imageInfo,
		}
	}

	// Update the report data
	e.mutex.Lock()
	e.reportData = newReportData
	e.lastCollectionTime = time.Now()
	e.mutex.Unlock()

	logger.WithFields(logrus.Fields{
		"duration":                time.Since(startTime),
		"images_evaluated":        len(newReportData),
		"total_images_discovered": len(images),
	}).Info("Image evaluation cycle completed")

	return newReportData, nil
}

// GetReportData returns the latest reports and their collection time
func (e *Engine) GetReportData() (map[string]*types.ImageReportData, time.Time) {
	e.mutex.RLock()
	defer e.mutex.RUnlock()

	// Return a copy to prevent race conditions
	data := make(map[string]*types.ImageReportData, len(e.reportData))
	for k, v := range e.reportData {
		data[k] = v
	}

	return data, e.lastCollectionTime
}
