// ABOUTME: HTTP handler for the image vulnerability report endpoint.
// ABOUTME: Serves the latest per-image reports with filtering and a cross-image summary.

package server

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jfeddern/VulnAgent/internal/types"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

type ReportDataProvider interface {
	GetReportData() (map[string]*types.ImageReportData, time.Time)
}

type ReportsHandler struct {
	collector ReportDataProvider
	logger    *logrus.Logger
}

type ReportsResponse struct {
	Images      []types.ImageReportData `json:"images"`
	Summary     ReportSummary           `json:"summary"`
	LastUpdated string                  `json:"last_updated"`
}

type ReportSummary struct {
	TotalImages        int            `json:"total_images"`
	VulnerableImages   int            `json:"vulnerable_images"`
	VulnerablePackages int            `json:"vulnerable_packages"`
	FailedLookups      int            `json:"failed_lookups"`
	StatusBreakdown    map[string]int `json:"status_breakdown"`
	CategoryBreakdown  map[string]int `json:"category_breakdown"`
	TopVulnerabilities []VulnSummary  `json:"top_vulnerabilities"`
}

type VulnSummary struct {
	ID         string           `json:"id"`
	Kind       types.RecordKind `json:"kind"`
	Score      float64          `json:"score,omitempty"`
	ImageCount int              `json:"image_count"`
	Products   []string         `json:"products"`
}

func NewReportsHandler(collector ReportDataProvider, logger *logrus.Logger) *ReportsHandler {
	return &ReportsHandler{
		collector: collector,
		logger:    logger,
	}
}

func (h *ReportsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := h.logger.WithField("endpoint", "/reports")

	// Get current reports
	reportData, lastCollectionTime := h.collector.GetReportData()

	// Check for query parameters for filtering
	query := r.URL.Query()
	imageFilter := strings.TrimSpace(query.Get("image"))
	categoryParam := strings.TrimSpace(query.Get("category"))
	statusFilter := strings.TrimSpace(query.Get("status"))
	vulnerableParam := strings.TrimSpace(query.Get("vulnerable"))

	// Validate image filter length to prevent potential DoS
	if len(imageFilter) > 200 {
		http.Error(w, "Image filter too long. Maximum allowed is 200 characters", http.StatusBadRequest)
		return
	}

	categoryFilter := types.CategoryUnknown
	if categoryParam != "" {
		categoryFilter = types.ParseCategory(categoryParam)
		if categoryFilter == types.CategoryUnknown {
			http.Error(w, "Invalid category filter. Must be one of: os, java, python, nodejs, js, ruby, php", http.StatusBadRequest)
			return
		}
	}

	if statusFilter != "" && statusFilter != string(types.StatusCompleted) && statusFilter != string(types.StatusPartialFailure) {
		http.Error(w, "Invalid status filter. Must be one of: Completed, PartialFailure", http.StatusBadRequest)
		return
	}

	onlyVulnerable := false
	if vulnerableParam != "" {
		parsed, err := strconv.ParseBool(vulnerableParam)
		if err != nil {
			http.Error(w, "Invalid vulnerable parameter. Must be true or false", http.StatusBadRequest)
			return
		}
		onlyVulnerable = parsed
	}

	logger.WithFields(logrus.Fields{
		"image_filter":    imageFilter,
		"category_filter": categoryParam,
		"status_filter":   statusFilter,
		"only_vulnerable": onlyVulnerable,
		"total_images":    len(reportData),
	}).Debug("Processing reports request")

	filteredImages := []types.ImageReportData{}
	summary := ReportSummary{
		TotalImages:       len(reportData),
		StatusBreakdown:   make(map[string]int),
		CategoryBreakdown: make(map[string]int),
	}
	vulnMap := make(map[string]*VulnSummary)

	for uri, data := range reportData {
		if data == nil || data.Report == nil {
			continue
		}

		// Update statistics over every image
		summary.StatusBreakdown[string(data.OverallStatus)]++
		imageVulnerable := false
		seenInImage := make(map[string]bool)
		for category, s := range data.Summaries() {
			summary.VulnerablePackages += s.Vulnerable
			summary.FailedLookups += s.Failed
			summary.CategoryBreakdown[category.String()] += s.Vulnerable
			if s.Vulnerable > 0 {
				imageVulnerable = true
			}

			// Track vulnerability occurrences
			for _, item := range s.Items {
				for _, record := range item.Outcome.Records {
					v, exists := vulnMap[record.ID]
					if !exists {
						v = &VulnSummary{ID: record.ID, Kind: record.Kind}
						if score, ok := record.Score(); ok {
							v.Score = score
						}
						vulnMap[record.ID] = v
					}
					if !seenInImage[record.ID] {
						seenInImage[record.ID] = true
						v.ImageCount++
					}
					if !lo.Contains(v.Products, item.Product) {
						v.Products = append(v.Products, item.Product)
					}
				}
			}
		}
		if imageVulnerable {
			summary.VulnerableImages++
		}

		// Apply filters
		if imageFilter != "" && !strings.Contains(uri, imageFilter) {
			continue
		}
		if statusFilter != "" && string(data.OverallStatus) != statusFilter {
			continue
		}
		if categoryFilter != types.CategoryUnknown {
			s := data.Summaries()[categoryFilter]
			if s.Total == 0 || (onlyVulnerable && s.Vulnerable == 0) {
				continue
			}
		} else if onlyVulnerable && !imageVulnerable {
			continue
		}

		filteredImages = append(filteredImages, *data)
	}

	sort.Slice(filteredImages, func(i, j int) bool {
		return filteredImages[i].URI < filteredImages[j].URI
	})

	// Get top vulnerabilities (sort by frequency, then score)
	topVulns := lo.Map(lo.Values(vulnMap), func(v *VulnSummary, _ int) VulnSummary {
		sort.Strings(v.Products)
		return *v
	})
	sort.Slice(topVulns, func(i, j int) bool {
		if topVulns[i].ImageCount != topVulns[j].ImageCount {
			return topVulns[i].ImageCount > topVulns[j].ImageCount
		}
		if topVulns[i].Score != topVulns[j].Score {
			return topVulns[i].Score > topVulns[j].Score
		}
		return topVulns[i].ID < topVulns[j].ID
	})

	// Limit top vulnerabilities to 10
	if len(topVulns) > 10 {
		topVulns = topVulns[:10]
	}
	summary.TopVulnerabilities = topVulns

	response := ReportsResponse{
		Images:      filteredImages,
		Summary:     summary,
		LastUpdated: lastCollectionTime.UTC().Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")

	encoder := json.NewEncoder(w)
	// Pretty print if requested
	if query.Get("pretty") != "" {
		encoder.SetIndent("", "  ")
	}
	if err := encoder.Encode(response); err != nil {
		logger.WithError(err).Error("Failed to encode JSON response")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	logger.WithFields(logrus.Fields{
		"filtered_images":     len(filteredImages),
		"vulnerable_packages": summary.VulnerablePackages,
		"top_vulnerabilities": len(topVulns),
	}).Info("Served reports response")
}

// CreateReportsHandler creates a standard HTTP handler
func CreateReportsHandler(dataProvider ReportDataProvider, logger *logrus.Logger) http.HandlerFunc {
	handler := NewReportsHandler(dataProvider, logger)
	return handler.ServeHTTP
}
