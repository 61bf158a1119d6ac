// ABOUTME: Unit tests for the image report endpoint.
// ABOUTME: Tests JSON response structure, filtering, summary statistics and query parameter handling.

package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jfeddern/VulnAgent/internal/types"
	"github.com/sirupsen/logrus"
)

// Mock implementation for testing
type MockReportCollector struct {
	data        map[string]*types.ImageReportData
	lastUpdated time.Time
}

func (m *MockReportCollector) GetReportData() (map[string]*types.ImageReportData, time.Time) {
	return m.data, m.lastUpdated
}

func cve(id string, score float64) types.VulnerabilityRecord {
	return types.VulnerabilityRecord{
		ID:     id,
		Kind:   types.KindCVE,
		Fields: map[string]any{"cvss_base": score, "summary": "test vulnerability"},
	}
}

func imageReport(uri string, status types.ReportStatus, osItems []types.ProductReport, deps map[types.Category][]types.ProductReport) *types.ImageReportData {
	summarize := func(items []types.ProductReport) types.CategorySummary {
		s := types.CategorySummary{Total: len(items), Items: items}
		for _, item := range items {
			switch {
			case item.Outcome.IsVulnerable():
				s.Vulnerable++
			case item.Outcome.IsFailed():
				s.Failed++
				s.Clean++
			default:
				s.Clean++
			}
		}
		return s
	}

	report := &types.Report{
		ImageName:           uri,
		GeneratedAt:         time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC),
		OSSummary:           summarize(osItems),
		DependencySummaries: make(map[types.Category]types.CategorySummary),
		OverallStatus:       status,
		StatusMessage:       string(status),
	}
	for _, c := range types.DependencyCategories {
		report.DependencySummaries[c] = summarize(deps[c])
	}

	return &types.ImageReportData{
		Report: report,
		ImageInfo: types.ImageInfo{
			URI:          uri,
			Namespace:    "default",
			Workload:     "workload",
			WorkloadType: "Deployment",
		},
	}
}

func testData() map[string]*types.ImageReportData {
	heartbleed := cve("CVE-2014-0160", 7.5)
	log4shell := cve("CVE-2021-44228", 10.0)

	return map[string]*types.ImageReportData{
		"registry.example.com/web:v1": imageReport("registry.example.com/web:v1", types.StatusCompleted,
			[]types.ProductReport{
				{Product: "openssl", Version: "1.0.1", Outcome: types.Vulnerable([]types.VulnerabilityRecord{heartbleed})},
				{Product: "bash", Version: "5.0", Outcome: types.Clean()},
			},
			map[types.Category][]types.ProductReport{
				types.CategoryJava: {{Product: "log4j-core", Version: "2.14.1", Outcome: types.Vulnerable([]types.VulnerabilityRecord{log4shell})}},
			}),
		"registry.example.com/api:v2": imageReport("registry.example.com/api:v2", types.StatusPartialFailure,
			[]types.ProductReport{
				{Product: "openssl", Version: "1.0.1", Outcome: types.Vulnerable([]types.VulnerabilityRecord{heartbleed})},
				{Product: "zlib", Version: "1.2.11", Outcome: types.LookupFailed(types.ReasonTimeout, "deadline exceeded")},
			}, nil),
		"registry.example.com/db:14": imageReport("registry.example.com/db:14", types.StatusCompleted,
			[]types.ProductReport{
				{Product: "coreutils", Version: "8.30", Outcome: types.Clean()},
			},
			map[types.Category][]types.ProductReport{
				types.CategoryPython: {{Product: "six", Version: "1.16.0", Outcome: types.Clean()}},
			}),
	}
}

func imageURIs(resp *ReportsResponse) []string {
	var uris []string
	for _, img := range resp.Images {
		uris = append(uris, img.URI)
	}
	return uris
}

func TestReportsHandler(t *testing.T) {
	// Create test logger
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel) // Reduce noise in tests

	mockCollector := &MockReportCollector{
		data:        testData(),
		lastUpdated: time.Date(2025, 1, 1, 12, 5, 0, 0, time.UTC),
	}

	handler := NewReportsHandler(mockCollector, logger)

	tests := []struct {
		name         string
		queryParams  string
		expectedCode int
		checkFunc    func(*testing.T, *ReportsResponse)
	}{
		{
			name:         "basic request",
			queryParams:  "",
			expectedCode: http.StatusOK,
			checkFunc: func(t *testing.T, resp *ReportsResponse) {
				uris := imageURIs(resp)
				expected := []string{"registry.example.com/api:v2", "registry.example.com/db:14", "registry.example.com/web:v1"}
				if strings.Join(uris, ",") != strings.Join(expected, ",") {
					t.Errorf("Expected images %v in order, got %v", expected, uris)
				}
				if resp.Summary.TotalImages != 3 {
					t.Errorf("Expected 3 total images, got %d", resp.Summary.TotalImages)
				}
				if resp.Summary.VulnerableImages != 2 {
					t.Errorf("Expected 2 vulnerable images, got %d", resp.Summary.VulnerableImages)
				}
				if resp.Summary.VulnerablePackages != 3 {
					t.Errorf("Expected 3 vulnerable packages, got %d", resp.Summary.VulnerablePackages)
				}
				if resp.Summary.FailedLookups != 1 {
					t.Errorf("Expected 1 failed lookup, got %d", resp.Summary.FailedLookups)
				}
				if resp.Summary.StatusBreakdown["PartialFailure"] != 1 || resp.Summary.StatusBreakdown["Completed"] != 2 {
					t.Errorf("Unexpected status breakdown %v", resp.Summary.StatusBreakdown)
				}
				if resp.Summary.CategoryBreakdown["os"] != 2 || resp.Summary.CategoryBreakdown["java"] != 1 {
					t.Errorf("Unexpected category breakdown %v", resp.Summary.CategoryBreakdown)
				}
				if resp.LastUpdated != "2025-01-01T12:05:00Z" {
					t.Errorf("Unexpected last_updated %s", resp.LastUpdated)
				}
			},
		},
		{
			name:         "top vulnerabilities",
			queryParams:  "",
			expectedCode: http.StatusOK,
			checkFunc: func(t *testing.T, resp *ReportsResponse) {
				top := resp.Summary.TopVulnerabilities
				if len(top) != 2 {
					t.Fatalf("Expected 2 top vulnerabilities, got %d", len(top))
				}
				if top[0].ID != "CVE-2014-0160" || top[0].ImageCount != 2 {
					t.Errorf("Expected CVE-2014-0160 in 2 images first, got %s in %d", top[0].ID, top[0].ImageCount)
				}
				if top[1].ID != "CVE-2021-44228" || top[1].Score != 10.0 {
					t.Errorf("Expected CVE-2021-44228 with score 10 second, got %s with %v", top[1].ID, top[1].Score)
				}
				if len(top[0].Products) != 1 || top[0].Products[0] != "openssl" {
					t.Errorf("Expected openssl as affected product, got %v", top[0].Products)
				}
			},
		},
		{
			name:         "report content round trip",
			queryParams:  "?image=web",
			expectedCode: http.StatusOK,
			checkFunc: func(t *testing.T, resp *ReportsResponse) {
				if len(resp.Images) != 1 {
					t.Fatalf("Expected 1 image, got %d", len(resp.Images))
				}
				image := resp.Images[0]
				if image.OSSummary.Vulnerable != 1 {
					t.Errorf("Expected 1 vulnerable OS package, got %d", image.OSSummary.Vulnerable)
				}
				java := image.DependencySummaries[types.CategoryJava]
				if java.Total != 1 || java.Items[0].Outcome.Records[0].ID != "CVE-2021-44228" {
					t.Errorf("Unexpected java summary %+v", java)
				}
				if image.Workload != "workload" {
					t.Errorf("Expected workload metadata, got %q", image.Workload)
				}
			},
		},
		{
			name:         "vulnerable only",
			queryParams:  "?vulnerable=true",
			expectedCode: http.StatusOK,
			checkFunc: func(t *testing.T, resp *ReportsResponse) {
				if len(resp.Images) != 2 {
					t.Errorf("Expected 2 images, got %d", len(resp.Images))
				}
			},
		},
		{
			name:         "category filter",
			queryParams:  "?category=python",
			expectedCode: http.StatusOK,
			checkFunc: func(t *testing.T, resp *ReportsResponse) {
				uris := imageURIs(resp)
				if len(uris) != 1 || uris[0] != "registry.example.com/db:14" {
					t.Errorf("Expected only db image, got %v", uris)
				}
			},
		},
		{
			name:         "vulnerable category filter",
			queryParams:  "?category=java&vulnerable=true",
			expectedCode: http.StatusOK,
			checkFunc: func(t *testing.T, resp *ReportsResponse) {
				uris := imageURIs(resp)
				if len(uris) != 1 || uris[0] != "registry.example.com/web:v1" {
					t.Errorf("Expected only web image, got %v", uris)
				}
			},
		},
		{
			name:         "status filter",
			queryParams:  "?status=PartialFailure",
			expectedCode: http.StatusOK,
			checkFunc: func(t *testing.T, resp *ReportsResponse) {
				uris := imageURIs(resp)
				if len(uris) != 1 || uris[0] != "registry.example.com/api:v2" {
					t.Errorf("Expected only api image, got %v", uris)
				}
				if resp.Summary.TotalImages != 3 {
					t.Errorf("Summary should cover all images, got %d", resp.Summary.TotalImages)
				}
			},
		},
		{
			name:         "image filter - no match",
			queryParams:  "?image=nonexistent",
			expectedCode: http.StatusOK,
			checkFunc: func(t *testing.T, resp *ReportsResponse) {
				if len(resp.Images) != 0 {
					t.Errorf("Expected 0 images, got %d", len(resp.Images))
				}
			},
		},
		{
			name:         "pretty output",
			queryParams:  "?pretty=1",
			expectedCode: http.StatusOK,
			checkFunc: func(t *testing.T, resp *ReportsResponse) {
				if len(resp.Images) != 3 {
					t.Errorf("Expected 3 images, got %d", len(resp.Images))
				}
			},
		},
		{name: "invalid category", queryParams: "?category=golang", expectedCode: http.StatusBadRequest},
		{name: "invalid status", queryParams: "?status=Done", expectedCode: http.StatusBadRequest},
		{name: "invalid vulnerable", queryParams: "?vulnerable=maybe", expectedCode: http.StatusBadRequest},
		{name: "image filter too long", queryParams: "?image=" + strings.Repeat("a", 201), expectedCode: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest("GET", "/reports"+tt.queryParams, nil)
			if err != nil {
				t.Fatal(err)
			}

			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if status := rr.Code; status != tt.expectedCode {
				t.Errorf("Expected status code %d, got %d", tt.expectedCode, status)
			}

			if tt.expectedCode == http.StatusOK {
				if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
					t.Errorf("Expected JSON content type, got %s", ct)
				}

				var response ReportsResponse
				if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
					t.Fatalf("Failed to unmarshal response: %v", err)
				}

				tt.checkFunc(t, &response)
			}
		})
	}
}

func TestReportsHandlerEmpty(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	handler := CreateReportsHandler(&MockReportCollector{data: map[string]*types.ImageReportData{}}, logger)

	rr := httptest.NewRecorder()
	handler(rr, httptest.NewRequest(http.MethodGet, "/reports", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"images":[]`) {
		t.Errorf("Expected empty image list, got %s", rr.Body.String())
	}
}
