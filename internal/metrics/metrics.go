// ABOUTME: Prometheus metrics exposition for image vulnerability reports.
// ABOUTME: Defines metrics structure and provides HTTP handler for /metrics endpoint.

package metrics

import (
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jfeddern/VulnAgent/internal/types"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

type ReportDataProvider interface {
	GetReportData() (map[string]*types.ImageReportData, time.Time)
}

type MetricsHandler struct {
	collector ReportDataProvider
	logger    *logrus.Logger

	// Per image and category
	packageCount    *prometheus.GaugeVec
	vulnerableCount *prometheus.GaugeVec
	failedCount     *prometheus.GaugeVec

	// Per image
	reportStatus   *prometheus.GaugeVec
	reportIssues   *prometheus.GaugeVec
	lastEvaluation *prometheus.GaugeVec
	collectionInfo *prometheus.GaugeVec

	// Detailed vulnerability metrics
	vulnerabilityInfo *prometheus.GaugeVec
}

const maxLabelLength = 200

var imageLabels = []string{"image_uri", "repository", "tag", "namespace", "workload", "workload_type"}

func withLabels(extra ...string) []string {
	return append(append([]string{}, imageLabels...), extra...)
}

func NewMetricsHandler(collector ReportDataProvider, logger *logrus.Logger) *MetricsHandler {
	return &MetricsHandler{
		collector: collector,
		logger:    logger,

		packageCount: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "vulnagent_image_packages",
				Help: "Number of inventory items looked up per image and category",
			},
			withLabels("category"),
		),

		vulnerableCount: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "vulnagent_image_vulnerable_packages",
				Help: "Number of inventory items with known vulnerabilities per image and category",
			},
			withLabels("category"),
		),

		failedCount: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "vulnagent_image_failed_lookups",
				Help: "Number of inventory items whose vulnerability lookup failed per image and category",
			},
			withLabels("category"),
		),

		reportStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "vulnagent_image_report_status",
				Help: "Overall status of the image report (1=Completed, 0=PartialFailure)",
			},
			withLabels("status"),
		),

		reportIssues: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "vulnagent_image_report_issues",
				Help: "Number of report issues per image by kind",
			},
			withLabels("kind"),
		),

		lastEvaluation: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "vulnagent_image_last_evaluation_timestamp",
				Help: "Timestamp of the last vulnerability evaluation of the image",
			},
			imageLabels,
		),

		collectionInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "vulnagent_collection_info",
				Help: "Information about vulnerability report collection",
			},
			[]string{"info_type"},
		),

		vulnerabilityInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "vulnagent_vulnerability_info",
				Help: "Vulnerability records per package, valued with the CVSS base score when known and 1 otherwise",
			},
			withLabels("category", "package_name", "package_version", "vulnerability_id", "kind", "summary"),
		),
	}
}

func (m *MetricsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Create a new registry for this request to avoid conflicts
	registry := prometheus.NewRegistry()

	collectors := []*prometheus.GaugeVec{
		m.packageCount,
		m.vulnerableCount,
		m.failedCount,
		m.reportStatus,
		m.reportIssues,
		m.lastEvaluation,
		m.collectionInfo,
		m.vulnerabilityInfo,
	}

	// Register our metrics and reset them to avoid stale data
	for _, c := range collectors {
		registry.MustRegister(c)
		c.Reset()
	}

	// Get current report data
	reportData, lastCollectionTime := m.collector.GetReportData()

	// Populate metrics
	for imageURI, data := range reportData {
		if data == nil || data.Report == nil {
			continue
		}

		ref, err := types.ParseImageReference(imageURI)
		if err != nil {
			m.logger.WithError(err).WithField("image_uri", imageURI).Error("Failed to parse image URI for metrics")
			continue
		}

		labels := []string{imageURI, ref.Repository, ref.Identifier, data.Namespace, data.Workload, data.WorkloadType}
		with := func(extra ...string) []string {
			return append(append([]string{}, labels...), extra...)
		}

		for category, summary := range data.Summaries() {
			name := category.String()
			m.packageCount.WithLabelValues(with(name)...).Set(float64(summary.Total))
			m.vulnerableCount.WithLabelValues(with(name)...).Set(float64(summary.Vulnerable))
			m.failedCount.WithLabelValues(with(name)...).Set(float64(summary.Failed))

			for _, item := range summary.Items {
				if !item.Outcome.IsVulnerable() {
					continue
				}
				for _, record := range item.Outcome.Records {
					value := float64(1)
					if score, ok := record.Score(); ok {
						value = score
					}
					m.vulnerabilityInfo.WithLabelValues(with(
						name,
						sanitizeLabelValue(item.Product),
						sanitizeLabelValue(item.Version),
						sanitizeLabelValue(record.ID),
						string(record.Kind),
						sanitizeLabelValue(recordSummary(record)),
					)...).Set(value)
				}
			}
		}

		// Report status (1 for Completed, 0 for others)
		statusValue := float64(0)
		if data.OverallStatus == types.StatusCompleted {
			statusValue = 1
		}
		m.reportStatus.WithLabelValues(with(string(data.OverallStatus))...).Set(statusValue)

		issueCounts := make(map[types.IssueKind]int)
		for _, issue := range data.Issues {
			issueCounts[issue.Kind]++
		}
		for kind, count := range issueCounts {
			m.reportIssues.WithLabelValues(with(string(kind))...).Set(float64(count))
		}

		m.lastEvaluation.WithLabelValues(labels...).Set(float64(data.GeneratedAt.Unix()))
	}

	// Collection info
	m.collectionInfo.WithLabelValues("last_collection_timestamp").Set(float64(lastCollectionTime.Unix()))
	m.collectionInfo.WithLabelValues("images_monitored").Set(float64(len(reportData)))

	// Serve report metrics together with the process and oracle collectors
	handler := promhttp.HandlerFor(prometheus.Gatherers{registry, prometheus.DefaultGatherer}, promhttp.HandlerOpts{})
	handler.ServeHTTP(w, r)
}

// recordSummary picks the human readable description of a record
func recordSummary(record types.VulnerabilityRecord) string {
	for _, key := range []string{"summary", "title", "description"} {
		if v, ok := record.Fields[key]; ok {
			return fmt.Sprint(v)
		}
	}
	return ""
}

// sanitizeLabelValue cleans strings for use as Prometheus labels
func sanitizeLabelValue(value string) string {
	if value == "" {
		return "unknown"
	}

	// Remove newlines and carriage returns
	value = strings.ReplaceAll(value, "\n", " ")
	value = strings.ReplaceAll(value, "\r", " ")
	value = strings.ReplaceAll(value, "\t", " ")

	// Label values must be valid UTF-8
	value = strings.ToValidUTF8(value, "")

	// Limit length to prevent excessive label sizes, cutting on a rune boundary
	if len(value) > maxLabelLength {
		n := maxLabelLength
		for n > 0 && !utf8.RuneStart(value[n]) {
			n--
		}
		value = value[:n] + "..."
	}

	// Remove any leading/trailing whitespace
	return strings.TrimSpace(value)
}

// CreateMetricsHandler creates a standard HTTP handler that can be used with http.ServeMux
func CreateMetricsHandler(dataProvider ReportDataProvider, logger *logrus.Logger) http.HandlerFunc {
	metricsHandler := NewMetricsHandler(dataProvider, logger)
	return metricsHandler.ServeHTTP
}
