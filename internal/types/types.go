// ABOUTME: Common types shared across the VulnAgent system.
// ABOUTME: Defines inventory items, lookup outcomes, summaries and the final image report.

package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/go-containerregistry/pkg/name"
)

// ImageInfo represents a discovered container image with its workload context
type ImageInfo struct {
	URI          string `json:"uri"`
	Namespace    string `json:"namespace,omitempty"`
	Workload     string `json:"workload,omitempty"`
	WorkloadType string `json:"workload_type,omitempty"` // "Deployment", "Container", etc.
}

// Category is the ecosystem an inventory item belongs to
type Category int

const (
	CategoryUnknown Category = iota
	CategoryOS
	CategoryJava
	CategoryPython
	CategoryNodeJS
	CategoryJS
	CategoryRuby
	CategoryPHP
)

var categoryNames = map[Category]string{
	CategoryUnknown: "unknown",
	CategoryOS:      "os",
	CategoryJava:    "java",
	CategoryPython:  "python",
	CategoryNodeJS:  "nodejs",
	CategoryJS:      "js",
	CategoryRuby:    "ruby",
	CategoryPHP:     "php",
}

// DependencyCategories lists the language ecosystems in report order
var DependencyCategories = []Category{
	CategoryJava,
	CategoryPython,
	CategoryNodeJS,
	CategoryJS,
	CategoryRuby,
	CategoryPHP,
}

// KnownCategories lists every recognized category, OS first
var KnownCategories = append([]Category{CategoryOS}, DependencyCategories...)

func (c Category) String() string {
	if s, ok := categoryNames[c]; ok {
		return s
	}
	return categoryNames[CategoryUnknown]
}

// IsDependency reports whether c is a language dependency ecosystem
func (c Category) IsDependency() bool {
	return c >= CategoryJava && c <= CategoryPHP
}

// ParseCategory maps a category tag to its Category, CategoryUnknown if unrecognized
func ParseCategory(s string) Category {
	tag := strings.ToLower(strings.TrimSpace(s))
	for c, n := range categoryNames {
		if c != CategoryUnknown && n == tag {
			return c
		}
	}
	return CategoryUnknown
}

func (c Category) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Category) UnmarshalText(text []byte) error {
	parsed := ParseCategory(string(text))
	if parsed == CategoryUnknown {
		return fmt.Errorf("unknown category: %q", string(text))
	}
	*c = parsed
	return nil
}

// RawItem is a record as produced by an inventory extractor
type RawItem struct {
	Category string  `json:"category"`
	Product  string  `json:"product"`
	Version  *string `json:"version"`
}

// VersionString returns the version or "" when absent
func (r RawItem) VersionString() string {
	if r.Version == nil {
		return ""
	}
	return strings.TrimSpace(*r.Version)
}

// InventoryItem is a validated inventory record. An empty Version means absent.
type InventoryItem struct {
	Category Category `json:"category"`
	Product  string   `json:"product"`
	Version  string   `json:"version,omitempty"`
}

// RecordKind classifies a vulnerability record by its identifier
type RecordKind string

const (
	KindCVE     RecordKind = "CVE"
	KindBID     RecordKind = "BID"
	KindExploit RecordKind = "EXPLOIT"
)

// KindForIdentifier derives the record kind from an oracle identifier
func KindForIdentifier(id string) RecordKind {
	upper := strings.ToUpper(id)
	switch {
	case strings.HasPrefix(upper, "CVE-"):
		return KindCVE
	case strings.HasPrefix(upper, "BID-"):
		return KindBID
	default:
		return KindExploit
	}
}

// VulnerabilityRecord is a single oracle finding, fields passed through verbatim
type VulnerabilityRecord struct {
	ID     string         `json:"id"`
	Kind   RecordKind     `json:"kind"`
	Fields map[string]any `json:"fields"`
}

// Score returns the CVSS base score of a CVE record
func (v VulnerabilityRecord) Score() (float64, bool) {
	raw, ok := v.Fields["cvss_base"]
	if !ok {
		return 0, false
	}
	switch s := raw.(type) {
	case float64:
		return s, true
	case json.Number:
		f, err := s.Float64()
		return f, err == nil
	case int:
		return float64(s), true
	}
	return 0, false
}

// OutcomeStatus is the classification of a single lookup
type OutcomeStatus string

const (
	OutcomeVulnerable OutcomeStatus = "vulnerable"
	OutcomeClean      OutcomeStatus = "clean"
	OutcomeFailed     OutcomeStatus = "failed"
)

// FailureReason explains a failed lookup
type FailureReason string

const (
	ReasonTimeout           FailureReason = "timeout"
	ReasonUnreachable       FailureReason = "unreachable"
	ReasonMalformedResponse FailureReason = "malformed_response"
)

// LookupOutcome is the result of querying the oracle for one product.
// Records is non-empty only for OutcomeVulnerable; Reason is set only for OutcomeFailed.
type LookupOutcome struct {
	Status  OutcomeStatus         `json:"status"`
	Records []VulnerabilityRecord `json:"vulnerabilities,omitempty"`
	Reason  FailureReason         `json:"reason,omitempty"`
	Detail  string                `json:"detail,omitempty"`
}

// Vulnerable builds a vulnerable outcome; an empty record list is clean
func Vulnerable(records []VulnerabilityRecord) LookupOutcome {
	if len(records) == 0 {
		return Clean()
	}
	return LookupOutcome{Status: OutcomeVulnerable, Records: records}
}

// Clean builds a clean outcome
func Clean() LookupOutcome {
	return LookupOutcome{Status: OutcomeClean}
}

// LookupFailed builds a failed outcome
func LookupFailed(reason FailureReason, detail string) LookupOutcome {
	return LookupOutcome{Status: OutcomeFailed, Reason: reason, Detail: detail}
}

func (o LookupOutcome) IsVulnerable() bool { return o.Status == OutcomeVulnerable }
func (o LookupOutcome) IsFailed() bool     { return o.Status == OutcomeFailed }

// ProductReport is the per-item unit carried into the final report
type ProductReport struct {
	Product string        `json:"product"`
	Version string        `json:"version,omitempty"`
	Outcome LookupOutcome `json:"outcome"`
}

// CategorySummary aggregates the outcomes of one category.
// Total == Vulnerable + Clean; failed lookups count as clean and also in Failed.
type CategorySummary struct {
	Total      int             `json:"total"`
	Vulnerable int             `json:"vulnerable"`
	Clean      int             `json:"clean"`
	Failed     int             `json:"failed"`
	Items      []ProductReport `json:"items"`
}

// ReportStatus is the overall status of an image evaluation
type ReportStatus string

const (
	StatusCompleted      ReportStatus = "Completed"
	StatusPartialFailure ReportStatus = "PartialFailure"
)

// IssueKind classifies report-level data quality problems
type IssueKind string

const (
	IssueUnknownCategory  IssueKind = "unknown_category"
	IssueInvalidItem      IssueKind = "invalid_item"
	IssueExtractionFailed IssueKind = "extraction_failed"
)

// ReportIssue is a report-level problem that did not abort the evaluation
type ReportIssue struct {
	Kind    IssueKind `json:"kind"`
	Message string    `json:"message"`
}

// Report is the evaluation result for one image
type Report struct {
	ImageName           string                       `json:"image_name"`
	GeneratedAt         time.Time                    `json:"generated_at"`
	OSSummary           CategorySummary              `json:"os_summary"`
	DependencySummaries map[Category]CategorySummary `json:"dependency_summaries"`
	OverallStatus       ReportStatus                 `json:"overall_status"`
	StatusMessage       string                       `json:"status_message"`
	Issues              []ReportIssue                `json:"issues,omitempty"`
}

// Summaries returns every category summary keyed by category, OS included
func (r *Report) Summaries() map[Category]CategorySummary {
	all := make(map[Category]CategorySummary, len(r.DependencySummaries)+1)
	all[CategoryOS] = r.OSSummary
	for c, s := range r.DependencySummaries {
		all[c] = s
	}
	return all
}

// ImageReportData combines an image report with discovery metadata
type ImageReportData struct {
	*Report
	ImageInfo
}

// ImageReference is the parsed form of an image URI
type ImageReference struct {
	Registry   string
	Repository string
	Identifier string // tag or digest
}

// ParseImageReference splits an image URI into registry, repository and tag/digest.
// Images without a tag default to "latest".
func ParseImageReference(imageURI string) (ImageReference, error) {
	ref, err := name.ParseReference(imageURI)
	if err != nil {
		return ImageReference{}, fmt.Errorf("invalid image reference %q: %w", imageURI, err)
	}
	return ImageReference{
		Registry:   ref.Context().RegistryStr(),
		Repository: ref.Context().RepositoryStr(),
		Identifier: ref.Identifier(),
	}, nil
}
