// ABOUTME: Report aggregator folding per-product outcomes into category and image summaries.
// ABOUTME: Pure over its inputs apart from reading the clock once per report.

package report

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/jfeddern/VulnAgent/internal/types"
	"github.com/samber/lo"
)

// Aggregator builds final reports
type Aggregator struct {
	now func() time.Time
}

// NewAggregator creates an aggregator stamping reports with wall-clock time
func NewAggregator() *Aggregator {
	return &Aggregator{now: time.Now}
}

// NewAggregatorWithClock creates an aggregator with a custom clock
func NewAggregatorWithClock(now func() time.Time) *Aggregator {
	return &Aggregator{now: now}
}

// Summarize computes the summary of one category. Failed lookups count as clean.
func Summarize(items []types.ProductReport) types.CategorySummary {
	items = slices.Clone(items)
	if items == nil {
		items = []types.ProductReport{}
	}

	vulnerable := lo.CountBy(items, func(p types.ProductReport) bool { return p.Outcome.IsVulnerable() })
	failed := lo.CountBy(items, func(p types.ProductReport) bool { return p.Outcome.IsFailed() })

	return types.CategorySummary{
		Total:      len(items),
		Vulnerable: vulnerable,
		Clean:      len(items) - vulnerable,
		Failed:     failed,
		Items:      items,
	}
}

// Aggregate builds the report for an image from OS and dependency outcomes
func (a *Aggregator) Aggregate(imageName string, osItems []types.ProductReport, dependencies map[types.Category][]types.ProductReport, issues ...types.ReportIssue) *types.Report {
	generatedAt := a.now()

	report := &types.Report{
		ImageName:           imageName,
		GeneratedAt:         generatedAt,
		OSSummary:           Summarize(osItems),
		DependencySummaries: make(map[types.Category]types.CategorySummary, len(types.DependencyCategories)),
		Issues:              slices.Clone(issues),
	}
	for _, c := range types.DependencyCategories {
		report.DependencySummaries[c] = Summarize(dependencies[c])
	}

	total, failed := 0, 0
	for _, s := range report.Summaries() {
		total += s.Total
		failed += s.Failed
	}

	var reasons []string
	for _, issue := range issues {
		if issue.Kind == types.IssueExtractionFailed {
			reasons = append(reasons, issue.Message)
		}
	}
	if failed > 0 {
		reasons = append(reasons, fmt.Sprintf("%d of %d vulnerability lookups failed", failed, total))
	}

	if len(reasons) == 0 {
		report.OverallStatus = types.StatusCompleted
		report.StatusMessage = string(types.StatusCompleted)
	} else {
		report.OverallStatus = types.StatusPartialFailure
		report.StatusMessage = strings.Join(reasons, "; ")
	}

	return report
}
