// ABOUTME: Inventory normalizer that validates, deduplicates and buckets extractor records.
// ABOUTME: Keeps first-seen order per category and reports rejected records instead of dropping them.

package inventory

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jfeddern/VulnAgent/internal/types"
)

var (
	ErrUnknownCategory = errors.New("unknown category")
	ErrEmptyProduct    = errors.New("empty product name")
	ErrInvalidFormat   = errors.New("invalid dependency format")
)

// Buckets maps every known category to its items in first-seen order
type Buckets map[types.Category][]types.InventoryItem

// Len returns the number of items across all categories
func (b Buckets) Len() int {
	n := 0
	for _, items := range b {
		n += len(items)
	}
	return n
}

// InvalidItemError describes a raw record excluded from the buckets
type InvalidItemError struct {
	Item types.RawItem
	Err  error
}

func (e *InvalidItemError) Error() string {
	return fmt.Sprintf("%v: category=%q product=%q version=%q", e.Err, e.Item.Category, e.Item.Product, e.Item.VersionString())
}

func (e *InvalidItemError) Unwrap() error {
	return e.Err
}

// Result is the outcome of normalizing a raw inventory
type Result struct {
	Buckets  Buckets
	Rejected []*InvalidItemError
}

// Issues converts rejected records into report issues
func (r Result) Issues() []types.ReportIssue {
	var issues []types.ReportIssue
	for _, rej := range r.Rejected {
		kind := types.IssueInvalidItem
		if errors.Is(rej, ErrUnknownCategory) {
			kind = types.IssueUnknownCategory
		}
		issues = append(issues, types.ReportIssue{Kind: kind, Message: rej.Error()})
	}
	return issues
}

// NewBuckets returns buckets with an empty sequence for every known category
func NewBuckets() Buckets {
	b := make(Buckets, len(types.KnownCategories))
	for _, c := range types.KnownCategories {
		b[c] = []types.InventoryItem{}
	}
	return b
}

// Normalize buckets raw records by category and drops exact duplicates
func Normalize(raw []types.RawItem) Result {
	result := Result{Buckets: NewBuckets()}
	seen := make(map[types.InventoryItem]struct{}, len(raw))

	for _, r := range raw {
		category := types.ParseCategory(r.Category)
		if category == types.CategoryUnknown {
			result.Rejected = append(result.Rejected, &InvalidItemError{Item: r, Err: ErrUnknownCategory})
			continue
		}

		product := strings.TrimSpace(r.Product)
		if product == "" {
			result.Rejected = append(result.Rejected, &InvalidItemError{Item: r, Err: ErrEmptyProduct})
			continue
		}

		item := types.InventoryItem{
			Category: category,
			Product:  product,
			Version:  r.VersionString(),
		}
		if _, dup := seen[item]; dup {
			continue
		}
		seen[item] = struct{}{}
		result.Buckets[category] = append(result.Buckets[category], item)
	}

	return result
}

// ParseDependency parses an extractor dependency string of the form "lang#product#version"
func ParseDependency(s string) (types.RawItem, error) {
	parts := strings.Split(strings.TrimSpace(s), "#")
	if len(parts) < 2 || len(parts) > 3 {
		return types.RawItem{}, fmt.Errorf("%w: %q", ErrInvalidFormat, s)
	}

	item := types.RawItem{Category: parts[0], Product: parts[1]}
	if len(parts) == 3 && parts[2] != "" {
		version := parts[2]
		item.Version = &version
	}
	return item, nil
}

// WithCategory returns a copy of items where records without a category get the given one
func WithCategory(items []types.RawItem, category types.Category) []types.RawItem {
	out := make([]types.RawItem, len(items))
	for i, item := range items {
		if strings.TrimSpace(item.Category) == "" {
			item.Category = category.String()
		}
		out[i] = item
	}
	return out
}
