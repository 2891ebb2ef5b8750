// Package rank turns a confidence vector into the products shown to the user.
package rank

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/ayusman/produkscan/internal/classify"
)

// DefaultThreshold is the minimum confidence for a label to count as detected.
const DefaultThreshold = 0.1

// Presentation texts for the two outcomes that carry no products.
const (
	NoDetectionText  = "No product detected."
	InvalidImageText = "Invalid or empty image."
)

var (
	// ErrNoDetection means no label reached the threshold. It is an expected
	// outcome, not a failure.
	ErrNoDetection = errors.New("no product detected")
	// ErrInvalidMode is returned for a mode other than list or top1.
	ErrInvalidMode = errors.New("invalid result mode")
)

// Mode selects how many products a result presents.
type Mode string

const (
	// ModeList presents every product above the threshold.
	ModeList Mode = "list"
	// ModeTop1 presents only the most confident product.
	ModeTop1 Mode = "top1"
)

// ParseMode converts s to a Mode.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	if err := m.Validate(); err != nil {
		return "", err
	}
	return m, nil
}

// Validate reports ErrInvalidMode for an unknown mode.
func (m Mode) Validate() error {
	switch m {
	case ModeList, ModeTop1:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidMode, string(m))
	}
}

// Product is a label that reached the threshold.
type Product struct {
	Label      string  `json:"label"`
	Confidence float32 `json:"confidence"`
}

// String renders the product as "label (xx.xx%)".
func (p Product) String() string {
	return fmt.Sprintf("%s (%.2f%%)", p.Label, float64(p.Confidence)*100)
}

// Result is a ranked, thresholded set of products.
type Result struct {
	Mode     Mode      `json:"mode"`
	Products []Product `json:"products"`
}

// Top returns the most confident product.
func (r Result) Top() (Product, bool) {
	if len(r.Products) == 0 {
		return Product{}, false
	}
	return r.Products[0], true
}

// Text renders the result for display.
func (r Result) Text() string {
	if len(r.Products) == 0 {
		return NoDetectionText
	}
	if r.Mode == ModeTop1 {
		return "Detected product:\n" + r.Products[0].String()
	}

	lines := make([]string, len(r.Products))
	for i, p := range r.Products {
		lines[i] = p.String()
	}
	return fmt.Sprintf("Detected products:\n%s\nCount: %d", strings.Join(lines, "\n"), len(r.Products))
}

// Rank keeps the labels whose confidence is at least threshold, sorts them by
// confidence descending and keeps label order among equal confidences. In
// ModeTop1 only the first product is kept. When nothing reaches the
// threshold Rank returns an empty result of the requested mode together
// with ErrNoDetection.
func Rank(conf classify.Confidences, threshold float64, mode Mode) (Result, error) {
	if err := mode.Validate(); err != nil {
		return Result{}, err
	}
	if err := classify.CheckOutput(conf); err != nil {
		return Result{}, err
	}

	// Compared in float32 so a confidence equal to the threshold is kept.
	limit := float32(threshold)
	products := make([]Product, 0, len(conf))
	for i, c := range conf {
		if c >= limit {
			products = append(products, Product{Label: classify.Label(i), Confidence: c})
		}
	}

	slices.SortStableFunc(products, func(a, b Product) int {
		switch {
		case a.Confidence > b.Confidence:
			return -1
		case a.Confidence < b.Confidence:
			return 1
		default:
			return 0
		}
	})

	result := Result{Mode: mode, Products: products}
	if len(products) == 0 {
		return result, ErrNoDetection
	}
	if mode == ModeTop1 {
		result.Products = products[:1]
	}
	return result, nil
}
