package models

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"cloud.google.com/go/civil"

	"dryday/internal/features"
)

// Variant is a loaded model. Exactly one arm, selected by Kind, is set.
// Variants are immutable after load and safe for concurrent use.
type Variant struct {
	Kind    Kind
	Rule    *RuleModel
	Prophet *ProphetModel
	XGBoost *XGBoostModel
}

// RuleModel has no learned parameters.
type RuleModel struct{}

// Predict returns the naive summed rain for tomorrow unchanged.
func (RuleModel) Predict(naiveTotalMM float64) float64 {
	return naiveTotalMM
}

// ProphetInput is the prophet variant's input: the target date and the
// naive summed rain forecast for it.
type ProphetInput struct {
	Date       civil.Date
	BaselineMM float64
}

// ProphetModel is a fitted additive time-series model exported as its
// components: a linear trend, yearly Fourier terms and a weight blending
// the model's estimate with the forecast baseline.
type ProphetModel struct {
	Origin         civil.Date
	Intercept      float64
	Slope          float64
	PeriodDays     float64
	Fourier        []FourierTerm
	BaselineWeight float64
	Floor          float64
}

// FourierTerm holds the cosine (A) and sine (B) coefficients of one harmonic.
type FourierTerm struct {
	A float64 `json:"a"`
	B float64 `json:"b"`
}

// Predict blends the seasonal estimate for in.Date with in.BaselineMM and
// clips the result at Floor.
func (m *ProphetModel) Predict(in ProphetInput) float64 {
	t := float64(in.Date.DaysSince(m.Origin))

	est := m.Intercept + m.Slope*t
	for i, term := range m.Fourier {
		x := 2 * math.Pi * float64(i+1) * t / m.PeriodDays
		est += term.A*math.Cos(x) + term.B*math.Sin(x)
	}

	pred := m.BaselineWeight*in.BaselineMM + (1-m.BaselineWeight)*est
	return math.Max(pred, m.Floor)
}

// XGBoostModel is a gradient-boosted regression ensemble read from an
// XGBoost JSON tree dump.
type XGBoostModel struct {
	BaseScore    float64
	FeatureNames []string
	Trees        []Tree
}

// Tree is one regression tree; nodes are addressed by id and Root is the
// id of the first node in the dump.
type Tree struct {
	Root  int
	Nodes map[int]Node
}

// Node is a split or a leaf. Split nodes send x < Threshold to Yes, other
// values to No and NaN to Missing.
type Node struct {
	Leaf      bool
	Value     float64
	Feature   string
	Threshold float64
	Yes       int
	No        int
	Missing   int
}

// ErrFeatureSchema is returned when a tree splits on a feature the input
// vector does not provide.
var ErrFeatureSchema = errors.New("feature schema mismatch")

// Predict sums the base score and the leaf reached in every tree.
func (m *XGBoostModel) Predict(v features.Vector) (float64, error) {
	sum := m.BaseScore
	for i, tree := range m.Trees {
		leaf, err := m.walk(tree, v)
		if err != nil {
			return 0, fmt.Errorf("tree %d: %w", i, err)
		}
		sum += leaf
	}
	return sum, nil
}

func (m *XGBoostModel) walk(tree Tree, v features.Vector) (float64, error) {
	id := tree.Root
	// Load-time validation guarantees children are reached in fewer steps
	// than there are nodes.
	for range len(tree.Nodes) {
		n := tree.Nodes[id]
		if n.Leaf {
			return n.Value, nil
		}

		x, err := v.Value(m.featureName(n.Feature))
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrFeatureSchema, err)
		}

		switch {
		case math.IsNaN(x):
			id = n.Missing
		case x < n.Threshold:
			id = n.Yes
		default:
			id = n.No
		}
	}
	return 0, fmt.Errorf("tree walk did not reach a leaf")
}

// featureName maps positional split names (f0, f1, ...) onto the model's
// recorded feature names when it has them.
func (m *XGBoostModel) featureName(split string) string {
	rest, ok := strings.CutPrefix(split, "f")
	if !ok || len(m.FeatureNames) == 0 {
		return split
	}
	if i, err := strconv.Atoi(rest); err == nil && i >= 0 && i < len(m.FeatureNames) {
		return m.FeatureNames[i]
	}
	return split
}
