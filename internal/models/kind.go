// Package models holds the three prediction variants and the registry that
// loads their artifacts on demand.
//
// The variants do not share an input shape. The rule variant refines the
// naive summed rain for tomorrow, the prophet variant needs a calendar date
// plus that baseline, and the xgboost variant consumes the full feature
// vector. Variant is a tagged union so callers dispatch explicitly on Kind.
package models

import (
	"fmt"
	"strings"
)

// Kind names a prediction variant.
type Kind string

const (
	KindRule    Kind = "rule"
	KindProphet Kind = "prophet"
	KindXGBoost Kind = "xgboost"
)

// Kinds lists every variant in evaluation and comparison order.
var Kinds = []Kind{KindRule, KindProphet, KindXGBoost}

// ParseKind resolves a case-insensitive variant name.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	switch k {
	case KindRule, KindProphet, KindXGBoost:
		return k, nil
	}
	return "", fmt.Errorf("unknown model variant %q (want one of rule, prophet, xgboost)", s)
}

// NeedsArtifact reports whether the variant is loaded from a file.
func (k Kind) NeedsArtifact() bool {
	return k != KindRule
}

func (k Kind) String() string {
	return string(k)
}

// DisplayName is the human-facing variant name used in messages.
func (k Kind) DisplayName() string {
	switch k {
	case KindRule:
		return "Rule"
	case KindProphet:
		return "Prophet"
	case KindXGBoost:
		return "XGBoost"
	}
	return string(k)
}
