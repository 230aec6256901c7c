package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"cloud.google.com/go/civil"
	"github.com/klauspost/compress/zstd"
)

// Artifact format identifiers carried in the "format" field.
const (
	FormatProphet = "prophet-components"
	FormatXGBoost = "xgboost-json-dump"
)

const (
	defaultPeriodDays     = 365.25
	defaultBaselineWeight = 0.5
)

// ErrInvalidArtifact wraps every decode and validation failure.
var ErrInvalidArtifact = errors.New("invalid model artifact")

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

var decoderPool = sync.Pool{
	New: func() any {
		d, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
		if err != nil {
			panic(fmt.Sprintf("failed to create zstd decoder: %v", err))
		}
		return d
	},
}

// maybeDecompress inflates zstd frames and passes anything else through.
func maybeDecompress(data []byte) ([]byte, error) {
	if !bytes.HasPrefix(data, zstdMagic) {
		return data, nil
	}
	dec := decoderPool.Get().(*zstd.Decoder)
	defer decoderPool.Put(dec)

	out, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompression failed: %w", err)
	}
	return out, nil
}

// Compress zstd-encodes an artifact. Decode accepts the result as-is.
func Compress(data []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(data, nil), nil
}

// Decode parses and validates an artifact for kind. data may be plain JSON
// or a zstd frame. All failures wrap ErrInvalidArtifact.
func Decode(kind Kind, data []byte) (*Variant, error) {
	raw, err := maybeDecompress(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArtifact, err)
	}

	var head struct {
		Format string `json:"format"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArtifact, err)
	}

	switch kind {
	case KindProphet:
		if head.Format != FormatProphet {
			return nil, fmt.Errorf("%w: format %q is not %q", ErrInvalidArtifact, head.Format, FormatProphet)
		}
		m, err := decodeProphet(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArtifact, err)
		}
		return &Variant{Kind: kind, Prophet: m}, nil
	case KindXGBoost:
		if head.Format != FormatXGBoost {
			return nil, fmt.Errorf("%w: format %q is not %q", ErrInvalidArtifact, head.Format, FormatXGBoost)
		}
		m, err := decodeXGBoost(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArtifact, err)
		}
		return &Variant{Kind: kind, XGBoost: m}, nil
	default:
		return nil, fmt.Errorf("%w: variant %q has no artifact", ErrInvalidArtifact, kind)
	}
}

type prophetDoc struct {
	Origin         civil.Date    `json:"origin"`
	Intercept      float64       `json:"intercept"`
	Slope          float64       `json:"slope"`
	PeriodDays     float64       `json:"period_days"`
	Fourier        []FourierTerm `json:"fourier"`
	BaselineWeight *float64      `json:"baseline_weight"`
	Floor          float64       `json:"floor"`
}

func decodeProphet(raw []byte) (*ProphetModel, error) {
	var doc prophetDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	if !doc.Origin.IsValid() {
		return nil, errors.New("origin date is required")
	}
	if doc.PeriodDays < 0 {
		return nil, fmt.Errorf("period_days must be positive, got %v", doc.PeriodDays)
	}
	if doc.PeriodDays == 0 {
		doc.PeriodDays = defaultPeriodDays
	}
	w := defaultBaselineWeight
	if doc.BaselineWeight != nil {
		w = *doc.BaselineWeight
	}
	if w < 0 || w > 1 {
		return nil, fmt.Errorf("baseline_weight must be within [0, 1], got %v", w)
	}

	return &ProphetModel{
		Origin:         doc.Origin,
		Intercept:      doc.Intercept,
		Slope:          doc.Slope,
		PeriodDays:     doc.PeriodDays,
		Fourier:        doc.Fourier,
		BaselineWeight: w,
		Floor:          doc.Floor,
	}, nil
}

type xgbDoc struct {
	BaseScore    float64    `json:"base_score"`
	FeatureNames []string   `json:"feature_names"`
	Trees        []dumpNode `json:"trees"`
}

// dumpNode is one node of XGBoost's nested JSON dump.
type dumpNode struct {
	NodeID         int        `json:"nodeid"`
	Leaf           *float64   `json:"leaf"`
	Split          string     `json:"split"`
	SplitCondition float64    `json:"split_condition"`
	Yes            int        `json:"yes"`
	No             int        `json:"no"`
	Missing        *int       `json:"missing"`
	Children       []dumpNode `json:"children"`
}

func decodeXGBoost(raw []byte) (*XGBoostModel, error) {
	var doc xgbDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	if len(doc.Trees) == 0 {
		return nil, errors.New("ensemble has no trees")
	}

	m := &XGBoostModel{
		BaseScore:    doc.BaseScore,
		FeatureNames: doc.FeatureNames,
		Trees:        make([]Tree, 0, len(doc.Trees)),
	}
	for i, root := range doc.Trees {
		tree := Tree{Root: root.NodeID, Nodes: make(map[int]Node)}
		if err := flatten(root, tree.Nodes); err != nil {
			return nil, fmt.Errorf("tree %d: %w", i, err)
		}
		m.Trees = append(m.Trees, tree)
	}
	return m, nil
}

// flatten copies n and its descendants into nodes, checking that every
// split routes only to its own children.
func flatten(n dumpNode, nodes map[int]Node) error {
	if _, dup := nodes[n.NodeID]; dup {
		return fmt.Errorf("duplicate node id %d", n.NodeID)
	}

	if n.Leaf != nil {
		if len(n.Children) > 0 {
			return fmt.Errorf("leaf node %d has children", n.NodeID)
		}
		nodes[n.NodeID] = Node{Leaf: true, Value: *n.Leaf}
		return nil
	}

	if n.Split == "" {
		return fmt.Errorf("node %d is neither a leaf nor a split", n.NodeID)
	}
	missing := n.Yes
	if n.Missing != nil {
		missing = *n.Missing
	}

	children := make(map[int]bool, len(n.Children))
	for _, c := range n.Children {
		children[c.NodeID] = true
	}
	for _, target := range []int{n.Yes, n.No, missing} {
		if !children[target] {
			return fmt.Errorf("node %d routes to %d which is not one of its children", n.NodeID, target)
		}
	}

	nodes[n.NodeID] = Node{
		Feature:   n.Split,
		Threshold: n.SplitCondition,
		Yes:       n.Yes,
		No:        n.No,
		Missing:   missing,
	}
	for _, c := range n.Children {
		if err := flatten(c, nodes); err != nil {
			return err
		}
	}
	return nil
}
