package models

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/singleflight"
)

// ErrVariantUnavailable means the variant's artifact is missing or could not
// be loaded. Callers surface it as not-found.
var ErrVariantUnavailable = errors.New("model variant unavailable")

// ErrNoArtifact is returned by Install for variants that are not file-backed.
var ErrNoArtifact = errors.New("variant has no artifact")

// ErrArtifactTooLarge is returned by Install when the upload exceeds the limit.
var ErrArtifactTooLarge = errors.New("artifact exceeds size limit")

var ruleVariant = &Variant{Kind: KindRule, Rule: &RuleModel{}}

// VariantStatus reports whether a variant can currently serve predictions.
type VariantStatus struct {
	Kind      Kind   `json:"variant"`
	Available bool   `json:"available"`
	Path      string `json:"path,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Registry loads variant artifacts lazily and caches successful loads.
// Failed loads are not cached so an artifact written later is picked up.
type Registry struct {
	dir    string
	files  map[Kind]string
	logger *slog.Logger

	group singleflight.Group

	mu    sync.RWMutex
	cache map[Kind]*Variant
	// gen counts installs per kind. A disk load that started before an
	// install must not overwrite the installed variant.
	gen map[Kind]uint64

	// afterRead runs between reading and caching an artifact. Tests only.
	afterRead func(Kind)
}

// NewRegistry creates a registry reading artifacts from dir. files maps each
// artifact-backed kind to its file name inside dir.
func NewRegistry(dir string, files map[Kind]string, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	named := make(map[Kind]string, len(files))
	for k, v := range files {
		named[k] = v
	}
	return &Registry{
		dir:    dir,
		files:  named,
		logger: logger,
		cache:  make(map[Kind]*Variant),
		gen:    make(map[Kind]uint64),
	}
}

// Path returns the artifact path for kind, or "" when kind has none.
func (r *Registry) Path(kind Kind) string {
	name, ok := r.files[kind]
	if !ok || !kind.NeedsArtifact() {
		return ""
	}
	return filepath.Join(r.dir, name)
}

// Load returns the variant for kind. The rule variant is always available.
// Any failure wraps ErrVariantUnavailable.
func (r *Registry) Load(ctx context.Context, kind Kind) (*Variant, error) {
	if kind == KindRule {
		return ruleVariant, nil
	}

	r.mu.RLock()
	v, ok := r.cache[kind]
	r.mu.RUnlock()
	if ok {
		return v, nil
	}

	ch := r.group.DoChan(string(kind), func() (any, error) {
		return r.loadFromDisk(kind)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Variant), nil
	}
}

func (r *Registry) loadFromDisk(kind Kind) (*Variant, error) {
	path := r.Path(kind)
	if path == "" {
		return nil, fmt.Errorf("%w: no artifact configured for %s", ErrVariantUnavailable, kind)
	}

	r.mu.RLock()
	startGen := r.gen[kind]
	r.mu.RUnlock()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s artifact not found", ErrVariantUnavailable, kind)
		}
		return nil, fmt.Errorf("%w: read %s: %v", ErrVariantUnavailable, kind, err)
	}

	v, err := Decode(kind, data)
	if err != nil {
		r.logger.Warn("model artifact rejected", "variant", kind, "path", path, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrVariantUnavailable, err)
	}

	if r.afterRead != nil {
		r.afterRead(kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gen[kind] != startGen {
		if installed, ok := r.cache[kind]; ok {
			r.logger.Info("model load superseded by install", "variant", kind)
			return installed, nil
		}
		return v, nil
	}
	r.cache[kind] = v

	r.logger.Info("model loaded", "variant", kind, "path", path)
	return v, nil
}

// Install validates src as an artifact for kind and atomically replaces the
// file on disk, then swaps the cached variant. The previous artifact stays
// in place if validation fails.
func (r *Registry) Install(kind Kind, src io.Reader, maxBytes int64) (string, error) {
	path := r.Path(kind)
	if path == "" {
		return "", fmt.Errorf("%w: %s", ErrNoArtifact, kind)
	}

	data, err := io.ReadAll(io.LimitReader(src, maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return "", fmt.Errorf("%w: %d bytes", ErrArtifactTooLarge, maxBytes)
	}

	v, err := Decode(kind, data)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return "", fmt.Errorf("create model dir: %w", err)
	}
	tmp, err := os.CreateTemp(r.dir, "."+string(kind)+"-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp artifact: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write temp artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close temp artifact: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return "", fmt.Errorf("install artifact: %w", err)
	}

	r.mu.Lock()
	r.cache[kind] = v
	r.gen[kind]++
	r.mu.Unlock()
	r.group.Forget(string(kind))

	r.logger.Info("model installed", "variant", kind, "path", path, "bytes", len(data))
	return path, nil
}

// Reset drops every cached variant.
func (r *Registry) Reset() {
	r.mu.Lock()
	r.cache = make(map[Kind]*Variant)
	r.mu.Unlock()
}

// Status attempts to load every variant and reports the outcome in Kinds order.
func (r *Registry) Status(ctx context.Context) []VariantStatus {
	out := make([]VariantStatus, 0, len(Kinds))
	for _, k := range Kinds {
		st := VariantStatus{Kind: k, Path: r.Path(k)}
		if _, err := r.Load(ctx, k); err != nil {
			st.Error = err.Error()
		} else {
			st.Available = true
		}
		out = append(out, st)
	}
	return out
}
