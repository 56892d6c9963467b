package changeset

import (
	_ "crypto/sha256" // hash implementations for go-digest
	_ "crypto/sha512"
	"log/slog"

	"github.com/opencontainers/go-digest"
)

// PerformOption configures a Performer.
type PerformOption func(*performConfig)

type performConfig struct {
	logger    *slog.Logger
	progress  ProgressFunc
	digestAlg digest.Algorithm
}

// WithLogger sets the logger for perform operations.
// If not set, logging is disabled.
func WithLogger(logger *slog.Logger) PerformOption {
	return func(cfg *performConfig) {
		cfg.logger = logger
	}
}

// WithProgress sets a callback invoked after each entry is handled.
func WithProgress(fn ProgressFunc) PerformOption {
	return func(cfg *performConfig) {
		cfg.progress = fn
	}
}

// WithDigests enables content digests (sha256) for every written entry.
// Digests are reported through the progress callback.
func WithDigests(enabled bool) PerformOption {
	return func(cfg *performConfig) {
		if enabled {
			cfg.digestAlg = digest.Canonical
		} else {
			cfg.digestAlg = ""
		}
	}
}

// WithDigestAlgorithm enables content digests using alg.
// Unavailable algorithms disable digests.
func WithDigestAlgorithm(alg digest.Algorithm) PerformOption {
	return func(cfg *performConfig) {
		if !alg.Available() {
			alg = ""
		}
		cfg.digestAlg = alg
	}
}
