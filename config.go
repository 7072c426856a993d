package ahsp

import (
	"fmt"
	"strings"
	"time"

	"github.com/mladen5000/strain-ahsp/errkind"
	"github.com/mladen5000/strain-ahsp/signature"
)

// Config holds the construction parameters of a Manager. It is fixed once
// the Manager is built.
type Config struct {
	// DBPath is the signature database file.
	DBPath string
	// CacheDir holds one cached sequence per accession. Not used when a
	// cache is supplied with WithCache.
	CacheDir string

	// MacroK and MesoK are the k-mer lengths of the two resolutions.
	MacroK int
	MesoK  int
	// SketchSize is the bottom-k size of both sketches.
	SketchSize int

	// Threads bounds concurrent fetches and sketch construction.
	Threads int

	// APIKey is the optional provider API key.
	APIKey *string

	// MemoryLimitBytes caps raw sequence bytes held while sketching. 0 is unlimited.
	MemoryLimitBytes int64

	// FetchTimeout bounds each provider call. 0 disables the bound.
	FetchTimeout time.Duration

	// CacheTTL expires cached genomes older than this. 0 keeps them forever.
	CacheTTL time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	p := signature.DefaultParams()
	return Config{
		DBPath:       "ahsp_db",
		CacheDir:     "genome_cache",
		MacroK:       p.MacroK,
		MesoK:        p.MesoK,
		SketchSize:   p.SketchSize,
		Threads:      4,
		FetchTimeout: 60 * time.Second,
	}
}

// Params returns the signature parameters.
func (c Config) Params() signature.Params {
	return signature.Params{MacroK: c.MacroK, MesoK: c.MesoK, SketchSize: c.SketchSize}
}

// Validate checks every constraint on the configuration.
func (c Config) Validate() error {
	const op = "ahsp.config"
	invalid := func(format string, args ...any) error {
		return errkind.New(errkind.InvalidParameters, op, fmt.Sprintf(format, args...), nil)
	}
	if strings.TrimSpace(c.DBPath) == "" {
		return invalid("database path is required")
	}
	if err := c.Params().Validate(); err != nil {
		return errkind.Wrap(errkind.InvalidParameters, op, err)
	}
	if c.Threads < 1 {
		return invalid("threads must be at least 1, got %d", c.Threads)
	}
	if c.MemoryLimitBytes < 0 {
		return invalid("memory limit must not be negative")
	}
	if c.FetchTimeout < 0 {
		return invalid("fetch timeout must not be negative")
	}
	if c.CacheTTL < 0 {
		return invalid("cache ttl must not be negative")
	}
	return nil
}
