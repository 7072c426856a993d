package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	ahsp "github.com/mladen5000/strain-ahsp"
	"github.com/mladen5000/strain-ahsp/blobstore"
	minioblob "github.com/mladen5000/strain-ahsp/blobstore/minio"
	s3blob "github.com/mladen5000/strain-ahsp/blobstore/s3"
	"github.com/mladen5000/strain-ahsp/codec"
	promcollector "github.com/mladen5000/strain-ahsp/metrics/prometheus"
	"github.com/mladen5000/strain-ahsp/resource"
	"github.com/mladen5000/strain-ahsp/signature"
	"github.com/mladen5000/strain-ahsp/source"
	"github.com/mladen5000/strain-ahsp/source/ncbi"
	"github.com/mladen5000/strain-ahsp/store"
)

// envPrefix prefixes the environment variables that mirror the flags,
// e.g. AHSP_DB_PATH for --db-path.
const envPrefix = "AHSP"

type cli struct {
	v      *viper.Viper
	out    io.Writer
	logger *ahsp.Logger

	newSource func(ahsp.Config, *resource.Controller) (source.Source, error)
}

func newRootCmd(out io.Writer) *cobra.Command {
	c := &cli{v: viper.New(), out: out, newSource: ncbiSource}
	return c.rootCmd()
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:               "ahsp",
		Short:             "Build and query a strain-level reference signature database",
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.setup,
	}
	root.SetOut(c.out)

	f := root.PersistentFlags()
	f.String("config", "", "config file (yaml, toml or json)")
	f.StringP("db-path", "d", "ahsp_db", "signature database file")
	f.StringP("cache-dir", "c", "genome_cache", "genome cache directory of the local cache backend")
	f.StringP("api-key", "a", "", "NCBI API key")
	f.IntP("threads", "t", 4, "worker threads")
	f.Duration("fetch-timeout", 60*time.Second, "timeout of each provider call")
	f.Int64("memory-limit", 0, "bytes of raw sequence held while sketching, 0 for no limit")
	f.Int64("download-limit", 0, "genome download rate in bytes per second, 0 for no limit")
	f.Duration("cache-ttl", 0, "re-download cached genomes older than this, 0 to keep them forever")
	f.String("cache-backend", "local", "genome cache backend: local, s3 or minio")
	f.String("cache-bucket", "", "bucket of the s3 or minio cache")
	f.String("cache-prefix", "genomes/", "key prefix of the s3 or minio cache")
	f.String("minio-endpoint", "", "minio endpoint host:port")
	f.String("minio-access-key", "", "minio access key")
	f.String("minio-secret-key", "", "minio secret key")
	f.Bool("minio-secure", true, "use TLS for minio")
	f.String("compression", "zstd", "compression of new records: none, zstd or lz4")
	f.String("metadata-codec", "go-json", "encoder of cache entries and the schema document: go-json or json")
	f.String("log-level", "warn", "log level: debug, info, warn or error")
	f.String("log-format", "text", "log format: text or json")
	f.String("metrics-addr", "", "serve Prometheus metrics on this address, e.g. :2112")

	c.v.SetEnvPrefix(envPrefix)
	c.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	c.v.AutomaticEnv()

	root.AddCommand(
		c.initCmd(),
		c.addReferencesCmd(),
		c.listReferencesCmd(),
		c.searchCmd(),
		c.removeCmd(),
		c.compareCmd(),
		c.classifyCmd(),
		c.statsCmd(),
	)
	return root
}

func (c *cli) setup(cmd *cobra.Command, _ []string) error {
	if err := c.v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	if path := c.v.GetString("config"); path != "" {
		c.v.SetConfigFile(path)
		if err := c.v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(c.v.GetString("log-level"))); err != nil {
		return fmt.Errorf("invalid --log-level: %w", err)
	}
	switch format := c.v.GetString("log-format"); format {
	case "text", "":
		c.logger = ahsp.NewLogger(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	case "json":
		c.logger = ahsp.NewLogger(slog.NewJSONHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	default:
		return fmt.Errorf("invalid --log-format %q", format)
	}
	return nil
}

// config assembles the manager configuration from flags, environment and
// config file. Signature parameters are left to the caller.
func (c *cli) config() ahsp.Config {
	cfg := ahsp.DefaultConfig()
	cfg.DBPath = c.v.GetString("db-path")
	cfg.CacheDir = c.v.GetString("cache-dir")
	cfg.Threads = c.v.GetInt("threads")
	cfg.FetchTimeout = c.v.GetDuration("fetch-timeout")
	cfg.MemoryLimitBytes = c.v.GetInt64("memory-limit")
	cfg.CacheTTL = c.v.GetDuration("cache-ttl")
	if key := strings.TrimSpace(c.v.GetString("api-key")); key != "" {
		cfg.APIKey = &key
	}
	return cfg
}

// resolveParams picks the signature parameters of a command that writes.
// Flags that were set win; otherwise an existing database supplies them, and
// a new one gets the defaults.
func (c *cli) resolveParams(cfg *ahsp.Config) error {
	p := signature.DefaultParams()
	if stored, ok, err := c.storedParams(cfg.DBPath); err != nil {
		return err
	} else if ok {
		p = stored
	}
	if c.v.IsSet("macro-k") {
		p.MacroK = c.v.GetInt("macro-k")
	}
	if c.v.IsSet("meso-k") {
		p.MesoK = c.v.GetInt("meso-k")
	}
	if c.v.IsSet("sketch-size") {
		p.SketchSize = c.v.GetInt("sketch-size")
	}
	cfg.MacroK, cfg.MesoK, cfg.SketchSize = p.MacroK, p.MesoK, p.SketchSize
	return nil
}

func (c *cli) storedParams(path string) (signature.Params, bool, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return signature.Params{}, false, nil
	}
	db, err := store.Open(path, store.WithReadOnly())
	if err != nil {
		return signature.Params{}, false, err
	}
	defer db.Close()
	return db.Params()
}

func ncbiSource(cfg ahsp.Config, rc *resource.Controller) (source.Source, error) {
	return ncbi.New(func(o *ncbi.Options) {
		o.APIKey = cfg.APIKey
		if cfg.FetchTimeout > 0 {
			o.Timeout = cfg.FetchTimeout
		}
		o.Tool = "ahsp"
		o.Resources = rc
	})
}

// openManager wires the configured cache backend, the resource controller,
// the NCBI client and, when --metrics-addr is set, a Prometheus endpoint.
// The returned function closes all of them.
func (c *cli) openManager(ctx context.Context, cfg ahsp.Config, extra ...ahsp.Option) (*ahsp.Manager, func(), error) {
	comp, err := codec.ParseCompression(c.v.GetString("compression"))
	if err != nil {
		return nil, nil, err
	}
	meta, ok := codec.ByName(c.v.GetString("metadata-codec"))
	if !ok {
		return nil, nil, fmt.Errorf("unknown --metadata-codec %q", c.v.GetString("metadata-codec"))
	}
	threads := cfg.Threads
	if threads < 1 {
		threads = 1
	}
	rc := resource.NewController(resource.Config{
		MemoryLimitBytes:     cfg.MemoryLimitBytes,
		MaxConcurrentFetches: int64(threads),
		IOLimitBytesPerSec:   c.v.GetInt64("download-limit"),
	})
	src, err := c.newSource(cfg, rc)
	if err != nil {
		return nil, nil, err
	}

	opts := []ahsp.Option{
		ahsp.WithLogger(c.logger),
		ahsp.WithResourceController(rc),
		ahsp.WithCompression(comp),
		ahsp.WithCodec(meta),
	}
	cache, err := c.cacheStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	if cache != nil {
		opts = append(opts, ahsp.WithCache(cache))
	}
	mc, stopMetrics, err := c.serveMetrics()
	if err != nil {
		return nil, nil, err
	}
	if mc != nil {
		opts = append(opts, ahsp.WithMetricsCollector(mc))
	}

	m, err := ahsp.New(cfg, src, append(opts, extra...)...)
	if err != nil {
		stopMetrics()
		return nil, nil, err
	}
	return m, func() {
		if err := m.Close(); err != nil {
			c.logger.Warn("close database", "error", err)
		}
		stopMetrics()
	}, nil
}

// cacheStore returns the remote genome cache, or nil for the local one,
// which the manager opens under --cache-dir.
func (c *cli) cacheStore(ctx context.Context) (blobstore.BlobStore, error) {
	backend := strings.ToLower(c.v.GetString("cache-backend"))
	bucket := c.v.GetString("cache-bucket")
	prefix := c.v.GetString("cache-prefix")
	switch backend {
	case "", "local":
		return nil, nil
	case "s3":
		if bucket == "" {
			return nil, errors.New("--cache-bucket is required for the s3 cache")
		}
		return s3blob.New(ctx, bucket, prefix)
	case "minio":
		if bucket == "" {
			return nil, errors.New("--cache-bucket is required for the minio cache")
		}
		client, err := minio.New(c.v.GetString("minio-endpoint"), &minio.Options{
			Creds:  credentials.NewStaticV4(c.v.GetString("minio-access-key"), c.v.GetString("minio-secret-key"), ""),
			Secure: c.v.GetBool("minio-secure"),
		})
		if err != nil {
			return nil, fmt.Errorf("minio client: %w", err)
		}
		return minioblob.NewStore(client, bucket, prefix), nil
	default:
		return nil, fmt.Errorf("unknown --cache-backend %q", backend)
	}
}

// serveMetrics starts the Prometheus endpoint. Without --metrics-addr it
// returns a nil collector and a no-op stop function.
func (c *cli) serveMetrics() (ahsp.MetricsCollector, func(), error) {
	addr := c.v.GetString("metrics-addr")
	if addr == "" {
		return nil, func() {}, nil
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	mc, err := promcollector.New(reg)
	if err != nil {
		return nil, nil, err
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.logger.Error("metrics server", "error", err)
		}
	}()
	c.logger.Info("serving metrics", "addr", ln.Addr().String())

	return mc, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

// openDB opens an existing database for a read-only command.
func (c *cli) openDB() (*store.DB, error) {
	path := c.v.GetString("db-path")
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("database %s: %w", path, err)
	}
	return store.Open(path, store.WithReadOnly())
}
