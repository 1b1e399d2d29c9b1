package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"hapied/internal/catalog"
	"hapied/internal/common/fsutil"
	"hapied/internal/config"
	"hapied/internal/hardware"
	"hapied/internal/httpapi"
	"hapied/internal/infer"
	"hapied/internal/policy"
	"hapied/internal/pull"
	"hapied/internal/registry"
	"hapied/pkg/types"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string
	cfg := config.Config{
		Addr:               envStr("HAPIED_ADDR", ":11435"),
		ModelsDir:          envStr("HAPIED_MODELS_DIR", ""),
		StorePath:          envStr("HAPIED_STORE", ""),
		MaxConcurrentPulls: envInt("HAPIED_MAX_PULLS", 2),
		PullChunkBytes:     envInt("HAPIED_PULL_CHUNK_BYTES", 0),
		PullRateLimitBytes: envInt("HAPIED_PULL_RATE_LIMIT", 0),
		LlamaServerURL:     envStr("HAPIED_LLAMA_URL", ""),
		BaseModel:          envStr("HAPIED_BASE_MODEL", ""),
		LogLevel:           envStr("HAPIED_LOG_LEVEL", "info"),
		CORSEnabled:        envBool("HAPIED_CORS_ENABLED", false),
		CORSOrigins:        splitCSV(envStr("HAPIED_CORS_ORIGINS", "")),
	}

	root := &cobra.Command{
		Use:           "hapied",
		Short:         "Local inference model lifecycle daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfgPath != "" {
				fileCfg, err := config.Load(cfgPath)
				if err != nil {
					return err
				}
				cfg = overlay(fileCfg, cfg, cmd)
			}
			return serve(cfg)
		},
	}

	f := root.Flags()
	f.StringVar(&cfgPath, "config", envStr("HAPIED_CONFIG", ""), "Path to a yaml/json/toml config file")
	f.StringVar(&cfg.Addr, "addr", cfg.Addr, "HTTP listen address, e.g. :11435")
	f.StringVar(&cfg.ModelsDir, "models-dir", cfg.ModelsDir, "Directory holding *.gguf weight files")
	f.StringVar(&cfg.StorePath, "store", cfg.StorePath, "Path of the sqlite registry database")
	f.Float64Var(&cfg.HeadroomFraction, "headroom", cfg.HeadroomFraction, "Memory headroom fraction reserved by the policy engine")
	f.IntVar(&cfg.MaxConcurrentPulls, "max-pulls", cfg.MaxConcurrentPulls, "Maximum concurrent downloads (0 = unbounded)")
	f.IntVar(&cfg.PullChunkBytes, "pull-chunk-bytes", cfg.PullChunkBytes, "Download chunk size in bytes (0 = default)")
	f.IntVar(&cfg.PullRateLimitBytes, "pull-rate-limit", cfg.PullRateLimitBytes, "Download bandwidth cap in bytes/sec (0 = unlimited)")
	f.StringVar(&cfg.LlamaServerURL, "llama-url", cfg.LlamaServerURL, "Base URL of a llama.cpp server for local chat")
	f.StringVar(&cfg.BaseModel, "base-model", cfg.BaseModel, "Catalog model registered as the protected base model")
	f.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug|info|warn|error")
	f.BoolVar(&cfg.CORSEnabled, "cors", cfg.CORSEnabled, "Enable CORS for browser clients")
	f.StringSliceVar(&cfg.CORSOrigins, "cors-origins", cfg.CORSOrigins, "Allowed CORS origins")

	return root
}

// overlay merges a config file under flag/env values: a field from the
// file wins only when the corresponding flag was left untouched.
func overlay(file, flags config.Config, cmd *cobra.Command) config.Config {
	out := file
	changed := cmd.Flags().Changed
	if changed("addr") || out.Addr == "" {
		out.Addr = flags.Addr
	}
	if changed("models-dir") || out.ModelsDir == "" {
		out.ModelsDir = flags.ModelsDir
	}
	if changed("store") || out.StorePath == "" {
		out.StorePath = flags.StorePath
	}
	if changed("headroom") || out.HeadroomFraction == 0 {
		out.HeadroomFraction = flags.HeadroomFraction
	}
	if changed("max-pulls") || out.MaxConcurrentPulls == 0 {
		out.MaxConcurrentPulls = flags.MaxConcurrentPulls
	}
	if changed("pull-chunk-bytes") || out.PullChunkBytes == 0 {
		out.PullChunkBytes = flags.PullChunkBytes
	}
	if changed("pull-rate-limit") || out.PullRateLimitBytes == 0 {
		out.PullRateLimitBytes = flags.PullRateLimitBytes
	}
	if changed("llama-url") || out.LlamaServerURL == "" {
		out.LlamaServerURL = flags.LlamaServerURL
	}
	if changed("base-model") || out.BaseModel == "" {
		out.BaseModel = flags.BaseModel
	}
	if changed("log-level") || out.LogLevel == "" {
		out.LogLevel = flags.LogLevel
	}
	if changed("cors") {
		out.CORSEnabled = flags.CORSEnabled
	}
	if changed("cors-origins") || len(out.CORSOrigins) == 0 {
		out.CORSOrigins = flags.CORSOrigins
	}
	return out
}

func serve(cfg config.Config) error {
	log := newLogger(cfg.LogLevel)

	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	stateDir := filepath.Join(home, ".hapied")
	if cfg.ModelsDir == "" {
		cfg.ModelsDir = filepath.Join(stateDir, "models")
	}
	if cfg.StorePath == "" {
		cfg.StorePath = filepath.Join(stateDir, "models.db")
	}
	if expanded, err := fsutil.ExpandHome(cfg.ModelsDir); err == nil {
		cfg.ModelsDir = expanded
	}
	if expanded, err := fsutil.ExpandHome(cfg.StorePath); err == nil {
		cfg.StorePath = expanded
	}
	if !fsutil.PathExists(cfg.ModelsDir) {
		if err := os.MkdirAll(cfg.ModelsDir, 0o755); err != nil {
			log.Fatal().Err(err).Str("dir", cfg.ModelsDir).Msg("create models dir")
		}
	}

	store, err := registry.OpenStore(cfg.StorePath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.StorePath).Msg("open registry store")
	}
	defer store.Close()

	keys, err := infer.NewKeystore(filepath.Join(stateDir, "keys.json"))
	if err != nil {
		log.Fatal().Err(err).Msg("open keystore")
	}
	providers := infer.NewProviders()

	reg, err := registry.New(store,
		registry.WithLogger(log),
		registry.WithCloudValidator(cloudValidator(keys, providers)),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("load registry")
	}

	pipe := pull.New(reg, cfg.ModelsDir,
		pull.WithMaxConcurrent(cfg.MaxConcurrentPulls),
		pull.WithChunkBytes(cfg.PullChunkBytes),
		pull.WithRateLimit(cfg.PullRateLimitBytes),
		pull.WithLogger(log),
	)
	if err := pipe.SweepPartials(); err != nil {
		log.Warn().Err(err).Msg("sweep partial downloads")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Adopt weight files already on disk, then demote any pull rows a
	// previous process left behind.
	if seeds, err := registry.ScanDir(cfg.ModelsDir); err != nil {
		log.Warn().Err(err).Str("dir", cfg.ModelsDir).Msg("scan models dir")
	} else if err := reg.Seed(ctx, seeds); err != nil {
		log.Warn().Err(err).Msg("seed registry")
	}
	if err := reg.Reconcile(ctx, pipe.HasLiveJob); err != nil {
		log.Warn().Err(err).Msg("reconcile registry")
	}
	registerBaseModel(ctx, reg, cfg.BaseModel, log)

	prober := hardware.NewHostProber()
	engine := policy.New(cfg.HeadroomFraction)
	local := localEngine(cfg, engine, prober)

	httpapi.SetLogger(log)
	httpapi.SetBaseContext(ctx)
	httpapi.SetCORSOptions(cfg.CORSEnabled, cfg.CORSOrigins,
		[]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		[]string{"Accept", "Content-Type", "X-Log-Level"},
	)

	server := httpapi.NewServer(reg, pipe,
		httpapi.WithPolicyEngine(engine),
		httpapi.WithProber(prober),
		httpapi.WithLocalEngine(local),
		httpapi.WithProviders(providers),
		httpapi.WithKeystore(keys),
	)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.NewMux(server),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Str("models_dir", cfg.ModelsDir).Msg("hapied listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown")
	}
	return nil
}

// localEngine picks the runtime for local weight chat: an external
// llama.cpp server when configured, the in-process binding otherwise.
func localEngine(cfg config.Config, engine *policy.Engine, prober hardware.Prober) infer.Engine {
	if cfg.LlamaServerURL != "" {
		return infer.NewLlamaServer(cfg.LlamaServerURL)
	}
	pol := engine.Compute(prober.Probe(), types.ModelProfile{Kind: types.KindLocalWeight})
	return infer.NewLlamaCgo(pol)
}

// cloudValidator checks the stored key against the provider before a
// cloud model goes active.
func cloudValidator(keys *infer.Keystore, providers *infer.Providers) registry.CloudValidator {
	return func(ctx context.Context, m types.Model) error {
		provider := types.CloudProvider(m.Provider)
		cp, err := providers.Get(provider)
		if err != nil {
			return err
		}
		key, err := keys.Fetch(provider)
		if err != nil {
			return err
		}
		return cp.ValidateKey(ctx, key)
	}
}

// registerBaseModel pins the configured catalog model as protected.
func registerBaseModel(ctx context.Context, reg *registry.Registry, id string, log zerolog.Logger) {
	if id == "" {
		return
	}
	entry, ok := catalog.Get(id)
	if !ok {
		log.Warn().Str("model", id).Msg("base model not in catalog")
		return
	}
	if _, err := reg.Get(id); err == nil {
		return
	}
	profile := entry.Profile()
	profile.IsBaseModel = true
	if _, err := reg.Register(ctx, profile); err != nil {
		log.Warn().Err(err).Str("model", id).Msg("register base model")
	}
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()
}

func envStr(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

func envInt(name string, def int) int {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envBool(name string, def bool) bool {
	if v := os.Getenv(name); v != "" {
		return v == "1" || strings.EqualFold(v, "true")
	}
	return def
}

// splitCSV splits a comma separated list, trimming whitespace and
// dropping empty items.
func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
