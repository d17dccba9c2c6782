package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"vidgend/internal/artifact"
	"vidgend/internal/capability"
	"vidgend/internal/config"
	"vidgend/internal/engine"
	"vidgend/internal/gateway"
	"vidgend/internal/httpapi"
	"vidgend/internal/pipeline"
	"vidgend/internal/registry"
	"vidgend/internal/residency"
	"vidgend/internal/scheduler"
	"vidgend/internal/validate"
)

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// splitCSV splits a comma-separated flag value, dropping empty entries.
func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseDevices(s string) []int {
	var out []int
	for _, p := range splitCSV(s) {
		if n, err := strconv.Atoi(p); err == nil {
			out = append(out, n)
		}
	}
	if len(out) == 0 {
		out = []int{0}
	}
	return out
}

func main() {
	// Flags with environment variable defaults
	addr := flag.String("addr", envOr("VIDGEND_ADDR", ":8000"), "HTTP listen address, e.g. :8000")
	checkpointDir := flag.String("checkpoint-dir", envOr("MODEL_PATH", "./models"), "Directory holding Wan2.2-* checkpoint directories")
	outputDir := flag.String("output-dir", envOr("OUTPUT_DIR", "./outputs"), "Directory for generated videos")
	defaultTask := flag.String("default-task", envOr("MODEL_TYPE", ""), "Default task when a request omits one")
	devicesFlag := flag.String("devices", envOr("DEVICE_ID", "0"), "Comma-separated accelerator device ids")
	maxResident := flag.Int("max-resident", envOrInt("VIDGEND_MAX_RESIDENT", 1), "Max models resident per device")
	memBudgetMB := flag.Int("mem-budget-mb", envOrInt("VIDGEND_MEM_BUDGET_MB", 0), "Memory budget in MB per device (0=unlimited)")
	memMarginMB := flag.Int("mem-margin-mb", envOrInt("VIDGEND_MEM_MARGIN_MB", 0), "Reserved memory margin in MB to keep free")
	queueDepth := flag.Int("queue-depth", envOrInt("VIDGEND_QUEUE_DEPTH", 0), "Admission queue depth (0=default)")
	jobTimeoutSec := flag.Int("job-timeout-sec", envOrInt("VIDGEND_JOB_TIMEOUT_SEC", 0), "Per-job deadline in seconds (0=default)")
	retentionSec := flag.Int("retention-sec", envOrInt("VIDGEND_RETENTION_SEC", 0), "Artifact retention in seconds (0=default)")
	runnerCmd := flag.String("runner", envOr("VIDGEND_RUNNER", "wan-runner"), "Model runner command line")
	ffmpegBin := flag.String("ffmpeg", envOr("VIDGEND_FFMPEG", "ffmpeg"), "Path to the ffmpeg binary")
	maxBodyMB := flag.Int("max-body-mb", envOrInt("VIDGEND_MAX_BODY_MB", 0), "Max upload size in MB (0=default)")
	logLevel := flag.String("log-level", envOr("VIDGEND_LOG_LEVEL", "info"), "Log level: debug, info, warn, error")
	configPath := flag.String("config", envOr("VIDGEND_CONFIG", ""), "Optional config file (.yaml/.json/.toml)")
	flag.Parse()

	log := zerolog.New(os.Stderr).With().Timestamp().Logger()
	if lvl, err := zerolog.ParseLevel(*logLevel); err == nil {
		log = log.Level(lvl)
	}

	// A config file fills in whatever the flags left unset.
	if *configPath != "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", *configPath).Msg("load config")
		}
		applyConfig(cfg, map[string]*string{
			"addr":           addr,
			"checkpoint-dir": checkpointDir,
			"output-dir":     outputDir,
			"default-task":   defaultTask,
			"runner":         runnerCmd,
			"ffmpeg":         ffmpegBin,
		}, map[string]*int{
			"max-resident":    maxResident,
			"mem-budget-mb":   memBudgetMB,
			"mem-margin-mb":   memMarginMB,
			"queue-depth":     queueDepth,
			"job-timeout-sec": jobTimeoutSec,
			"retention-sec":   retentionSec,
			"max-body-mb":     maxBodyMB,
		}, devicesFlag)
		if cfg.LogLevel != "" {
			if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
				log = log.Level(lvl)
			}
		}
		httpapi.SetCORSOptions(cfg.CORSEnabled, cfg.CORSAllowedOrigins, cfg.CORSAllowedMethods, cfg.CORSAllowedHeaders)
	}

	reg, err := capability.NewRegistry(capability.TaskID(*defaultTask))
	if err != nil {
		log.Fatal().Err(err).Msg("capability registry")
	}
	catalog, err := registry.LoadDir(*checkpointDir, reg)
	if err != nil {
		log.Fatal().Err(err).Str("dir", *checkpointDir).Msg("scan checkpoints")
	}
	if len(catalog.Tasks()) == 0 {
		log.Warn().Str("dir", *checkpointDir).Msg("no checkpoints found; serving will fail readiness")
	}

	loader, err := engine.NewSubprocessLoader(engine.SubprocessConfig{
		Command: strings.Fields(*runnerCmd),
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("engine loader")
	}

	devices := parseDevices(*devicesFlag)
	managers := make([]*residency.Manager, 0, len(devices))
	for _, d := range devices {
		managers = append(managers, residency.New(residency.Config{
			Device:      d,
			MaxResident: *maxResident,
			BudgetMB:    *memBudgetMB,
			MarginMB:    *memMarginMB,
		}, catalog, loader, log))
	}

	store, err := artifactStore(*outputDir, *retentionSec, log)
	if err != nil {
		log.Fatal().Err(err).Str("dir", *outputDir).Msg("artifact store")
	}

	pipe := pipeline.New(&pipeline.FFmpegEncoder{Bin: *ffmpegBin}, store, log)

	sched := scheduler.New(scheduler.Config{
		QueueDepth: *queueDepth,
		JobTimeout: time.Duration(*jobTimeoutSec) * time.Second,
	}, managers, pipe, log)
	sched.Start()

	validator := validate.New(reg, validate.DefaultLimits())
	gw := gateway.New(reg, catalog, validator, sched, store, managers, log)

	baseCtx, cancelBase := context.WithCancel(context.Background())
	httpapi.SetBaseContext(baseCtx)
	httpapi.SetLogger(log)
	if *maxBodyMB > 0 {
		httpapi.SetMaxBodyBytes(int64(*maxBodyMB) << 20)
	}

	srv := &http.Server{Addr: *addr, Handler: httpapi.NewMux(gw)}

	go func() {
		log.Info().Str("addr", *addr).Str("checkpoints", *checkpointDir).Msg("vidgend listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Graceful shutdown (Ctrl+C / SIGTERM)
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Info().Msg("shutting down")

	cancelBase()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown")
	}
	if err := sched.Close(); err != nil {
		log.Warn().Err(err).Msg("scheduler close")
	}
	for _, m := range managers {
		if err := m.Close(); err != nil {
			log.Warn().Err(err).Msg("residency close")
		}
	}
	if err := store.Close(); err != nil {
		log.Warn().Err(err).Msg("store close")
	}
}

func artifactStore(dir string, retentionSec int, log zerolog.Logger) (*artifact.Store, error) {
	return artifact.New(dir, time.Duration(retentionSec)*time.Second, log)
}

// applyConfig copies config file values into flags that were not set
// explicitly on the command line.
func applyConfig(cfg config.Config, strs map[string]*string, ints map[string]*int, devicesFlag *string) {
	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	fileStr := map[string]string{
		"addr":           cfg.Addr,
		"checkpoint-dir": cfg.CheckpointDir,
		"output-dir":     cfg.OutputDir,
		"default-task":   cfg.DefaultTask,
		"runner":         cfg.RunnerCommand,
		"ffmpeg":         cfg.FFmpegBin,
	}
	for name, dst := range strs {
		if v := fileStr[name]; v != "" && !set[name] {
			*dst = v
		}
	}
	fileInt := map[string]int{
		"max-resident":    cfg.MaxResident,
		"mem-budget-mb":   cfg.MemBudgetMB,
		"mem-margin-mb":   cfg.MemMarginMB,
		"queue-depth":     cfg.QueueDepth,
		"job-timeout-sec": cfg.JobTimeoutSec,
		"retention-sec":   cfg.RetentionSec,
		"max-body-mb":     cfg.MaxBodyMB,
	}
	for name, dst := range ints {
		if v := fileInt[name]; v != 0 && !set[name] {
			*dst = v
		}
	}
	if len(cfg.Devices) > 0 && !set["devices"] {
		parts := make([]string, len(cfg.Devices))
		for i, d := range cfg.Devices {
			parts[i] = strconv.Itoa(d)
		}
		*devicesFlag = strings.Join(parts, ",")
	}
}
