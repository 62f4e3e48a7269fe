package main

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"hls-packager/internal/orchestrator"
	"hls-packager/internal/platform/config"
	"hls-packager/internal/platform/logger"
	"hls-packager/internal/platform/metrics"
	"hls-packager/internal/stream"

	"github.com/spf13/cobra"
)

// settings is the process configuration, seeded from the environment and
// overridable by flags.
type settings struct {
	port           string
	logLevel       string
	logFormat      string
	packageRoot    string
	uploadDir      string
	maxUploadBytes int64
	parallelism    int
	ffmpegPath     string
	timeout        time.Duration
	retainSource   bool
	jobDBPath      string
	chunkSize      int64
	ladder         string
}

func loadSettings() *settings {
	_ = config.Load()

	return &settings{
		port:           config.GetEnv("PORT", "8080"),
		logLevel:       config.GetEnv("LOG_LEVEL", "info"),
		logFormat:      config.GetEnv("LOG_FORMAT", "json"),
		packageRoot:    config.GetEnv("PACKAGE_ROOT", "videos/hls"),
		uploadDir:      config.GetEnv("UPLOAD_DIR", "videos/uploads"),
		maxUploadBytes: config.GetEnvBytes("MAX_UPLOAD_SIZE", orchestrator.DefaultMaxUploadBytes),
		parallelism:    config.GetEnvInt("ENCODE_PARALLELISM", runtime.NumCPU()),
		ffmpegPath:     config.GetEnv("FFMPEG_PATH", "ffmpeg"),
		timeout:        config.GetEnvDuration("TRANSCODE_TIMEOUT", 30*time.Minute),
		retainSource:   config.GetEnvBool("RETAIN_SOURCE", false),
		jobDBPath:      config.GetEnv("JOB_DB_PATH", ""),
		chunkSize:      int64(config.GetEnvInt("RANGE_CHUNK_SIZE", int(stream.DefaultChunkSize))),
		ladder:         config.GetEnv("HLS_LADDER", ""),
	}
}

func newRootCommand() *cobra.Command {
	s := loadSettings()

	root := &cobra.Command{
		Use:           "hls-packager",
		Short:         "Package uploaded videos as adaptive HLS and serve them",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&s.logLevel, "log-level", s.logLevel, "log level: debug, info, warn, error")
	flags.StringVar(&s.logFormat, "log-format", s.logFormat, "log format: json or text")
	flags.StringVar(&s.packageRoot, "package-root", s.packageRoot, "directory holding published packages")
	flags.IntVar(&s.parallelism, "parallelism", s.parallelism, "concurrent rendition encodes per job")
	flags.StringVar(&s.ffmpegPath, "ffmpeg", s.ffmpegPath, "path to the ffmpeg binary")
	flags.DurationVar(&s.timeout, "timeout", s.timeout, "maximum duration of one transcode job")
	flags.StringVar(&s.jobDBPath, "job-db", s.jobDBPath, "SQLite job database (empty keeps jobs in memory)")
	flags.StringVar(&s.ladder, "ladder", s.ladder, "rendition ladder as name:WxH:kbps,... (empty uses the default)")

	root.AddCommand(newServeCommand(s), newTranscodeCommand(s))
	return root
}

// buildService wires the write path shared by serve and transcode. The
// returned closer releases the job store.
func buildService(s *settings, log *slog.Logger, met *metrics.Metrics) (*orchestrator.Service, func(), error) {
	ladder, err := orchestrator.ParseLadder(s.ladder)
	if err != nil {
		return nil, nil, err
	}

	repo := orchestrator.NewInMemoryRepository()
	closer := func() {}
	if s.jobDBPath != "" {
		store, err := orchestrator.OpenSQLiteStore(s.jobDBPath)
		if err != nil {
			return nil, nil, err
		}
		repo = orchestrator.NewRepositoryWithStore(store)
		closer = func() {
			if err := store.Close(); err != nil {
				log.Warn("close job store failed", slog.String("error", err.Error()))
			}
		}
	}

	enc := orchestrator.NewFFmpegEncoder(s.ffmpegPath, logger.Component(log, "encoder"))
	svc, err := orchestrator.NewService(orchestrator.Config{
		Root:         s.packageRoot,
		Ladder:       ladder,
		Parallelism:  s.parallelism,
		Timeout:      s.timeout,
		RetainSource: s.retainSource,
	}, enc, repo, log, met)
	if err != nil {
		closer()
		return nil, nil, err
	}
	if n, err := svc.RecoverInterrupted(context.Background()); err != nil {
		log.Warn("recover interrupted jobs failed", slog.String("error", err.Error()))
	} else if n > 0 {
		log.Info("recovered interrupted jobs", slog.Int("failed", n))
	}
	return svc, closer, nil
}
