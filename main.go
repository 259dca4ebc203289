package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Tutortoise/object-detection-service/config"
	"github.com/Tutortoise/object-detection-service/detections"
	"github.com/sirupsen/logrus"
)

var (
	configPath = flag.String("config", "", "JSON configuration file")
	modelPath  = flag.String("model", "", "frozen graph file (required)")
	imageDir   = flag.String("image_dir", "", "image directory to scan and detect; serve over HTTP when empty")
	threshold  = flag.Float64("threshold", detections.DefaultThreshold, "minimum score for a match (inclusive)")
	addr       = flag.String("addr", "", "HTTP listen address")
	engine     = flag.String("engine", "", "inference engine: onnx or tensorflow")
	libPath    = flag.String("lib", "", "onnxruntime shared library path")
	poolSize   = flag.Int("pool", 0, "number of inference sessions")
	debug      = flag.Bool("debug", false, "enable debug logging")
)

func newLogger(debug bool) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	log.SetOutput(os.Stderr)
	if debug {
		log.SetLevel(logrus.DebugLevel)
	}
	return log
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "model":
			cfg.ModelPath = *modelPath
		case "threshold":
			cfg.Threshold = *threshold
		case "addr":
			cfg.Addr = *addr
		case "engine":
			cfg.Engine = *engine
		case "lib":
			cfg.LibraryPath = *libPath
		case "pool":
			cfg.PoolSize = *poolSize
		case "debug":
			cfg.Debug = *debug
		}
	})

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func main() {
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), MsgUsage)
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		newLogger(false).Fatalf("Invalid configuration: %v", err)
	}
	log := newLogger(cfg.Debug)

	if err := run(cfg, log); err != nil {
		log.Fatal(err)
	}
}

func run(cfg *config.Config, log *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, cleanup, err := newBackend(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize %s engine: %w", cfg.Engine, err)
	}
	defer cleanup()

	log.Infof("Loading model from: %s", cfg.ModelPath)
	model, err := detections.LoadModel(cfg.ModelPath, backend, cfg.ModelOptions())
	if err != nil {
		if errors.Is(err, detections.ErrModelNotFound) {
			return fmt.Errorf("%w; check the -model flag or MODEL_PATH", err)
		}
		return err
	}
	defer model.Close()

	log.WithFields(logrus.Fields{
		"engine":    model.Backend(),
		"sessions":  model.Stats().Size,
		"threshold": cfg.Threshold,
		"bindings":  model.Bindings(),
	}).Info("Model loaded")

	service := detections.NewService(model, cfg.ServiceConfig(), log)

	if *imageDir != "" {
		summary, err := runBatch(ctx, *imageDir, service, os.Stdout, log)
		log.WithFields(logrus.Fields{
			"processed": summary.Processed,
			"flagged":   summary.Flagged,
			"failed":    summary.Failed,
		}).Info("Batch finished")
		return err
	}

	state := &AppState{
		Processor:      service,
		Stats:          model.Stats,
		MaxUploadBytes: cfg.MaxUploadBytes,
		Log:            log,
	}
	srv := &http.Server{
		Handler:      newRouter(state),
		Addr:         cfg.Addr,
		ReadTimeout:  cfg.ReadTimeout.Std(),
		WriteTimeout: cfg.WriteTimeout.Std(),
	}
	return serve(ctx, srv, log)
}
