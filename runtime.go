package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/Tutortoise/object-detection-service/config"
	"github.com/Tutortoise/object-detection-service/detections"
	"github.com/sirupsen/logrus"
	ort "github.com/yalue/onnxruntime_go"
	"golang.org/x/sys/cpu"
)

// newBackend prepares the configured inference engine and returns it with a
// cleanup func to run after the model is closed.
func newBackend(cfg *config.Config, log logrus.FieldLogger) (detections.Backend, func(), error) {
	logCPUFeatures(log)

	if cfg.Engine == config.EngineTensorFlow {
		backend, err := detections.NewTensorFlowBackend()
		if err != nil {
			return nil, nil, err
		}
		return backend, func() {}, nil
	}

	libPath, err := resolveLibraryPath(cfg.LibraryPath)
	if err != nil {
		return nil, nil, err
	}
	if libPath != "" {
		log.Infof("Using onnxruntime library %s", libPath)
		ort.SetSharedLibraryPath(libPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}

	cleanup := func() {
		if err := ort.DestroyEnvironment(); err != nil {
			log.WithError(err).Warn("failed to destroy ONNX environment")
		}
	}
	return detections.NewONNXBackend(cfg.IntraOpThreads, cfg.InterOpThreads), cleanup, nil
}

// resolveLibraryPath validates an explicit library path, or looks for the
// platform library under ./lib. An empty result leaves the onnxruntime_go
// default in place.
func resolveLibraryPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("onnxruntime library not found: %s", explicit)
		}
		return filepath.Abs(explicit)
	}

	candidate := filepath.Join("lib", libraryName())
	if _, err := os.Stat(candidate); err == nil {
		return filepath.Abs(candidate)
	}
	return "", nil
}

func libraryName() string {
	switch runtime.GOOS {
	case "darwin":
		return "libonnxruntime.dylib"
	case "windows":
		return "onnxruntime.dll"
	default:
		return "libonnxruntime.so"
	}
}

func logCPUFeatures(log logrus.FieldLogger) {
	fields := logrus.Fields{"goos": runtime.GOOS, "goarch": runtime.GOARCH, "cpus": runtime.NumCPU()}
	switch runtime.GOARCH {
	case "amd64", "386":
		fields["avx2"] = cpu.X86.HasAVX2
		fields["avx512"] = cpu.X86.HasAVX512
		fields["sse41"] = cpu.X86.HasSSE41
	case "arm64":
		fields["asimd"] = cpu.ARM64.HasASIMD
	}
	log.WithFields(fields).Debug("cpu features")
}
