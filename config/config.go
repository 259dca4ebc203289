package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/Tutortoise/object-detection-service/detections"
	"github.com/spf13/cast"
)

// Config holds the process-wide settings. It is built once at startup from
// defaults, an optional JSON file, the environment and command-line flags,
// in that order, and never modified afterwards.
type Config struct {
	Debug bool `json:"debug"`

	// Model
	ModelPath      string `json:"model_path"`
	Engine         string `json:"engine"`
	LibraryPath    string `json:"onnxruntime_lib"`
	InputName      string `json:"input_name"`
	ScoresName     string `json:"scores_name"`
	ClassesName    string `json:"classes_name"`
	PoolSize       int    `json:"pool_size"`
	IntraOpThreads int    `json:"intra_op_threads"`
	InterOpThreads int    `json:"inter_op_threads"`

	// Detection
	Threshold    float64 `json:"threshold"`
	FlagClass    int     `json:"flag_class"`
	MaxDimension int     `json:"max_dimension"`
	MaxPixels    int     `json:"max_pixels"`

	// HTTP
	Addr           string   `json:"addr"`
	MaxUploadBytes int64    `json:"max_upload_bytes"`
	AcquireTimeout Duration `json:"acquire_timeout"`
	ReadTimeout    Duration `json:"read_timeout"`
	WriteTimeout   Duration `json:"write_timeout"`
}

const (
	EngineONNX       = "onnx"
	EngineTensorFlow = "tensorflow"
)

// DefaultConfig returns a Config populated with standard defaults.
func DefaultConfig() *Config {
	return &Config{
		Engine:         EngineONNX,
		InputName:      detections.DefaultInputName,
		ScoresName:     detections.DefaultScoresName,
		ClassesName:    detections.DefaultClassesName,
		PoolSize:       defaultPoolSize(),
		IntraOpThreads: 1,
		InterOpThreads: 1,
		Threshold:      detections.DefaultThreshold,
		FlagClass:      detections.DefaultFlagClass,
		MaxPixels:      detections.DefaultMaxPixels,
		Addr:           "127.0.0.1:8080",
		MaxUploadBytes: 32 << 20,
		AcquireTimeout: Duration(detections.DefaultAcquireTimeout),
		ReadTimeout:    Duration(60 * time.Second),
		WriteTimeout:   Duration(60 * time.Second),
	}
}

func defaultPoolSize() int {
	n := runtime.NumCPU()
	if n > detections.MaxPoolSize {
		n = detections.MaxPoolSize
	}
	return n
}

// Load reads configuration from the given JSON file path on top of the
// defaults. An empty path yields the defaults; a named file must exist.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables. lookup is usually
// os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := cast.ToIntE(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := cast.ToDurationE(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = Duration(d)
		}
	}

	str("MODEL_PATH", &c.ModelPath)
	str("ENGINE", &c.Engine)
	str("ONNXRUNTIME_LIB", &c.LibraryPath)
	str("ADDR", &c.Addr)
	num("FLAG_CLASS", &c.FlagClass)
	num("MAX_DIMENSION", &c.MaxDimension)
	num("MAX_PIXELS", &c.MaxPixels)
	num("POOL_SIZE", &c.PoolSize)
	dur("ACQUIRE_TIMEOUT", &c.AcquireTimeout)

	if v, ok := lookup("THRESHOLD"); ok && v != "" {
		t, err := cast.ToFloat64E(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("THRESHOLD: %w", err))
		} else {
			c.Threshold = t
		}
	}
	if v, ok := lookup("MAX_UPLOAD_BYTES"); ok && v != "" {
		n, err := cast.ToInt64E(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("MAX_UPLOAD_BYTES: %w", err))
		} else {
			c.MaxUploadBytes = n
		}
	}
	if v, ok := lookup("DEBUG"); ok && v != "" {
		b, err := cast.ToBoolE(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("DEBUG: %w", err))
		} else {
			c.Debug = b
		}
	}
	return errors.Join(errs...)
}

// Validate rejects values that cannot be served and fills zero values with
// defaults.
func (c *Config) Validate() error {
	if c.ModelPath == "" {
		return errors.New("model path is required")
	}
	if c.Threshold < 0 || c.Threshold > 1 {
		return fmt.Errorf("threshold %v out of range [0,1]", c.Threshold)
	}
	switch c.Engine {
	case EngineONNX, EngineTensorFlow:
	default:
		return fmt.Errorf("unknown engine %q", c.Engine)
	}
	if c.MaxDimension < 0 {
		return fmt.Errorf("max dimension %d must not be negative", c.MaxDimension)
	}
	if c.MaxPixels < 0 {
		return fmt.Errorf("max pixels %d must not be negative", c.MaxPixels)
	}
	if c.MaxPixels == 0 {
		c.MaxPixels = detections.DefaultMaxPixels
	}
	if c.PoolSize <= 0 {
		c.PoolSize = defaultPoolSize()
	}
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = 32 << 20
	}
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = Duration(detections.DefaultAcquireTimeout)
	}
	if c.InputName == "" {
		c.InputName = detections.DefaultInputName
	}
	if c.ScoresName == "" {
		c.ScoresName = detections.DefaultScoresName
	}
	if c.ClassesName == "" {
		c.ClassesName = detections.DefaultClassesName
	}
	return nil
}

// ModelOptions derives the detections.Options for LoadModel.
func (c *Config) ModelOptions() detections.Options {
	return detections.Options{
		Bindings: detections.Bindings{
			Input:   c.InputName,
			Scores:  c.ScoresName,
			Classes: c.ClassesName,
		},
		PoolSize:       c.PoolSize,
		AcquireTimeout: c.AcquireTimeout.Std(),
	}
}

func (c *Config) ServiceConfig() detections.ServiceConfig {
	return detections.ServiceConfig{
		Threshold:    float32(c.Threshold),
		FlagClass:    c.FlagClass,
		MaxDimension: c.MaxDimension,
		MaxPixels:    c.MaxPixels,
	}
}

// Duration is a time.Duration written as "5s" in JSON.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	parsed, err := cast.ToDurationE(v)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}
