package detections

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"time"

	"github.com/Tutortoise/object-detection-service/models"
	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
	"github.com/sirupsen/logrus"
)

// Inferer is the part of Model the service depends on.
type Inferer interface {
	Infer(ctx context.Context, tensor *ImageTensor) ([]models.Detection, error)
}

// ServiceConfig is fixed at startup and shared read-only by all requests.
type ServiceConfig struct {
	Threshold float32
	FlagClass int
	// MaxDimension bounds the longest side fed to the model; 0 disables resizing.
	MaxDimension int
	// MaxPixels bounds width*height of a decoded upload; 0 means
	// DefaultMaxPixels.
	MaxPixels int
}

type Service struct {
	model Inferer
	cfg   ServiceConfig
	log   logrus.FieldLogger
}

func NewService(model Inferer, cfg ServiceConfig, log logrus.FieldLogger) *Service {
	if cfg.MaxPixels <= 0 {
		cfg.MaxPixels = DefaultMaxPixels
	}
	return &Service{model: model, cfg: cfg, log: log}
}

func (s *Service) Config() ServiceConfig { return s.cfg }

func (s *Service) Process(ctx context.Context, data []byte) (*models.DetectionResult, error) {
	return s.ProcessTimed(ctx, data, &models.ProcessingTimings{})
}

// ProcessTimed decodes data, runs it through the model and filters the
// result, recording stage durations into timings.
func (s *Service) ProcessTimed(ctx context.Context, data []byte, timings *models.ProcessingTimings) (*models.DetectionResult, error) {
	decodeStart := time.Now()
	if err := s.checkSize(data); err != nil {
		timings.ImageDecode = time.Since(decodeStart)
		return nil, err
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	timings.ImageDecode = time.Since(decodeStart)
	if err != nil {
		return nil, &DecodeError{Cause: err}
	}

	bounds := img.Bounds()
	result := &models.DetectionResult{
		Dimensions: models.Dimensions{Width: bounds.Dx(), Height: bounds.Dy()},
		Matches:    []models.Detection{},
	}

	if !hasColor(img) {
		s.log.WithField("color_model", ColorModelName(img.ColorModel())).Debug("image has no colour channels, skipping inference")
		return result, nil
	}

	if limit := s.cfg.MaxDimension; limit > 0 && (bounds.Dx() > limit || bounds.Dy() > limit) {
		resizeStart := time.Now()
		img = resize.Thumbnail(uint(limit), uint(limit), img, resize.Bilinear)
		timings.Resize = time.Since(resizeStart)
	}

	prepStart := time.Now()
	rgb, _ := ToRGB(img)
	tensorBounds := img.Bounds()
	tensor := Encode(rgb, tensorBounds.Dx(), tensorBounds.Dy())
	timings.Preprocess = time.Since(prepStart)

	inferStart := time.Now()
	detections, err := s.model.Infer(ctx, tensor)
	timings.Inference = time.Since(inferStart)
	if err != nil {
		return nil, err
	}

	postStart := time.Now()
	result.Matches = Apply(detections, s.cfg.Threshold)
	result.IsFlagged = IsFlagged(result.Matches, s.cfg.FlagClass)
	timings.Postprocess = time.Since(postStart)

	return result, nil
}

// checkSize reads only the image header so oversized uploads are rejected
// before any pixel buffer is allocated.
func (s *Service) checkSize(data []byte) error {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return &DecodeError{Cause: err}
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return &DecodeError{Cause: fmt.Errorf("image has empty dimensions %dx%d", cfg.Width, cfg.Height)}
	}
	if int64(cfg.Width)*int64(cfg.Height) > int64(s.cfg.MaxPixels) {
		return &DecodeError{Cause: fmt.Errorf("image %dx%d exceeds %d pixels", cfg.Width, cfg.Height, s.cfg.MaxPixels)}
	}
	return nil
}
