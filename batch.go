package main

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Tutortoise/object-detection-service/detections"
	"github.com/Tutortoise/object-detection-service/models"
	"github.com/sirupsen/logrus"
)

type BatchSummary struct {
	Processed int
	Flagged   int
	Failed    int
}

// runBatch processes the regular files of dir one after another, writing one
// line per image to out. Unreadable or undecodable files are logged and
// skipped; only an unreadable directory or cancellation stops the walk.
func runBatch(ctx context.Context, dir string, proc Processor, out io.Writer, log logrus.FieldLogger) (BatchSummary, error) {
	var summary BatchSummary

	entries, err := os.ReadDir(dir)
	if err != nil {
		return summary, fmt.Errorf("read image directory: %w", err)
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if !entry.Type().IsRegular() {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		fileLog := log.WithField("path", path)

		start := time.Now()
		data, err := os.ReadFile(path)
		if err != nil {
			fileLog.WithError(err).Warn("skipping unreadable file")
			summary.Failed++
			continue
		}

		timings := &models.ProcessingTimings{RequestID: entry.Name()}
		result, err := proc.ProcessTimed(ctx, data, timings)
		if err != nil {
			fileLog.WithError(err).Warn("skipping file")
			summary.Failed++
			continue
		}
		timings.Total = time.Since(start)
		logTimings(fileLog, timings)

		summary.Processed++
		if result.IsFlagged {
			summary.Flagged++
		}
		fmt.Fprintf(out, "path: %s, color_type: %s, dimensions: %dx%d, matches: %s, selfie: %t\n",
			path, colorType(data), result.Dimensions.Width, result.Dimensions.Height, formatMatches(result.Matches), result.IsFlagged)
	}

	return summary, nil
}

// colorType names the colour model declared in the image header.
func colorType(data []byte) string {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "unknown"
	}
	return detections.ColorModelName(cfg.ColorModel)
}

func formatMatches(matches []models.Detection) string {
	parts := make([]string, len(matches))
	for i, m := range matches {
		parts[i] = fmt.Sprintf("{class: %d, score: %.4f}", m.Class, m.Score)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
