package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Tutortoise/object-detection-service/detections/detectionstest"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
)

func TestRunBatch(t *testing.T) {
	svc, _ := newTestService(t, detectionstest.Fixed([]float32{0.95, 0.4}, []float32{6, 1}), 0.8)

	dir := t.TempDir()
	files := map[string][]byte{
		"a.png":    blackPNG(t, 10, 10),
		"b.txt":    []byte("not an image"),
		"c.png":    blackPNG(t, 3, 5),
		"empty.jp": {},
	}
	for name, data := range files {
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "nested"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "nested", "d.png"), blackPNG(t, 2, 2), 0o644); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	summary, err := runBatch(context.Background(), dir, svc, &out, quietLogger())
	if err != nil {
		t.Fatalf("runBatch: %v", err)
	}
	if summary.Processed != 2 || summary.Flagged != 2 || summary.Failed != 2 {
		t.Fatalf("summary = %+v", summary)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("output lines = %q", lines)
	}
	wantA := "path: " + filepath.Join(dir, "a.png") + ", color_type: rgba, dimensions: 10x10, matches: [{class: 6, score: 0.9500}], selfie: true"
	if lines[0] != wantA {
		t.Fatalf("line 0 = %q, want %q", lines[0], wantA)
	}
	if !strings.Contains(lines[1], "dimensions: 3x5") {
		t.Fatalf("line 1 = %q", lines[1])
	}
}

func TestRunBatch_MissingDir(t *testing.T) {
	svc, _ := newTestService(t, detectionstest.Fixed(nil, nil), 0.8)
	_, err := runBatch(context.Background(), filepath.Join(t.TempDir(), "missing"), svc, &bytes.Buffer{}, quietLogger())
	if err == nil {
		t.Fatalf("expected error for missing directory")
	}
}

func TestRunBatch_Cancelled(t *testing.T) {
	svc, _ := newTestService(t, detectionstest.Fixed(nil, nil), 0.8)
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.png"), blackPNG(t, 2, 2), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var out bytes.Buffer
	summary, err := runBatch(ctx, dir, svc, &out, quietLogger())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if summary.Processed != 0 || out.Len() != 0 {
		t.Fatalf("processed files after cancellation: %+v %q", summary, out.String())
	}
}

func TestRunBatch_LogsTotalTime(t *testing.T) {
	svc, _ := newTestService(t, detectionstest.Fixed([]float32{0.9}, []float32{1}), 0.5)
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.png"), blackPNG(t, 6, 6), 0o644); err != nil {
		t.Fatal(err)
	}

	log, hook := logtest.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	if _, err := runBatch(context.Background(), dir, svc, io.Discard, log); err != nil {
		t.Fatalf("runBatch: %v", err)
	}

	for _, entry := range hook.AllEntries() {
		if entry.Message != "processing times" {
			continue
		}
		total, _ := entry.Data["total"].(time.Duration)
		decode, _ := entry.Data["decode"].(time.Duration)
		if total <= 0 || total < decode {
			t.Fatalf("total = %v, decode = %v", total, decode)
		}
		return
	}
	t.Fatal("no timings logged")
}

func TestColorType(t *testing.T) {
	if got := colorType(blackPNG(t, 2, 2)); got != "rgba" {
		t.Errorf("colorType(png) = %q, want rgba", got)
	}
	if got := colorType([]byte("nope")); got != "unknown" {
		t.Errorf("colorType(garbage) = %q, want unknown", got)
	}
}
