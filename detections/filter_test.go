package detections_test

import (
	"testing"

	"github.com/Tutortoise/object-detection-service/detections"
	"github.com/Tutortoise/object-detection-service/models"
)

var sample = []models.Detection{
	{Class: 1, Score: 0.95},
	{Class: 6, Score: 0.8},
	{Class: 3, Score: 0.79},
	{Class: 6, Score: 0.2},
	{Class: 2, Score: 1},
	{Class: 4, Score: 0},
}

func TestApply_InclusiveBoundary(t *testing.T) {
	got := detections.Apply(sample, 0.8)
	want := []models.Detection{{Class: 1, Score: 0.95}, {Class: 6, Score: 0.8}, {Class: 2, Score: 1}}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("match %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestApply_Monotone(t *testing.T) {
	thresholds := []float32{0, 0.1, 0.2, 0.5, 0.79, 0.8, 0.95, 1}
	for i, lo := range thresholds {
		for _, hi := range thresholds[i:] {
			kept := make(map[models.Detection]bool)
			for _, d := range detections.Apply(sample, lo) {
				kept[d] = true
			}
			for _, d := range detections.Apply(sample, hi) {
				if !kept[d] {
					t.Fatalf("%+v kept at %v but dropped at %v", d, hi, lo)
				}
			}
		}
	}
}

func TestApply_EmptyIsNotNil(t *testing.T) {
	got := detections.Apply(nil, 0.5)
	if got == nil || len(got) != 0 {
		t.Fatalf("got %#v, want empty non-nil slice", got)
	}
}

func TestIsFlagged(t *testing.T) {
	tests := []struct {
		name      string
		threshold float32
		want      bool
	}{
		{"flag class survives", 0.8, true},
		{"flag class filtered out", 0.9, false},
		{"nothing survives", 1.1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := detections.IsFlagged(detections.Apply(sample, tt.threshold), detections.DefaultFlagClass)
			if got != tt.want {
				t.Fatalf("IsFlagged = %v, want %v", got, tt.want)
			}
		})
	}
	if detections.IsFlagged(nil, detections.DefaultFlagClass) {
		t.Fatalf("empty list must not be flagged")
	}
}
