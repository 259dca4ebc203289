package models

import "time"

// Detection is one (class, score) candidate produced by the model.
type Detection struct {
	Class int     `json:"class"`
	Score float32 `json:"score"`
}

type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// DetectionResult is the per-image outcome returned to callers.
type DetectionResult struct {
	Dimensions Dimensions  `json:"dimensions"`
	Matches    []Detection `json:"matches"`
	IsFlagged  bool        `json:"is_flagged"`
}

type ProcessingTimings struct {
	RequestID   string
	ImageDecode time.Duration
	Resize      time.Duration
	Preprocess  time.Duration
	Inference   time.Duration
	Postprocess time.Duration
	Total       time.Duration
}
