package detections

import "github.com/Tutortoise/object-detection-service/models"

// Apply keeps the detections whose score is at least threshold, in input order.
func Apply(detections []models.Detection, threshold float32) []models.Detection {
	matches := make([]models.Detection, 0, len(detections))
	for _, d := range detections {
		if d.Score >= threshold {
			matches = append(matches, d)
		}
	}
	return matches
}

func IsFlagged(detections []models.Detection, flagClass int) bool {
	for _, d := range detections {
		if d.Class == flagClass {
			return true
		}
	}
	return false
}
