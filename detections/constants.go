package detections

import "time"

const (
	DefaultInputName   = "image_tensor"
	DefaultScoresName  = "detection_scores"
	DefaultClassesName = "detection_classes"

	DefaultThreshold = 0.8
	// DefaultFlagClass is the "selfie" class id in the trained taxonomy.
	DefaultFlagClass = 6

	Channels = 3

	// DefaultPoolSize Pool configuration
	DefaultPoolSize       = 4
	MaxPoolSize           = 8
	DefaultAcquireTimeout = 5 * time.Second
	recentErrorsKept      = 10

	// DefaultMaxPixels caps width*height of an accepted upload (24 MP).
	DefaultMaxPixels = 24_000_000

	// Images with fewer pixels than this are packed on the calling goroutine.
	parallelPixelThreshold = 512 * 512
)
