//go:build !tensorflow
// +build !tensorflow

package detections

import "errors"

func NewTensorFlowBackend() (Backend, error) {
	return nil, errors.New("tensorflow backend not compiled in; rebuild with -tags tensorflow")
}
