// Package detectionstest provides an in-memory inference backend for tests.
package detectionstest

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/Tutortoise/object-detection-service/detections"
)

// GraphMagic prefixes every graph file the fake backend accepts.
var GraphMagic = []byte("fake-graph\n")

var ErrBadGraph = errors.New("not a fake graph")

// RunFunc computes the outputs for one tensor.
type RunFunc func(tensor *detections.ImageTensor) (detections.Outputs, error)

// Backend implements detections.Backend. Executors call Run; NewExecutor
// fails with ExecutorErr when set.
type Backend struct {
	Run         RunFunc
	ExecutorErr error

	created   atomic.Int64
	destroyed atomic.Int64
	runs      atomic.Int64
}

func NewBackend(run RunFunc) *Backend {
	return &Backend{Run: run}
}

// Fixed returns a backend whose every run yields the given outputs.
func Fixed(scores, classes []float32) *Backend {
	return NewBackend(func(*detections.ImageTensor) (detections.Outputs, error) {
		return detections.Outputs{
			Scores:  append([]float32(nil), scores...),
			Classes: append([]float32(nil), classes...),
		}, nil
	})
}

func (b *Backend) Name() string { return "fake" }

func (b *Backend) Import(data []byte, _ detections.Bindings) (detections.Graph, error) {
	if !bytes.HasPrefix(data, GraphMagic) {
		return nil, ErrBadGraph
	}
	return &graph{backend: b}, nil
}

func (b *Backend) Created() int64   { return b.created.Load() }
func (b *Backend) Destroyed() int64 { return b.destroyed.Load() }
func (b *Backend) Runs() int64      { return b.runs.Load() }

type graph struct {
	backend *Backend
}

func (g *graph) NewExecutor() (detections.Executor, error) {
	if g.backend.ExecutorErr != nil {
		return nil, g.backend.ExecutorErr
	}
	g.backend.created.Add(1)
	return &executor{backend: g.backend}, nil
}

func (g *graph) Destroy() error { return nil }

type executor struct {
	backend *Backend
	inUse   atomic.Bool
}

func (e *executor) Run(tensor *detections.ImageTensor) (detections.Outputs, error) {
	if !e.inUse.CompareAndSwap(false, true) {
		return detections.Outputs{}, errors.New("executor used concurrently")
	}
	defer e.inUse.Store(false)

	e.backend.runs.Add(1)
	if e.backend.Run == nil {
		return detections.Outputs{}, nil
	}
	return e.backend.Run(tensor)
}

func (e *executor) Destroy() error {
	e.backend.destroyed.Add(1)
	return nil
}

// WriteGraph writes a graph file the fake backend accepts into dir.
func WriteGraph(dir string) (string, error) {
	path := filepath.Join(dir, "frozen_inference_graph.pb")
	if err := os.WriteFile(path, GraphMagic, 0o644); err != nil {
		return "", fmt.Errorf("write fake graph: %w", err)
	}
	return path, nil
}
