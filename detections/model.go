package detections

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/Tutortoise/object-detection-service/models"
)

// Options controls how a model is brought up.
type Options struct {
	Bindings       Bindings
	PoolSize       int
	AcquireTimeout time.Duration
}

// Model owns an imported graph and the pool of executors bound to it. The
// graph is never modified after LoadModel returns; Infer is safe for
// concurrent use.
type Model struct {
	path      string
	backend   string
	bindings  Bindings
	graph     Graph
	pool      *SessionPool
	closeOnce sync.Once
}

func LoadModel(path string, backend Backend, opts Options) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &ModelLoadError{Path: path, Kind: ErrModelNotFound}
		}
		return nil, &ModelLoadError{Path: path, Kind: ErrModelUnreadable, Cause: err}
	}

	bindings := opts.Bindings.withDefaults()
	graph, err := backend.Import(data, bindings)
	if err != nil {
		return nil, &ModelLoadError{Path: path, Kind: ErrGraphImport, Cause: err}
	}

	pool, err := NewSessionPool(graph, opts.PoolSize, opts.AcquireTimeout)
	if err != nil {
		graph.Destroy()
		return nil, &ModelLoadError{Path: path, Kind: ErrSessionInit, Cause: err}
	}

	return &Model{
		path:     path,
		backend:  backend.Name(),
		bindings: bindings,
		graph:    graph,
		pool:     pool,
	}, nil
}

func (m *Model) Path() string       { return m.path }
func (m *Model) Backend() string    { return m.backend }
func (m *Model) Bindings() Bindings { return m.bindings }
func (m *Model) Stats() PoolStats   { return m.pool.Stats() }

// Infer runs one tensor through the graph and returns the raw detections in
// engine order.
func (m *Model) Infer(ctx context.Context, tensor *ImageTensor) ([]models.Detection, error) {
	out, err := m.run(ctx, tensor)
	if err != nil {
		return nil, err
	}

	detections, err := DecodeOutputs(out.Scores, out.Classes)
	if err != nil {
		m.pool.RecordError(err)
		return nil, &InferenceError{Message: "decode outputs", Cause: err}
	}
	return detections, nil
}

func (m *Model) run(ctx context.Context, tensor *ImageTensor) (Outputs, error) {
	session, err := m.pool.Acquire(ctx)
	if err != nil {
		return Outputs{}, &InferenceError{Message: "acquire session", Cause: err}
	}
	defer m.pool.Release(session)

	out, err := session.Run(tensor)
	if err != nil {
		m.pool.RecordError(err)
		return Outputs{}, &InferenceError{Message: "model inference", Cause: err}
	}
	return out, nil
}

// Close destroys every executor and the graph. Safe to call more than once.
func (m *Model) Close() {
	m.closeOnce.Do(func() {
		m.pool.Destroy()
		m.graph.Destroy()
	})
}
