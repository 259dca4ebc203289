//go:build tensorflow
// +build tensorflow

package detections

import (
	"bytes"
	"fmt"

	tf "github.com/wamuir/graft/tensorflow"
)

// TensorFlowBackend imports frozen GraphDef files through libtensorflow.
type TensorFlowBackend struct{}

func NewTensorFlowBackend() (Backend, error) {
	return &TensorFlowBackend{}, nil
}

func (b *TensorFlowBackend) Name() string { return "tensorflow" }

func (b *TensorFlowBackend) Import(data []byte, bindings Bindings) (Graph, error) {
	graph := tf.NewGraph()
	if err := graph.Import(data, ""); err != nil {
		return nil, fmt.Errorf("import graph def: %w", err)
	}
	return &tfGraph{graph: graph, bindings: bindings}, nil
}

type tfGraph struct {
	graph    *tf.Graph
	bindings Bindings
}

func (g *tfGraph) NewExecutor() (Executor, error) {
	session, err := tf.NewSession(g.graph, &tf.SessionOptions{})
	if err != nil {
		return nil, fmt.Errorf("error creating session: %w", err)
	}
	return &tfExecutor{graph: g.graph, session: session, bindings: g.bindings}, nil
}

func (g *tfGraph) Destroy() error { return nil }

type tfExecutor struct {
	graph    *tf.Graph
	session  *tf.Session
	bindings Bindings
}

func (e *tfExecutor) operation(name string) (*tf.Operation, error) {
	op := e.graph.Operation(name)
	if op == nil {
		return nil, fmt.Errorf("graph has no operation %q", name)
	}
	return op, nil
}

func (e *tfExecutor) Run(tensor *ImageTensor) (Outputs, error) {
	input, err := e.operation(e.bindings.Input)
	if err != nil {
		return Outputs{}, err
	}
	scoresOp, err := e.operation(e.bindings.Scores)
	if err != nil {
		return Outputs{}, err
	}
	classesOp, err := e.operation(e.bindings.Classes)
	if err != nil {
		return Outputs{}, err
	}

	t, err := tf.ReadTensor(tf.Uint8, tensor.Shape(), bytes.NewReader(tensor.Data))
	if err != nil {
		return Outputs{}, fmt.Errorf("create input tensor: %w", err)
	}

	out, err := e.session.Run(
		map[tf.Output]*tf.Tensor{input.Output(0): t},
		[]tf.Output{scoresOp.Output(0), classesOp.Output(0)},
		nil,
	)
	if err != nil {
		return Outputs{}, fmt.Errorf("run session: %w", err)
	}

	scores, err := flattenFloat32(out[0])
	if err != nil {
		return Outputs{}, fmt.Errorf("scores output: %w", err)
	}
	classes, err := flattenFloat32(out[1])
	if err != nil {
		return Outputs{}, fmt.Errorf("classes output: %w", err)
	}
	return Outputs{Scores: scores, Classes: classes}, nil
}

func (e *tfExecutor) Destroy() error {
	return e.session.Close()
}

func flattenFloat32(t *tf.Tensor) ([]float32, error) {
	switch v := t.Value().(type) {
	case []float32:
		return v, nil
	case [][]float32:
		var flat []float32
		for _, row := range v {
			flat = append(flat, row...)
		}
		return flat, nil
	default:
		return nil, fmt.Errorf("got %T, want float32 tensor", v)
	}
}
