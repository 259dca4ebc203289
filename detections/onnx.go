package detections

import (
	"fmt"
	"strings"

	ort "github.com/yalue/onnxruntime_go"
)

// ONNXBackend runs graphs through ONNX Runtime. The runtime environment must
// be initialized before Import is called.
type ONNXBackend struct {
	IntraOpThreads int
	InterOpThreads int
}

func NewONNXBackend(intraOpThreads, interOpThreads int) *ONNXBackend {
	return &ONNXBackend{IntraOpThreads: intraOpThreads, InterOpThreads: interOpThreads}
}

func (b *ONNXBackend) Name() string { return "onnx" }

func (b *ONNXBackend) Import(data []byte, bindings Bindings) (Graph, error) {
	inputs, outputs, err := ort.GetInputOutputInfoWithONNXData(data)
	if err != nil {
		return nil, fmt.Errorf("parse onnx graph: %w", err)
	}
	return &onnxGraph{
		data:     data,
		bindings: bindings,
		inputs:   inputs,
		outputs:  outputs,
		backend:  b,
	}, nil
}

type onnxGraph struct {
	data     []byte
	bindings Bindings
	inputs   []ort.InputOutputInfo
	outputs  []ort.InputOutputInfo
	backend  *ONNXBackend
}

func (g *onnxGraph) NewExecutor() (Executor, error) {
	if err := g.checkBindings(); err != nil {
		return nil, err
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("error creating session options: %w", err)
	}
	defer options.Destroy()

	if g.backend.IntraOpThreads > 0 {
		if err := options.SetIntraOpNumThreads(g.backend.IntraOpThreads); err != nil {
			return nil, fmt.Errorf("set intra-op threads: %w", err)
		}
	}
	if g.backend.InterOpThreads > 0 {
		if err := options.SetInterOpNumThreads(g.backend.InterOpThreads); err != nil {
			return nil, fmt.Errorf("set inter-op threads: %w", err)
		}
	}

	session, err := ort.NewDynamicAdvancedSessionWithONNXData(
		g.data,
		[]string{g.bindings.Input},
		[]string{g.bindings.Scores, g.bindings.Classes},
		options,
	)
	if err != nil {
		return nil, fmt.Errorf("error creating session: %w", err)
	}
	return &onnxExecutor{session: session}, nil
}

func (g *onnxGraph) checkBindings() error {
	if !hasBinding(g.inputs, g.bindings.Input) {
		return fmt.Errorf("graph has no input %q (inputs: %s)", g.bindings.Input, bindingNames(g.inputs))
	}
	for _, name := range []string{g.bindings.Scores, g.bindings.Classes} {
		if !hasBinding(g.outputs, name) {
			return fmt.Errorf("graph has no output %q (outputs: %s)", name, bindingNames(g.outputs))
		}
	}
	return nil
}

func (g *onnxGraph) Destroy() error {
	g.data = nil
	return nil
}

func hasBinding(infos []ort.InputOutputInfo, name string) bool {
	for _, info := range infos {
		if info.Name == name {
			return true
		}
	}
	return false
}

func bindingNames(infos []ort.InputOutputInfo) string {
	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Name
	}
	return strings.Join(names, ", ")
}

type onnxExecutor struct {
	session *ort.DynamicAdvancedSession
}

func (e *onnxExecutor) Run(tensor *ImageTensor) (Outputs, error) {
	input, err := ort.NewTensor(ort.NewShape(tensor.Shape()...), tensor.Data)
	if err != nil {
		return Outputs{}, fmt.Errorf("create input tensor: %w", err)
	}
	defer input.Destroy()

	// nil outputs are allocated by the runtime.
	outputs := []ort.Value{nil, nil}
	defer func() {
		for _, o := range outputs {
			if o != nil {
				o.Destroy()
			}
		}
	}()

	if err := e.session.Run([]ort.Value{input}, outputs); err != nil {
		return Outputs{}, fmt.Errorf("run session: %w", err)
	}

	scores, err := float32Data(outputs[0])
	if err != nil {
		return Outputs{}, fmt.Errorf("scores output: %w", err)
	}
	classes, err := float32Data(outputs[1])
	if err != nil {
		return Outputs{}, fmt.Errorf("classes output: %w", err)
	}
	return Outputs{Scores: scores, Classes: classes}, nil
}

func (e *onnxExecutor) Destroy() error {
	return e.session.Destroy()
}

// float32Data copies the tensor contents out of runtime-owned memory.
func float32Data(v ort.Value) ([]float32, error) {
	t, ok := v.(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("got %T, want float32 tensor", v)
	}
	data := t.GetData()
	out := make([]float32, len(data))
	copy(out, data)
	return out, nil
}
