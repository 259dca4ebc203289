package detections

// Bindings names the graph's input and the two output nodes the detector reads.
type Bindings struct {
	Input   string
	Scores  string
	Classes string
}

func (b Bindings) withDefaults() Bindings {
	if b.Input == "" {
		b.Input = DefaultInputName
	}
	if b.Scores == "" {
		b.Scores = DefaultScoresName
	}
	if b.Classes == "" {
		b.Classes = DefaultClassesName
	}
	return b
}

// Outputs holds the per-candidate scores and class ids of one run. Entries
// are index-aligned.
type Outputs struct {
	Scores  []float32
	Classes []float32
}

// Backend turns serialized graph bytes into an imported Graph.
type Backend interface {
	Name() string
	Import(data []byte, bindings Bindings) (Graph, error)
}

// Graph is an imported, immutable computation graph able to hand out
// executors bound to it.
type Graph interface {
	NewExecutor() (Executor, error)
	Destroy() error
}

// Executor runs the graph. An Executor is never used by two goroutines at
// once; the session pool enforces that.
type Executor interface {
	Run(tensor *ImageTensor) (Outputs, error)
	Destroy() error
}
