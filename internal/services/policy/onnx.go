package policy

import (
	"fmt"
	"os"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"RLSignal/internal/services/simulation"
)

// NumActions is the width of the policy output (HOLD, LONG, SHORT).
const NumActions = 3

// Runtime runs a policy network over one observation and returns the
// action probabilities.
type Runtime interface {
	Loaded() bool
	ModelPath() string
	Load(path string) error
	Infer(obs []float32) ([]float32, error)
	Close() error
}

// ONNXRuntime holds one onnxruntime session over a policy exported with a
// single "input" [1,10] and a single "output" [1,3] tensor.
type ONNXRuntime struct {
	libPath string

	mu      sync.Mutex
	path    string
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

// NewONNXRuntime returns an unloaded runtime. An empty libPath picks the
// platform default shared library name.
func NewONNXRuntime(libPath string) *ONNXRuntime {
	return &ONNXRuntime{libPath: libPath}
}

var ortInit struct {
	once sync.Once
	err  error
}

func (r *ONNXRuntime) initEnvironment() error {
	ortInit.once.Do(func() {
		lib := r.libPath
		if lib == "" {
			switch runtime.GOOS {
			case "windows":
				lib = "onnxruntime.dll"
			case "darwin":
				lib = "libonnxruntime.dylib"
			default:
				lib = "/usr/lib/libonnxruntime.so"
			}
		}
		ort.SetSharedLibraryPath(lib)
		ortInit.err = ort.InitializeEnvironment()
	})
	return ortInit.err
}

// Load replaces the current session with one built from path.
func (r *ONNXRuntime) Load(path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("stat model: %w", err)
	}
	if err := r.initEnvironment(); err != nil {
		return fmt.Errorf("init onnxruntime: %w", err)
	}

	input, err := ort.NewTensor(ort.NewShape(1, simulation.ObservationSize), make([]float32, simulation.ObservationSize))
	if err != nil {
		return fmt.Errorf("create input tensor: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, NumActions))
	if err != nil {
		input.Destroy()
		return fmt.Errorf("create output tensor: %w", err)
	}
	session, err := ort.NewAdvancedSession(path,
		[]string{"input"}, []string{"output"},
		[]ort.Value{input}, []ort.Value{output}, nil)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return fmt.Errorf("create session: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.destroyLocked()
	r.session, r.input, r.output, r.path = session, input, output, path
	return nil
}

func (r *ONNXRuntime) Loaded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session != nil
}

func (r *ONNXRuntime) ModelPath() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.path
}

// Infer copies obs into the input tensor and runs the session. The
// returned slice is a copy.
func (r *ONNXRuntime) Infer(obs []float32) ([]float32, error) {
	if len(obs) != simulation.ObservationSize {
		return nil, fmt.Errorf("%w: got %d values, want %d", ErrObservationShape, len(obs), simulation.ObservationSize)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session == nil {
		return nil, ErrModelNotLoaded
	}
	copy(r.input.GetData(), obs)
	if err := r.session.Run(); err != nil {
		return nil, fmt.Errorf("run session: %w", err)
	}
	out := make([]float32, NumActions)
	copy(out, r.output.GetData())
	return out, nil
}

func (r *ONNXRuntime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.destroyLocked()
	return nil
}

func (r *ONNXRuntime) destroyLocked() {
	if r.session != nil {
		r.session.Destroy()
	}
	if r.input != nil {
		r.input.Destroy()
	}
	if r.output != nil {
		r.output.Destroy()
	}
	r.session, r.input, r.output, r.path = nil, nil, nil, ""
}

var _ Runtime = (*ONNXRuntime)(nil)
