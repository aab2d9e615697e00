package embedding

import (
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// EnvRuntimeLib overrides where the onnxruntime shared library is loaded
// from. When unset the loader falls back to the platform default search path.
const EnvRuntimeLib = "LETTUCE_ONNXRUNTIME_LIB"

// forwardRunner runs one inference pass over an encoded sequence and returns
// the pooled sentence vector, before normalization. The engine swaps in a
// fake implementation under test.
type forwardRunner interface {
	Forward(inputIDs, attentionMask []int64) ([]float32, error)
	Close() error
}

var (
	ortInitOnce sync.Once
	ortInitErr  error
)

// initRuntime initializes the ONNX runtime environment once per process.
// The environment is never torn down; sessions come and go, the runtime stays.
func initRuntime() error {
	ortInitOnce.Do(func() {
		if lib := os.Getenv(EnvRuntimeLib); lib != "" {
			ort.SetSharedLibraryPath(lib)
		}
		ortInitErr = ort.InitializeEnvironment()
	})
	return ortInitErr
}

// ortRunner drives a BERT-style encoder through onnxruntime. The model takes
// input_ids/attention_mask/token_type_ids and yields either a pooled [1,dim]
// tensor or a [1,seq,dim] hidden state that needs mean pooling.
type ortRunner struct {
	session *ort.DynamicAdvancedSession
}

func newORTRunner(modelPath string) (forwardRunner, error) {
	if err := initRuntime(); err != nil {
		return nil, fmt.Errorf("initialize onnx runtime: %w", err)
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"last_hidden_state"},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("create onnx session: %w", err)
	}
	return &ortRunner{session: session}, nil
}

func (r *ortRunner) Forward(inputIDs, attentionMask []int64) ([]float32, error) {
	if len(inputIDs) != len(attentionMask) {
		return nil, fmt.Errorf("input length mismatch: %d ids, %d mask", len(inputIDs), len(attentionMask))
	}
	tokenTypeIDs := make([]int64, len(inputIDs))

	shape := ort.NewShape(1, int64(len(inputIDs)))
	idsTensor, err := ort.NewTensor(shape, inputIDs)
	if err != nil {
		return nil, fmt.Errorf("create input_ids tensor: %w", err)
	}
	defer idsTensor.Destroy()

	maskTensor, err := ort.NewTensor(shape, attentionMask)
	if err != nil {
		return nil, fmt.Errorf("create attention_mask tensor: %w", err)
	}
	defer maskTensor.Destroy()

	typeTensor, err := ort.NewTensor(shape, tokenTypeIDs)
	if err != nil {
		return nil, fmt.Errorf("create token_type_ids tensor: %w", err)
	}
	defer typeTensor.Destroy()

	inputs := []ort.Value{idsTensor, maskTensor, typeTensor}
	outputs := []ort.Value{nil}
	if err := r.session.Run(inputs, outputs); err != nil {
		return nil, fmt.Errorf("run inference: %w", err)
	}
	defer func() {
		for _, out := range outputs {
			if out != nil {
				out.Destroy()
			}
		}
	}()

	if len(outputs) == 0 || outputs[0] == nil {
		return nil, fmt.Errorf("inference returned no output tensor")
	}
	tensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected output tensor type %T", outputs[0])
	}

	return pool(tensor.GetData(), tensor.GetShape(), attentionMask)
}

func (r *ortRunner) Close() error {
	if r.session != nil {
		return r.session.Destroy()
	}
	return nil
}

// pool reduces the model output to a single sentence vector. A 2-D output is
// already pooled by the model; a 3-D output is mean-pooled over the attended
// positions only, so padding never dilutes the vector.
func pool(data []float32, shape []int64, attentionMask []int64) ([]float32, error) {
	switch len(shape) {
	case 2:
		dim := int(shape[1])
		if len(data) < dim {
			return nil, fmt.Errorf("output data shorter than shape: %d < %d", len(data), dim)
		}
		vec := make([]float32, dim)
		copy(vec, data[:dim])
		return vec, nil

	case 3:
		if shape[0] != 1 {
			return nil, fmt.Errorf("expected batch size 1, got %d", shape[0])
		}
		seqLen := int(shape[1])
		dim := int(shape[2])
		if seqLen > len(attentionMask) {
			return nil, fmt.Errorf("output sequence %d longer than mask %d", seqLen, len(attentionMask))
		}

		vec := make([]float32, dim)
		var attended float32
		for i := 0; i < seqLen; i++ {
			if attentionMask[i] == 0 {
				continue
			}
			attended++
			offset := i * dim
			for j := 0; j < dim; j++ {
				vec[j] += data[offset+j]
			}
		}
		if attended == 0 {
			return nil, fmt.Errorf("attention mask has no attended positions")
		}
		for j := range vec {
			vec[j] /= attended
		}
		return vec, nil

	default:
		return nil, fmt.Errorf("unexpected output shape %v", shape)
	}
}
