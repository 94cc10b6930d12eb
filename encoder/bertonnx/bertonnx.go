// Package bertonnx implements encoder.Encoder with a BERT-family ONNX model
// executed on GoMLX, with weights fetched from a HuggingFace repository.
//
// The encoder is a frozen feature extractor: its weights are loaded once and
// never updated, only the structured-prediction head on top of it is trained.
package bertonnx

import (
	"github.com/gomlx/go-huggingface/hub"
	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/onnx-gomlx/onnx"
	"github.com/gomlx/onnx-gomlx/onnx/parser"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/argmining/encoder"
)

const (
	// DefaultModelFile is the usual location of the ONNX export in a
	// HuggingFace repository.
	DefaultModelFile = "onnx/model.onnx"

	// DefaultHiddenSize is the hidden width of BERT-base models.
	DefaultHiddenSize = 768

	outputName = "last_hidden_state"
)

// Config selects the model file and hidden width; zero values take defaults.
type Config struct {
	ModelFile  string
	HiddenSize int
}

// Encoder runs a BERT ONNX model on a GoMLX backend.
type Encoder struct {
	backend    backends.Backend
	ctx        *context.Context
	model      onnx.Model
	hiddenSize int
}

// Compile time assert that Encoder implements the encoder.Encoder interface.
var _ encoder.Encoder = &Encoder{}

// New downloads and loads the ONNX encoder from repo with default settings.
func New(repo *hub.Repo) (*Encoder, error) {
	return NewWithConfig(repo, Config{})
}

// NewWithConfig downloads and loads the ONNX encoder from repo.
func NewWithConfig(repo *hub.Repo, cfg Config) (*Encoder, error) {
	if cfg.ModelFile == "" {
		cfg.ModelFile = DefaultModelFile
	}
	if cfg.HiddenSize == 0 {
		cfg.HiddenSize = DefaultHiddenSize
	}

	onnxPath, err := repo.DownloadFile(cfg.ModelFile)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to download %q", cfg.ModelFile)
	}
	model, err := parser.ParseFile(onnxPath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse ONNX model %q", onnxPath)
	}
	ctx := context.New()
	if err := model.VariablesToContext(ctx); err != nil {
		return nil, errors.Wrap(err, "failed to load model weights")
	}
	backend, err := backends.New()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create GoMLX backend")
	}
	klog.V(1).Infof("Loaded ONNX encoder from %q (hidden size %d)", onnxPath, cfg.HiddenSize)

	return &Encoder{
		backend:    backend,
		ctx:        ctx,
		model:      model,
		hiddenSize: cfg.HiddenSize,
	}, nil
}

// HiddenSize returns the hidden width of the encoder's states.
func (e *Encoder) HiddenSize() int { return e.hiddenSize }

// Finalize releases the compute backend. The encoder is unusable afterwards.
func (e *Encoder) Finalize() {
	e.backend.Finalize()
}

// EncodeBatch runs the forward pass over one rectangular batch and returns
// the last hidden states as [batch][position][hidden].
func (e *Encoder) EncodeBatch(tokens, attentionMask, tokenTypes [][]int) (states [][][]float64, err error) {
	batchSize := len(tokens)
	if batchSize == 0 {
		return nil, errors.New("empty batch")
	}
	seqLen := len(tokens[0])
	inputIDs, err := toInt64Rect("tokens", tokens, batchSize, seqLen)
	if err != nil {
		return nil, err
	}
	mask, err := toInt64Rect("attention mask", attentionMask, batchSize, seqLen)
	if err != nil {
		return nil, err
	}
	var types [][]int64
	if tokenTypes == nil {
		types = make([][]int64, batchSize)
		for i := range types {
			types[i] = make([]int64, seqLen)
		}
	} else if types, err = toInt64Rect("token types", tokenTypes, batchSize, seqLen); err != nil {
		return nil, err
	}

	// GoMLX surfaces graph building and execution errors as panics.
	defer func() {
		if r := recover(); r != nil {
			states, err = nil, errors.Errorf("encoder forward pass failed: %v", r)
		}
	}()

	outputs := context.MustExecOnceN(
		e.backend, e.ctx,
		func(ctx *context.Context, inputs []*Node) []*Node {
			hidden := e.model.CallGraph(ctx, inputs[0].Graph(),
				map[string]*Node{
					"input_ids":      inputs[0],
					"attention_mask": inputs[1],
					"token_type_ids": inputs[2],
				},
				outputName)
			return []*Node{hidden[0]}
		},
		inputIDs, mask, types)

	flat := tensors.MustCopyFlatData[float32](outputs[0])
	if len(flat) != batchSize*seqLen*e.hiddenSize {
		return nil, errors.Errorf("encoder produced %d values, want %d x %d x %d",
			len(flat), batchSize, seqLen, e.hiddenSize)
	}

	states = make([][][]float64, batchSize)
	for b := 0; b < batchSize; b++ {
		states[b] = make([][]float64, seqLen)
		for t := 0; t < seqLen; t++ {
			row := make([]float64, e.hiddenSize)
			base := (b*seqLen + t) * e.hiddenSize
			for i := range row {
				row[i] = float64(flat[base+i])
			}
			states[b][t] = row
		}
	}
	return states, nil
}

func toInt64Rect(what string, rows [][]int, batchSize, seqLen int) ([][]int64, error) {
	if len(rows) != batchSize {
		return nil, errors.Errorf("%s: got %d rows, want %d", what, len(rows), batchSize)
	}
	out := make([][]int64, batchSize)
	for i, row := range rows {
		if len(row) != seqLen {
			return nil, errors.Errorf("%s: row %d has length %d, want %d", what, i, len(row), seqLen)
		}
		out[i] = make([]int64, seqLen)
		for j, v := range row {
			out[i][j] = int64(v)
		}
	}
	return out, nil
}
