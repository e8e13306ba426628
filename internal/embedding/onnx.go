//go:build cgo
// +build cgo

package embedding

import (
	"context"
	"errors"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/hyperjump/diydoctor/pkg/utils"
)

// onnxTensors are the fixed-shape buffers bound to the session; Run reads
// the inputs and writes the pooled sentence vector to out.
type onnxTensors struct {
	ids, mask, types *ort.Tensor[int64]
	out              *ort.Tensor[float32]
}

func newONNXTensors(maxTokens, dimensions int) (*onnxTensors, error) {
	t := &onnxTensors{}
	shape := ort.NewShape(1, int64(maxTokens))
	var err error
	if t.ids, err = ort.NewEmptyTensor[int64](shape); err != nil {
		return nil, fmt.Errorf("input_ids tensor: %w", err)
	}
	if t.mask, err = ort.NewEmptyTensor[int64](shape); err != nil {
		t.release()
		return nil, fmt.Errorf("attention_mask tensor: %w", err)
	}
	if t.types, err = ort.NewEmptyTensor[int64](shape); err != nil {
		t.release()
		return nil, fmt.Errorf("token_type_ids tensor: %w", err)
	}
	if t.out, err = ort.NewEmptyTensor[float32](ort.NewShape(1, int64(dimensions))); err != nil {
		t.release()
		return nil, fmt.Errorf("output tensor: %w", err)
	}
	return t, nil
}

func (t *onnxTensors) release() {
	for _, in := range []*ort.Tensor[int64]{t.ids, t.mask, t.types} {
		if in != nil {
			_ = in.Destroy()
		}
	}
	if t.out != nil {
		_ = t.out.Destroy()
	}
}

// ONNXEmbedder runs a sentence-embedding model locally through ONNX Runtime.
// It requires CGO and the onnxruntime shared library. Inference is serialized
// because the session reuses one set of tensors.
type ONNXEmbedder struct {
	dimensions int
	maxTokens  int
	cache      *EmbeddingCache
	tokenizer  Tokenizer

	mu      sync.Mutex
	session *ort.AdvancedSession
	tensors *onnxTensors
}

func newONNX(modelPath string, dimensions, maxTokens, cacheSize int) (Embedder, error) {
	return NewONNXEmbedder(modelPath, dimensions, maxTokens, cacheSize)
}

// NewONNXEmbedder loads the model at modelPath. The model must take
// input_ids, attention_mask and token_type_ids and emit a pooled "output" of
// the given dimensions.
func NewONNXEmbedder(modelPath string, dimensions, maxTokens, cacheSize int) (*ONNXEmbedder, error) {
	if dimensions <= 0 || maxTokens <= 0 {
		return nil, fmt.Errorf("onnx embedder needs positive dimensions and max tokens, got %d and %d", dimensions, maxTokens)
	}
	if modelPath == "" {
		return nil, errors.New("onnx embedder needs embedding.model_path")
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
	}
	tensors, err := newONNXTensors(maxTokens, dimensions)
	if err != nil {
		return nil, err
	}
	session, err := ort.NewAdvancedSession(
		modelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"output"},
		[]ort.ArbitraryTensor{tensors.ids, tensors.mask, tensors.types},
		[]ort.ArbitraryTensor{tensors.out},
		nil,
	)
	if err != nil {
		tensors.release()
		return nil, fmt.Errorf("failed to create ONNX session for %s: %w", modelPath, err)
	}
	return &ONNXEmbedder{
		dimensions: dimensions,
		maxTokens:  maxTokens,
		cache:      NewEmbeddingCache(cacheSize),
		tokenizer:  &SimpleTokenizer{},
		session:    session,
		tensors:    tensors,
	}, nil
}

// Embed returns the L2-normalized embedding of text. Identical text always
// yields the same vector for the life of the embedder.
func (e *ONNXEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cached, ok := e.cache.Get(text); ok {
		return cached, nil
	}
	vec, err := e.run(text)
	if err != nil {
		return nil, err
	}
	e.cache.Set(text, vec)
	return vec, nil
}

func (e *ONNXEmbedder) run(text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil, ErrClosed
	}
	ids, mask, types := e.tokenizer.Tokenize(text, e.maxTokens)
	copy(e.tensors.ids.GetData(), ids)
	copy(e.tensors.mask.GetData(), mask)
	copy(e.tensors.types.GetData(), types)
	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	vec := make([]float32, e.dimensions)
	copy(vec, e.tensors.out.GetData())
	utils.NormalizeL2(vec)
	return vec, nil
}

// EmbedBatch embeds texts in order. Repeated texts are embedded once.
func (e *ONNXEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedEach(ctx, texts, e.Embed)
}

// Dimensions returns the embedding dimension.
func (e *ONNXEmbedder) Dimensions() int {
	return e.dimensions
}

// Close destroys the session and its tensors. Later calls are no-ops.
func (e *ONNXEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil
	}
	err := e.session.Destroy()
	e.session = nil
	e.tensors.release()
	e.tensors = nil
	return err
}
