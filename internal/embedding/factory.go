package embedding

import "fmt"

// Options selects and configures an embedder.
type Options struct {
	// Provider is "onnx", "mock" or "model".
	Provider   string
	ModelPath  string
	Dimensions int
	MaxTokens  int
	CacheSize  int
	// Remote backs the "model" provider.
	Remote TextEmbedder
}

// New returns the embedder named by opts.Provider.
func New(opts Options) (Embedder, error) {
	switch opts.Provider {
	case "onnx", "":
		return newONNX(opts.ModelPath, opts.Dimensions, opts.MaxTokens, opts.CacheSize)
	case "mock":
		return NewMockEmbedder(opts.Dimensions), nil
	case "model":
		return NewRemoteEmbedder(opts.Remote, opts.Dimensions, opts.CacheSize)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", opts.Provider)
	}
}
