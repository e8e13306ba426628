package config

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.TimeoutSeconds == 0 {
		cfg.Server.TimeoutSeconds = 120
	}
	if cfg.Records.Driver == "" {
		cfg.Records.Driver = "sqlite"
	}
	if cfg.Records.Driver == "sqlite" && cfg.Records.Path == "" {
		cfg.Records.Path = "/usr/local/var/diydoctor/data/records.db"
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "onnx"
	}
	if cfg.Embedding.ModelPath == "" {
		cfg.Embedding.ModelPath = "/usr/local/var/diydoctor/data/models/all-MiniLM-L6-v2.onnx"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Chunking.BufferSize == 0 {
		cfg.Chunking.BufferSize = 1
	}
	if cfg.Chunking.BreakpointPercentile == 0 {
		cfg.Chunking.BreakpointPercentile = 85
	}
	if cfg.Chunking.ParentSize == 0 {
		cfg.Chunking.ParentSize = 4
	}
	if cfg.Chunking.MaxChunkWords == 0 {
		cfg.Chunking.MaxChunkWords = 300
	}
	if cfg.Chunking.ChunkOverlap == 0 {
		cfg.Chunking.ChunkOverlap = 30
	}
	applyRetrievalDefaults(&cfg.Retrieval)
	if cfg.Generator.MaxTokens == 0 {
		cfg.Generator.MaxTokens = 512
	}
	if cfg.Judge.MaxTokens == 0 {
		cfg.Judge.MaxTokens = 8
	}
	if cfg.Resilience.RetryMaxAttempts == 0 {
		cfg.Resilience.RetryMaxAttempts = 3
	}
	if cfg.Resilience.RetryInitialBackoffMs == 0 {
		cfg.Resilience.RetryInitialBackoffMs = 200
	}
	if cfg.Resilience.RetryMaxBackoffMs == 0 {
		cfg.Resilience.RetryMaxBackoffMs = 2000
	}
	if cfg.Resilience.BreakerMaxRequests == 0 {
		cfg.Resilience.BreakerMaxRequests = 1
	}
	if cfg.Resilience.BreakerFailures == 0 {
		cfg.Resilience.BreakerFailures = 5
	}
	if cfg.Resilience.BreakerOpenSeconds == 0 {
		cfg.Resilience.BreakerOpenSeconds = 30
	}
	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = []string{".txt", ".md", ".pdf", ".docx", ".xlsx", ".ods", ".csv"}
	}
	if cfg.Watch.DebounceMs == 0 {
		cfg.Watch.DebounceMs = 500
	}
	// Recursive defaults to true when unset (nil).
	if len(cfg.Watch.Directories) > 0 && cfg.Watch.Recursive == nil {
		t := true
		cfg.Watch.Recursive = &t
	}
	if cfg.Evaluation.OutputPath == "" {
		cfg.Evaluation.OutputPath = "./evaluation.xlsx"
	}
	if cfg.Evaluation.QuestionsPerNode == 0 {
		cfg.Evaluation.QuestionsPerNode = 1
	}
	if cfg.Evaluation.RetrievalTopK == 0 {
		cfg.Evaluation.RetrievalTopK = cfg.Retrieval.TopK
	}
}

func applyRetrievalDefaults(r *RetrievalConfig) {
	if r.Mode == "" {
		r.Mode = "fusion"
	}
	if r.TopK == 0 {
		r.TopK = 4
	}
	if r.RRFConstant == 0 {
		r.RRFConstant = 60
	}
	if r.NumQueries == 0 {
		r.NumQueries = 1
	}
	if r.Language == "" {
		r.Language = "english"
	}
	if r.DenseTopK == 0 {
		r.DenseTopK = 1
	}
	if r.LexicalTopK == 0 {
		r.LexicalTopK = 2
	}
	if r.MergingTopK == 0 {
		r.MergingTopK = 3
	}
	if r.MergeRatio == 0 {
		r.MergeRatio = 0.5
	}
	if r.VectorStrategy == "" {
		r.VectorStrategy = "merging"
	}
	if r.FusionVectorTopK == 0 {
		r.FusionVectorTopK = 4
	}
	if r.FusionLexicalTopK == 0 {
		r.FusionLexicalTopK = 4
	}
	// Weights are only defaulted together so an explicit 1.0/0.0 split survives.
	if r.VectorWeight == 0 && r.LexicalWeight == 0 {
		r.VectorWeight = 0.4
		r.LexicalWeight = 0.6
	}
}
