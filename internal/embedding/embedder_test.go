package embedding

import (
	"context"
	"errors"
	"testing"

	"github.com/hyperjump/diydoctor/pkg/utils"
)

func TestMockEmbedder_similarity(t *testing.T) {
	ctx := context.Background()
	e := NewMockEmbedder(256)
	a, _ := e.Embed(ctx, "glucose level fasting")
	b, _ := e.Embed(ctx, "fasting glucose level")
	c, _ := e.Embed(ctx, "family history asthma")
	if sim := utils.CosineSimilarity(a, b); sim < 0.999 {
		t.Errorf("same words should be identical, got %v", sim)
	}
	if utils.CosineSimilarity(a, c) >= utils.CosineSimilarity(a, b) {
		t.Error("disjoint vocabulary should be less similar")
	}
	again, _ := e.Embed(ctx, "glucose level fasting")
	for i := range a {
		if a[i] != again[i] {
			t.Fatal("embedding should be deterministic")
		}
	}
	if e.Dimensions() != 256 {
		t.Errorf("Dimensions = %d", e.Dimensions())
	}
}

func TestMockEmbedder_canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewMockEmbedder(4).Embed(ctx, "x"); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

type countingClient struct {
	calls int
	texts int
	err   error
}

func (c *countingClient) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	c.calls++
	c.texts += len(texts)
	if c.err != nil {
		return nil, c.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{3, 4}
	}
	return out, nil
}

func TestRemoteEmbedder(t *testing.T) {
	ctx := context.Background()
	client := &countingClient{}
	e, err := NewRemoteEmbedder(client, 2, 10)
	if err != nil {
		t.Fatal(err)
	}
	out, err := e.EmbedBatch(ctx, []string{"a", "b"})
	if err != nil {
		t.Fatal(err)
	}
	if out[0][0] != 0.6 || out[1][1] != 0.8 {
		t.Errorf("vectors should be normalized: %v", out)
	}
	if _, err := e.EmbedBatch(ctx, []string{"a", "c"}); err != nil {
		t.Fatal(err)
	}
	if client.calls != 2 || client.texts != 3 {
		t.Errorf("calls=%d texts=%d, want cached a to be skipped", client.calls, client.texts)
	}
}

func TestRemoteEmbedder_errors(t *testing.T) {
	ctx := context.Background()
	if _, err := NewRemoteEmbedder(nil, 2, 1); err == nil {
		t.Error("nil client should fail")
	}
	failing := &countingClient{err: errors.New("boom")}
	e, _ := NewRemoteEmbedder(failing, 2, 1)
	if _, err := e.Embed(ctx, "x"); err == nil {
		t.Error("provider error should propagate")
	}
	wrongDims, _ := NewRemoteEmbedder(&countingClient{}, 3, 1)
	if _, err := wrongDims.Embed(ctx, "x"); err == nil {
		t.Error("dimension mismatch should fail")
	}
}

func TestNew(t *testing.T) {
	e, err := New(Options{Provider: "mock", Dimensions: 8})
	if err != nil {
		t.Fatal(err)
	}
	if e.Dimensions() != 8 {
		t.Errorf("Dimensions = %d", e.Dimensions())
	}
	if _, err := New(Options{Provider: "model", Dimensions: 8, Remote: &countingClient{}}); err != nil {
		t.Errorf("model provider: %v", err)
	}
	if _, err := New(Options{Provider: "nope"}); err == nil {
		t.Error("unknown provider should fail")
	}
}

func TestEmbedEach(t *testing.T) {
	calls := 0
	embed := func(ctx context.Context, text string) ([]float32, error) {
		calls++
		if text == "bad" {
			return nil, errors.New("boom")
		}
		return []float32{float32(len(text))}, nil
	}
	out, err := embedEach(context.Background(), []string{"unit: mmol/l", "hba1c", "unit: mmol/l"}, embed)
	if err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Errorf("embed called %d times, want 2", calls)
	}
	if len(out) != 3 || out[0][0] != out[2][0] || out[1][0] != 5 {
		t.Errorf("out = %v", out)
	}
	if _, err := embedEach(context.Background(), []string{"ok", "bad"}, embed); err == nil {
		t.Error("an embed failure should fail the batch")
	}
}
