package indexer

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/hyperjump/diydoctor/internal/embedding"
)

func TestSplitSentences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"empty", "   ", nil},
		{"single", "No terminal punctuation", []string{"No terminal punctuation"}},
		{"punctuation", "One. Two! Three? Four", []string{"One. ", "Two! ", "Three? ", "Four"}},
		{"decimals stay", "Value 13.5 today. Next", []string{"Value 13.5 today. ", "Next"}},
		{"newlines", "a: 1\nb: 2\n\nc: 3", []string{"a: 1\n", "b: 2\n\n", "c: 3"}},
		{"leading blank", "\n\nStart.", []string{"Start."}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SplitSentences(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("SplitSentences(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSemanticSplitter_breaksAtTopicChange(t *testing.T) {
	s := NewSemanticSplitter(embedding.NewMockEmbedder(1024), 0, 85)
	text := "Glucose is high. Glucose is rising. Asthma runs in the family. Asthma was diagnosed early."
	chunks, err := s.Split(context.Background(), text)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		"Glucose is high. Glucose is rising.",
		"Asthma runs in the family. Asthma was diagnosed early.",
	}
	if !reflect.DeepEqual(chunks, want) {
		t.Errorf("chunks = %q, want %q", chunks, want)
	}
}

func TestSemanticSplitter_coversAllText(t *testing.T) {
	s := NewSemanticSplitter(embedding.NewMockEmbedder(64), 1, 85)
	text := "Iron is low. Ferritin is low. Hemoglobin is normal. The patient runs daily. Sleep is poor. Mood is fine."
	chunks, err := s.Split(context.Background(), text)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) == 0 {
		t.Fatal("expected chunks")
	}
	if got := strings.Join(chunks, " "); got != text {
		t.Errorf("chunks do not reassemble the text:\n%q\n%q", got, text)
	}
}

func TestSemanticSplitter_edgeCases(t *testing.T) {
	s := NewSemanticSplitter(embedding.NewMockEmbedder(8), 1, 85)
	ctx := context.Background()
	if chunks, err := s.Split(ctx, " \n "); err != nil || chunks != nil {
		t.Errorf("blank text: %q, %v", chunks, err)
	}
	chunks, err := s.Split(ctx, "  only one sentence.  ")
	if err != nil || !reflect.DeepEqual(chunks, []string{"only one sentence."}) {
		t.Errorf("single sentence: %q, %v", chunks, err)
	}
}

type failingEmbedder struct{ *embedding.MockEmbedder }

func (failingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, errors.New("provider down")
}

func TestSemanticSplitter_embedError(t *testing.T) {
	s := NewSemanticSplitter(failingEmbedder{embedding.NewMockEmbedder(8)}, 1, 85)
	if _, err := s.Split(context.Background(), "One. Two."); err == nil {
		t.Error("expected embedding error")
	}
}

func TestChunker_Split(t *testing.T) {
	c := NewChunker(3, 1)
	got := c.Split("a b c d e f")
	want := []string{"a b c", "c d e", "e f"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Split = %q, want %q", got, want)
	}
	if got := NewChunker(0, 0).Split(" whole  text "); !reflect.DeepEqual(got, []string{"whole  text"}) {
		t.Errorf("disabled chunker = %q", got)
	}
	if NewChunker(3, 0).Split("   ") != nil {
		t.Error("blank text should yield nil")
	}
}
