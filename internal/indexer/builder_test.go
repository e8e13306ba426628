package indexer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/hyperjump/diydoctor/internal/embedding"
	"github.com/hyperjump/diydoctor/internal/models"
)

func testBuilder(opts ...BuilderOption) *Builder {
	return NewBuilder(embedding.NewMockEmbedder(64), opts...)
}

func TestBuildRecords_empty(t *testing.T) {
	set, err := testBuilder().BuildRecords(context.Background(), nil)
	if err != nil {
		t.Fatalf("BuildRecords: %v", err)
	}
	if !set.IsEmpty() {
		t.Errorf("expected empty set, got %d leaves", set.Len())
	}
}

func TestBuildRecords(t *testing.T) {
	records := []models.Record{
		{Collection: "lab_reports", Fields: map[string]any{"Test_Name": "HbA1c", "Value": 6.1}},
		{Collection: "family_history", Fields: map[string]any{"Relation": "Mother", "Condition": "Type_2 diabetes"}},
		{Collection: "disease_history", Fields: map[string]any{}},
	}
	set, err := testBuilder().BuildRecords(context.Background(), records)
	if err != nil {
		t.Fatalf("BuildRecords: %v", err)
	}
	if set.Len() < 2 {
		t.Fatalf("expected at least one node per non-empty record, got %d", set.Len())
	}
	for _, n := range set.All() {
		if strings.TrimSpace(n.Text) == "" {
			t.Errorf("node %s has empty text", n.ID)
		}
		if len(n.Embedding) != 64 {
			t.Errorf("node %s embedding len = %d", n.ID, len(n.Embedding))
		}
		if strings.ContainsAny(n.Text, "_ABCDEFGHIJKLMNOPQRSTUVWXYZ") {
			t.Errorf("record text should be lowercase without underscores: %q", n.Text)
		}
	}
	first := set.Leaves()[0]
	if first.Source.Collection != "lab_reports" || first.Source.Record != 0 {
		t.Errorf("source = %+v", first.Source)
	}
	again, _ := testBuilder().BuildRecords(context.Background(), records)
	if again.Leaves()[0].ID != first.ID {
		t.Error("node ids should be deterministic")
	}
}

func TestBuildDocument_tablesDocument(t *testing.T) {
	doc := models.SourceDocument{
		Ref:  "/ref/anemia.pdf",
		Text: "Anemia is a lack of healthy red blood cells.",
		Tables: []models.Table{
			{Header: []string{"Marker", "Range"}, Rows: [][]string{{"Ferritin", "30-400"}}},
			{Header: []string{"Drug", "Dose"}, Rows: [][]string{{"Iron", "65mg"}}},
		},
	}
	set, err := testBuilder().BuildDocument(context.Background(), doc)
	if err != nil {
		t.Fatal(err)
	}
	var tableNodes []models.Node
	for _, n := range set.Leaves() {
		if n.Source.Label == "tables" {
			tableNodes = append(tableNodes, n)
		}
	}
	if len(tableNodes) == 0 {
		t.Fatal("expected nodes from the synthetic tables document")
	}
	joined := ""
	for _, n := range tableNodes {
		joined += n.Text + "\n"
	}
	for _, want := range []string{"| Marker | Range |", "| Iron | 65mg |"} {
		if !strings.Contains(joined, want) {
			t.Errorf("tables text missing %q:\n%s", want, joined)
		}
	}
	if set.Leaves()[0].Source.Label != "text" {
		t.Error("base text should come before the tables document")
	}
}

func TestBuildDocument_emptySource(t *testing.T) {
	set, err := testBuilder().Build(context.Background(), Source{Document: &models.SourceDocument{Ref: "x", Text: " \n"}})
	if err != nil {
		t.Fatal(err)
	}
	if !set.IsEmpty() {
		t.Error("whitespace document should produce no nodes")
	}
}

func TestBuild_hierarchy(t *testing.T) {
	b := testBuilder(WithMaxChunkWords(3, 0), WithParentSize(3))
	doc := models.SourceDocument{Ref: "doc", Text: "one two three four five six seven eight nine ten"}
	set, err := b.BuildDocument(context.Background(), doc)
	if err != nil {
		t.Fatal(err)
	}
	if set.Len() != 4 {
		t.Fatalf("leaves = %d, want 4", set.Len())
	}
	if set.Size() != 5 {
		t.Fatalf("nodes = %d, want 4 leaves + 1 parent", set.Size())
	}
	leaves := set.Leaves()
	parent, ok := set.Parent(leaves[0].ID)
	if !ok {
		t.Fatal("first leaf should have a parent")
	}
	if len(parent.ChildIDs) != 3 || parent.Kind != models.KindParent {
		t.Errorf("parent = %+v", parent)
	}
	if parent.Text != "one two three\nfour five six\nseven eight nine" {
		t.Errorf("parent text = %q", parent.Text)
	}
	if len(parent.Embedding) == 0 {
		t.Error("parents must be embedded")
	}
	if _, ok := set.Parent(leaves[3].ID); ok {
		t.Error("a lone trailing chunk should not get a parent")
	}
}

func TestBuild_parentsDisabled(t *testing.T) {
	b := testBuilder(WithMaxChunkWords(2, 0), WithParentSize(1))
	set, err := b.BuildDocument(context.Background(), models.SourceDocument{Ref: "d", Text: "a b c d"})
	if err != nil {
		t.Fatal(err)
	}
	if set.Size() != set.Len() {
		t.Errorf("expected no parents, got %d nodes for %d leaves", set.Size(), set.Len())
	}
}

func TestBuild_embeddingFailure(t *testing.T) {
	b := NewBuilder(failingEmbedder{embedding.NewMockEmbedder(8)})
	_, err := b.BuildRecords(context.Background(), []models.Record{{Collection: "c", Fields: map[string]any{"a": "b"}}})
	if !errors.Is(err, ErrIngestion) {
		t.Errorf("err = %v, want ErrIngestion", err)
	}
}
