package evaluation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/hyperjump/diydoctor/internal/judge"
	"github.com/hyperjump/diydoctor/internal/llm"
	"github.com/hyperjump/diydoctor/internal/models"
)

func testNodes(t *testing.T) *models.NodeSet {
	t.Helper()
	set, err := models.NewNodeSet([]models.Node{
		{ID: "a", ParentID: "p", Text: "fasting glucose 7.2 mmol/l"},
		{ID: "b", ParentID: "p", Text: "mother has type 2 diabetes"},
		{ID: "c", Text: "asthma since 2015"},
		{ID: "p", Kind: models.KindParent, ChildIDs: []string{"a", "b"}, Text: "fasting glucose 7.2 mmol/l\nmother has type 2 diabetes"},
	})
	if err != nil {
		t.Fatal(err)
	}
	return set
}

// textRetriever returns node c first, then the node whose text equals the query.
type textRetriever struct {
	set *models.NodeSet
}

func (r textRetriever) Retrieve(_ context.Context, query string) ([]models.ScoredNode, error) {
	first, _ := r.set.Get("c")
	out := []models.ScoredNode{{Node: first, Score: 1}}
	for _, n := range r.set.Leaves() {
		if n.Text == query && n.ID != "c" {
			out = append(out, models.ScoredNode{Node: n, Score: 0.5})
		}
	}
	return out, nil
}

// echoClient answers question prompts with the context line and everything
// else with a fixed reply.
func echoClient(name, reply string) llm.Client {
	return llm.FuncClient{Name: name, Fn: func(_ context.Context, prompt string, _ int) (string, error) {
		if strings.Contains(prompt, "question(s)") {
			parts := strings.Split(prompt, "---------------------\n")
			return "1. " + strings.TrimSpace(parts[1]), nil
		}
		return reply, nil
	}}
}

func TestPairs(t *testing.T) {
	tests := []struct {
		name    string
		models  []string
		want    []Pair
		wantErr error
	}{
		{"two models", []string{"gpt", "claude"}, []Pair{{"gpt", "claude"}, {"claude", "gpt"}}, nil},
		{"duplicates collapse", []string{"gpt", "gpt"}, nil, ErrTooFewModels},
		{"one model", []string{"gpt"}, nil, ErrTooFewModels},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Pairs(tt.models)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if fmt.Sprint(got) != fmt.Sprint(tt.want) {
				t.Errorf("Pairs = %v, want %v", got, tt.want)
			}
		})
	}
	three, _ := Pairs([]string{"a", "b", "c"})
	if len(three) != 6 {
		t.Errorf("3 models gave %d pairs, want 6", len(three))
	}
}

func TestParseQuestions(t *testing.T) {
	reply := "1. What is the glucose level?\n\n2) Is it high?\n- Third?\n"
	got := ParseQuestions(reply, 2)
	want := []string{"What is the glucose level?", "Is it high?"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("ParseQuestions = %q, want %q", got, want)
	}
}

func TestScoreRetrieval(t *testing.T) {
	set := testNodes(t)
	get := func(ids ...string) []models.ScoredNode {
		var out []models.ScoredNode
		for _, id := range ids {
			n, _ := set.Get(id)
			out = append(out, models.ScoredNode{Node: n})
		}
		return out
	}
	tests := []struct {
		name      string
		expected  string
		retrieved []models.ScoredNode
		want      RetrievalMetrics
	}{
		{"first", "a", get("a", "c"), RetrievalMetrics{HitRate: 1, MRR: 1, Precision: 0.5, Recall: 1}},
		{"second", "c", get("a", "c"), RetrievalMetrics{HitRate: 1, MRR: 0.5, Precision: 0.5, Recall: 1}},
		{"parent covers child", "b", get("p"), RetrievalMetrics{HitRate: 1, MRR: 1, Precision: 1, Recall: 1}},
		{"miss", "c", get("a", "b"), RetrievalMetrics{}},
		{"nothing retrieved", "a", nil, RetrievalMetrics{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := scoreRetrieval(set, tt.expected, tt.retrieved); got != tt.want {
				t.Errorf("scoreRetrieval = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestRunner_Run(t *testing.T) {
	set := testNodes(t)
	clients := map[string]llm.Client{
		"gpt":    echoClient("gpt-4o", "YES"),
		"claude": echoClient("claude-3", "NO"),
	}
	resolve := func(_ context.Context, name string) (llm.Client, error) {
		c, ok := clients[name]
		if !ok {
			return nil, llm.ErrUnknownProvider
		}
		return c, nil
	}
	r := NewRunner(set, textRetriever{set: set}, resolve)

	queries := []string{"glucose?", "diabetes?"}
	rep, err := r.Run(context.Background(), []string{"gpt", "claude"}, queries)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.RunID == "" {
		t.Error("missing run id")
	}
	if len(rep.Responses) != 4 {
		t.Fatalf("%d responses, want 4", len(rep.Responses))
	}
	for _, res := range rep.Responses {
		if res.Err != "" {
			t.Errorf("%s/%s %q failed: %s", res.Generator, res.Judge, res.Query, res.Err)
		}
	}

	// gpt judges claude's answers with YES, claude judges gpt's with NO.
	want := map[Pair]judge.Verdict{{"gpt", "claude"}: judge.Bad, {"claude", "gpt"}: judge.Good}
	for _, a := range rep.Averages {
		v := want[Pair{a.Generator, a.Judge}]
		score := 0.0
		if v == judge.Good {
			score = 1
		}
		if a.Faithfulness != score || a.Relevancy != score || a.Scored != 2 || a.Failed != 0 {
			t.Errorf("average %+v, want scores %v", a, score)
		}
	}

	if len(rep.Retrieval) != 2 {
		t.Fatalf("%d retrieval rows, want 2", len(rep.Retrieval))
	}
	for _, m := range rep.Retrieval {
		// c is retrieved first for every question, so MRR is (1 + 0.5 + 0.5) / 3.
		if m.Questions != 3 || m.HitRate != 1 || math.Abs(m.MRR-2.0/3) > 1e-9 {
			t.Errorf("retrieval %+v", m)
		}
	}
}

func TestRunner_unknownModel(t *testing.T) {
	set := testNodes(t)
	resolve := func(context.Context, string) (llm.Client, error) { return nil, llm.ErrUnknownProvider }
	_, err := NewRunner(set, textRetriever{set: set}, resolve).Run(context.Background(), []string{"x", "y"}, nil)
	if !errors.Is(err, llm.ErrUnknownProvider) {
		t.Errorf("err = %v, want ErrUnknownProvider", err)
	}
}

func TestRunner_recordsJudgeFailure(t *testing.T) {
	set := testNodes(t)
	clients := map[string]llm.Client{
		"gpt":    echoClient("gpt", "I cannot say"),
		"claude": echoClient("claude", "I cannot say"),
	}
	resolve := func(_ context.Context, name string) (llm.Client, error) { return clients[name], nil }
	rep, err := NewRunner(set, textRetriever{set: set}, resolve).Run(context.Background(), []string{"gpt", "claude"}, []string{"q"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, res := range rep.Responses {
		if res.Verdict != judge.Error || !strings.Contains(res.Err, "evaluation failed") {
			t.Errorf("response %+v, want ERROR verdict", res)
		}
	}
	for _, a := range rep.Averages {
		if a.Failed != 1 || a.Scored != 0 {
			t.Errorf("average %+v", a)
		}
	}
}

func TestWriteReport(t *testing.T) {
	rep := &Report{
		RunID:     "run-1",
		Responses: []QueryResult{{Generator: "gpt", Judge: "claude", Query: "q", Answer: "a", Faithfulness: 1, Relevancy: 1, Verdict: judge.Good}},
		Averages:  []PairAverage{{Generator: "gpt", Judge: "claude", Faithfulness: 1, Relevancy: 1, Scored: 1}},
		Retrieval: []RetrievalMetrics{{Generator: "gpt", Questions: 3, HitRate: 1, MRR: 0.5}},
	}
	path := filepath.Join(t.TempDir(), "out", "eval.xlsx")
	if err := WriteReport(path, rep); err != nil {
		t.Fatalf("WriteReport: %v", err)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if got := strings.Join(f.GetSheetList(), ","); got != "responses,averages,retrieval" {
		t.Errorf("sheets = %s", got)
	}
	rows, err := f.GetRows(SheetResponses)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 || rows[0][1] != "query_llm" || rows[1][8] != "GOOD" {
		t.Errorf("responses rows = %v", rows)
	}
	rows, _ = f.GetRows(SheetRetrieval)
	if len(rows) != 2 || rows[1][0] != "gpt" || rows[1][1] != "3" {
		t.Errorf("retrieval rows = %v", rows)
	}
}
