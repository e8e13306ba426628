// Package cli provides terminal output for DIYDoctor commands.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/hyperjump/diydoctor/internal/evaluation"
	"github.com/hyperjump/diydoctor/internal/judge"
	"github.com/hyperjump/diydoctor/internal/pipeline"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

var verdictColors = map[judge.Verdict]*color.Color{
	judge.Good:   color.New(color.FgGreen, color.Bold),
	judge.Verify: color.New(color.FgYellow, color.Bold),
	judge.Bad:    color.New(color.FgRed, color.Bold),
	judge.Error:  color.New(color.FgMagenta, color.Bold),
}

// VerdictLabel renders v in its colour. Colour is dropped when the output is
// not a terminal or NO_COLOR is set.
func VerdictLabel(v judge.Verdict) string {
	c, ok := verdictColors[v]
	if !ok {
		c = verdictColors[judge.Error]
	}
	return c.Sprint(string(v))
}

// WriteResult writes an ask result to w in the given format.
func WriteResult(w io.Writer, res *pipeline.Result, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, res)
	}
	if res.Status == pipeline.StatusInsufficientContext {
		fmt.Fprintf(w, "\n%s\n", color.YellowString("Not enough information in this session to answer."))
		return nil
	}
	fmt.Fprintf(w, "\n%s\n\n", res.Answer)
	fmt.Fprintf(w, "Verdict: %s", VerdictLabel(res.Assessment.Verdict))
	if f, r := res.Assessment.Faithfulness, res.Assessment.Relevancy; f != nil && r != nil {
		fmt.Fprintf(w, " (faithfulness %.2f, relevancy %.2f)", *f, *r)
	}
	fmt.Fprintf(w, "\nModels: %s answered, %s judged in %s\n", res.Generator, res.Judge, res.Duration.Round(1e6))
	if len(res.Context) > 0 {
		fmt.Fprintln(w, "\nSources:")
		for i, n := range res.Context {
			fmt.Fprintf(w, "  [%d] %s\n", i+1, TruncateWords(strings.Join(strings.Fields(n.Text), " "), 24))
		}
	}
	return nil
}

// WriteSessions writes session summaries to w.
func WriteSessions(w io.Writer, sessions []pipeline.Info, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, sessions)
	}
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%d leaves\t%d nodes\n", s.Key, s.ID, s.Leaves, s.Nodes)
	}
	return nil
}

// WriteEvaluation writes the per-pair averages and retrieval metrics of rep.
func WriteEvaluation(w io.Writer, rep *evaluation.Report, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, rep)
	}
	fmt.Fprintf(w, "Run %s (%d responses in %s)\n\n", rep.RunID, len(rep.Responses), rep.Duration.Round(1e6))
	fmt.Fprintln(w, "generator\tjudge\tfaithfulness\trelevancy\tavg time\tfailed")
	for _, a := range rep.Averages {
		fmt.Fprintf(w, "%s\t%s\t%.2f\t%.2f\t%s\t%d\n",
			a.Generator, a.Judge, a.Faithfulness, a.Relevancy, a.ResponseTime.Round(1e6), a.Failed)
	}
	fmt.Fprintln(w, "\ngenerator\tquestions\thit rate\tmrr\tprecision\trecall")
	for _, m := range rep.Retrieval {
		fmt.Fprintf(w, "%s\t%d\t%.3f\t%.3f\t%.3f\t%.3f\n",
			m.Generator, m.Questions, m.HitRate, m.MRR, m.Precision, m.Recall)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// TruncateWords returns up to maxWords from the space-separated string.
func TruncateWords(s string, maxWords int) string {
	words := strings.Fields(s)
	if len(words) <= maxWords {
		return s
	}
	return strings.Join(words[:maxWords], " ") + "..."
}
