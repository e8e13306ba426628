package evaluation

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"
)

// Sheet names of the report workbook.
const (
	SheetResponses = "responses"
	SheetAverages  = "averages"
	SheetRetrieval = "retrieval"
)

// WriteReport saves rep as an xlsx workbook at path.
func WriteReport(path string, rep *Report) error {
	f := excelize.NewFile()
	defer f.Close()

	responses := [][]any{{"run_id", "query_llm", "judge_llm", "query", "response", "context",
		"faithfulness", "relevancy", "verdict", "full_response_time", "error"}}
	for _, r := range rep.Responses {
		responses = append(responses, []any{rep.RunID, r.Generator, r.Judge, r.Query, r.Answer, r.Context,
			r.Faithfulness, r.Relevancy, string(r.Verdict), r.Duration.Seconds(), r.Err})
	}
	averages := [][]any{{"query_llm", "judge_llm", "faithfulness_avg", "relevancy_avg",
		"avg_response_time", "scored", "failed"}}
	for _, a := range rep.Averages {
		averages = append(averages, []any{a.Generator, a.Judge, a.Faithfulness, a.Relevancy,
			a.ResponseTime.Seconds(), a.Scored, a.Failed})
	}
	retrieval := [][]any{{"query_llm", "questions", "mrr", "hit_rate", "precision", "recall"}}
	for _, m := range rep.Retrieval {
		retrieval = append(retrieval, []any{m.Generator, m.Questions, m.MRR, m.HitRate, m.Precision, m.Recall})
	}

	for i, sheet := range []struct {
		name string
		rows [][]any
	}{
		{SheetResponses, responses},
		{SheetAverages, averages},
		{SheetRetrieval, retrieval},
	} {
		if i == 0 {
			if err := f.SetSheetName("Sheet1", sheet.name); err != nil {
				return err
			}
		} else if _, err := f.NewSheet(sheet.name); err != nil {
			return err
		}
		if err := writeRows(f, sheet.name, sheet.rows); err != nil {
			return err
		}
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save report: %w", err)
	}
	return nil
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}
