// Package judge scores generated answers for faithfulness and relevancy with an
// evaluator model and reduces the two scores to a verdict.
package judge

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/hyperjump/diydoctor/pkg/utils"
)

// Verdict is the reduced outcome of judging one response.
type Verdict string

const (
	Good   Verdict = "GOOD"
	Verify Verdict = "VERIFY"
	Bad    Verdict = "BAD"
	Error  Verdict = "ERROR"
)

// ErrEvaluation is returned when the evaluator cannot be called or answers
// with something that is neither YES, NO nor a score in [0,1].
var ErrEvaluation = errors.New("evaluation failed")

// Reduce maps the exact sum of the two scores to a verdict: 2 is GOOD, 1 is
// VERIFY, 0 is BAD. Any other sum, or a score that is not exactly 0 or 1, is
// ERROR.
func Reduce(faithfulness, relevancy float64) Verdict {
	if !binary(faithfulness) || !binary(relevancy) {
		return Error
	}
	switch faithfulness + relevancy {
	case 2.0:
		return Good
	case 1.0:
		return Verify
	case 0.0:
		return Bad
	default:
		return Error
	}
}

func binary(v float64) bool { return v == 0 || v == 1 }

// ParseScore reads an evaluator reply. YES is 1 and NO is 0, judged on the
// first word regardless of case and trailing punctuation; a reply that uses
// both words is malformed. A bare number in [0,1] is returned as is.
func ParseScore(reply string) (float64, error) {
	fields := strings.Fields(reply)
	if len(fields) == 0 {
		return 0, fmt.Errorf("%w: empty evaluator reply", ErrEvaluation)
	}
	word := normalizeWord(fields[0])
	switch word {
	case "yes", "no":
		for _, f := range fields[1:] {
			if w := normalizeWord(f); w != word && (w == "yes" || w == "no") {
				return 0, fmt.Errorf("%w: contradictory evaluator reply %q", ErrEvaluation, utils.Truncate(strings.TrimSpace(reply), 80))
			}
		}
		if word == "yes" {
			return 1, nil
		}
		return 0, nil
	}
	if len(fields) == 1 {
		if v, err := strconv.ParseFloat(word, 64); err == nil && v >= 0 && v <= 1 {
			return v, nil
		}
	}
	return 0, fmt.Errorf("%w: malformed evaluator reply %q", ErrEvaluation, utils.Truncate(strings.TrimSpace(reply), 80))
}

func normalizeWord(w string) string {
	return strings.ToLower(strings.Trim(w, ".,;:!?\"'*()"))
}
