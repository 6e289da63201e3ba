package eval

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// writeResults appends one JSON line per graded question to
// detailed_results.jsonl.
func writeResults(runDir string, results []Result) error {
	f, err := os.Create(filepath.Join(runDir, "detailed_results.jsonl"))
	if err != nil {
		return fmt.Errorf("eval.writeResults: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, r := range results {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("eval.writeResults: %w", err)
		}
	}
	return nil
}

func writeSummary(runDir string, summary *Summary) error {
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("eval.writeSummary: %w", err)
	}
	if err := os.WriteFile(filepath.Join(runDir, "evaluation_summary.json"), data, 0o644); err != nil {
		return fmt.Errorf("eval.writeSummary: %w", err)
	}
	return nil
}

func writeReport(runDir string, summary *Summary, results []Result) error {
	var sb strings.Builder

	sb.WriteString("EVALUATION REPORT\n")
	sb.WriteString("=================\n\n")
	fmt.Fprintf(&sb, "Mode:             %s\n", summary.Mode)
	fmt.Fprintf(&sb, "Citation grading: %s\n", onOff(summary.CitationEnabled))
	fmt.Fprintf(&sb, "Questions:        %d evaluated of %d\n", summary.Evaluated, summary.Total)
	fmt.Fprintf(&sb, "Passed (>=%.0f):   %d\n", passThreshold, summary.Passed)
	fmt.Fprintf(&sb, "Started:          %s\n", summary.StartedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&sb, "Finished:         %s\n\n", summary.FinishedAt.Format("2006-01-02 15:04:05 MST"))

	sb.WriteString("AVERAGES\n")
	fmt.Fprintf(&sb, "  Composite:     %.1f / 100\n", summary.AvgComposite)
	fmt.Fprintf(&sb, "  Accuracy:      %.2f / 5\n", summary.AvgAccuracy)
	fmt.Fprintf(&sb, "  Completeness:  %.2f / 5\n", summary.AvgCompleteness)
	if summary.CitationEnabled {
		fmt.Fprintf(&sb, "  Citation:      %.2f / 5\n", summary.AvgCitation)
	}
	fmt.Fprintf(&sb, "  Coherence:     %.2f / 3\n", summary.AvgCoherence)
	fmt.Fprintf(&sb, "  Response time: %.2fs\n\n", summary.AvgResponseTime)

	if summary.Halted {
		fmt.Fprintf(&sb, "RUN HALTED at question index %d (composite below %.0f).\n", summary.HaltedAt, passThreshold)
		sb.WriteString("See failure_analysis.txt; resume with --resume after investigating.\n\n")
	}

	sb.WriteString("PER-QUESTION\n")
	for _, r := range results {
		fmt.Fprintf(&sb, "  [%3d] %s Q%-3d composite=%5.1f acc=%.1f comp=%.1f coh=%.1f %.2fs\n",
			r.Index, r.File, r.Number, r.Composite,
			r.Scores.Accuracy, r.Scores.Completeness, r.Scores.Coherence, r.ResponseTime)
	}

	if err := os.WriteFile(filepath.Join(runDir, "evaluation_report.txt"), []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("eval.writeReport: %w", err)
	}
	return nil
}

// writeFailureAnalysis records the failing question in full so the halt is
// actionable without re-running.
func writeFailureAnalysis(runDir string, failed Result, threshold float64) error {
	var sb strings.Builder

	sb.WriteString("FAILURE ANALYSIS\n")
	sb.WriteString("================\n\n")
	fmt.Fprintf(&sb, "Question index %d (%s Q%d) scored %.1f, below the %.0f threshold.\n\n",
		failed.Index, failed.File, failed.Number, failed.Composite, threshold)
	fmt.Fprintf(&sb, "QUESTION:\n%s\n\n", failed.Question)
	fmt.Fprintf(&sb, "EXPECTED:\n%s\n\n", failed.Expected)
	fmt.Fprintf(&sb, "GOT:\n%s\n\n", failed.Answer)
	fmt.Fprintf(&sb, "SCORES: accuracy=%.1f completeness=%.1f citation=%.1f coherence=%.1f\n",
		failed.Scores.Accuracy, failed.Scores.Completeness, failed.Scores.Citation, failed.Scores.Coherence)
	if failed.Feedback != "" {
		fmt.Fprintf(&sb, "\nJUDGE FEEDBACK:\n%s\n", failed.Feedback)
	}
	if len(failed.Sources) > 0 {
		sb.WriteString("\nCITED SOURCES:\n")
		for _, s := range failed.Sources {
			fmt.Fprintf(&sb, "- [Doc %d] %s, page %s\n", s.Doc, s.Filename, s.Page)
		}
	}

	if err := os.WriteFile(filepath.Join(runDir, "failure_analysis.txt"), []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("eval.writeFailureAnalysis: %w", err)
	}
	return nil
}
