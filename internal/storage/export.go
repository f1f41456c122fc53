package storage

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExportMarkdown renders a submission and its case results as a markdown document.
func ExportMarkdown(sub *Submission) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("# Submission %s\n\n", sub.ID))
	b.WriteString(fmt.Sprintf("- **Exercise:** %s\n", sub.ExerciseID))
	b.WriteString(fmt.Sprintf("- **User:** %s\n", sub.UserID))
	b.WriteString(fmt.Sprintf("- **Language:** %s\n", sub.Language))
	b.WriteString(fmt.Sprintf("- **Created:** %s\n", sub.CreatedAt.Format("2006-01-02 15:04:05")))
	b.WriteString(fmt.Sprintf("- **Status:** %s (%d/%d)\n", sub.Status, sub.PassedCount, sub.TotalCount))
	b.WriteString("\n---\n\n")

	b.WriteString(fmt.Sprintf("## Source\n\n```%s\n%s\n```\n\n", sub.Language, strings.TrimRight(sub.Source, "\n")))

	for _, r := range sub.Results {
		mark := "FAIL"
		if r.Passed {
			mark = "PASS"
		}
		b.WriteString(fmt.Sprintf("## Case %d: %s\n\n", r.Index, mark))
		b.WriteString(fmt.Sprintf("**Input:**\n```\n%s\n```\n\n", r.Input))
		b.WriteString(fmt.Sprintf("**Expected:**\n```\n%s\n```\n\n", r.ExpectedOutput))
		if r.ActualOutput != nil {
			label := "Actual"
			if r.Truncated {
				label = "Actual (truncated)"
			}
			b.WriteString(fmt.Sprintf("**%s:**\n```\n%s\n```\n\n", label, strings.TrimRight(*r.ActualOutput, "\n")))
		}
		if r.Error != "" {
			b.WriteString(fmt.Sprintf("**Error:** %s\n\n", r.Error))
		}
		if r.Stderr != "" {
			b.WriteString(fmt.Sprintf("<details>\n<summary>stderr</summary>\n\n```\n%s\n```\n</details>\n\n", r.Stderr))
		}
	}

	if sub.Hint != "" {
		b.WriteString(fmt.Sprintf("## Hint\n\n%s\n", sub.Hint))
	}

	return b.String()
}

// ExportJSON renders a submission as formatted JSON.
func ExportJSON(sub *Submission) ([]byte, error) {
	return json.MarshalIndent(sub, "", "  ")
}
