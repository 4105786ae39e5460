package analysis

import (
	"fmt"
	"strings"
)

// BuildPrompt renders the user message for one batch. The guidelines
// document is NOT included here: it rides in the system message, where the
// provider can cache it across every batch of the run.
func BuildPrompt(files []FileContent) string {
	var sb strings.Builder

	sb.WriteString("Check the following files for compliance with the guidelines you were given.\n")
	sb.WriteString("For each file, evaluate:\n")
	sb.WriteString("1. Pattern compliance - Does the code follow specific patterns mentioned?\n")
	sb.WriteString("2. Principle adherence - Does the code embody the philosophy described?\n")
	sb.WriteString("3. Anti-pattern detection - Does the code contain things warned against?\n\n")

	sb.WriteString("<files>\n")

	for _, file := range files {
		fmt.Fprintf(&sb, "  <file path=%q>\n%s\n  </file>\n", file.Path, file.Content)
	}

	sb.WriteString("</files>\n\n")

	sb.WriteString(`Return results as a JSON object in this exact format:
{
  "results": [
    {
      "path": "path/to/file",
      "violations": [
        {
          "rule": "short-rule-name",
          "message": "Description of the issue",
          "line": null or line number,
          "severity": "info" | "warn" | "error"
        }
      ]
    }
  ]
}

Include every file, with an empty violations array when it is compliant.
`)

	return sb.String()
}
