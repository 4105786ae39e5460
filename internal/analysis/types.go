// Package analysis defines violation result types and the external
// analysis service client that evaluates file batches against a
// guidelines document.
package analysis

// Severity classifies how serious a violation is.
type Severity string

// Violation severities, ordered from least to most serious.
const (
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

// ErrorRule is the rule name assigned to synthesized per-file error results
// when a batch fails fatally. It lets structured-output consumers separate
// genuine violations from analysis failures.
const ErrorRule = "analysis-error"

// Violation is a single guidelines violation in a file.
type Violation struct {
	Rule     string   `json:"rule"`
	Line     *int     `json:"line"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// Result holds the ordered violations found in one file.
type Result struct {
	Path       string      `json:"path"`
	Violations []Violation `json:"violations"`
}

// HasViolations reports whether the result carries any violations.
func (r Result) HasViolations() bool {
	return len(r.Violations) > 0
}

// IsError reports whether the result is a synthesized analysis failure
// rather than a genuine scan outcome.
func (r Result) IsError() bool {
	for _, v := range r.Violations {
		if v.Rule == ErrorRule {
			return true
		}
	}

	return false
}

// ErrorResult synthesizes a per-file error result for a fatally failed batch.
func ErrorResult(path, message string) Result {
	return Result{
		Path: path,
		Violations: []Violation{{
			Rule:     ErrorRule,
			Message:  message,
			Severity: SeverityError,
		}},
	}
}

// FileContent pairs a repository-relative path with its decoded content.
type FileContent struct {
	Path    string
	Content string
}
