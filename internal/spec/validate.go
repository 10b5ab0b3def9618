package spec

import (
	"fmt"

	"github.com/psychoinformatics-de/hirni/internal/subst"
	"github.com/psychoinformatics-de/hirni/internal/types"
)

// Severity of a validation problem.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Problem is one finding of Validate.
type Problem struct {
	Severity Severity `json:"severity"`
	Key      string   `json:"key,omitempty"`
	Message  string   `json:"message"`
}

func (p Problem) String() string {
	if p.Key == "" {
		return fmt.Sprintf("%s: %s", p.Severity, p.Message)
	}
	return fmt.Sprintf("%s: %s: %s", p.Severity, p.Key, p.Message)
}

// Validate checks a snippet for problems that would make spec2bids reject
// it or skip parts of it. Errors make the snippet fail conversion; warnings
// mark directives that are skipped.
func Validate(snippet *types.Snippet) []Problem {
	var problems []Problem

	for _, f := range snippet.Fields {
		switch f.Key {
		case subst.KeySubject, subst.KeyAnonSubject:
			continue
		}
		if err := subst.CheckKey(f.Key); err != nil {
			problems = append(problems, Problem{
				Severity: SeverityError,
				Key:      f.Key,
				Message:  err.Error(),
			})
		}
	}

	if snippet.HasLocation() {
		if _, ok := snippet.Location.Get().(string); !ok {
			problems = append(problems, Problem{
				Severity: SeverityWarning,
				Key:      types.KeyLocation,
				Message:  "location is not a string",
			})
		}
	}

	for i, d := range snippet.Procedures {
		key := fmt.Sprintf("%s[%d]", types.KeyProcedures, i)
		if _, ok := d.ProcedureName(); !ok {
			problems = append(problems, Problem{
				Severity: SeverityWarning,
				Key:      key,
				Message:  fmt.Sprintf("directive has no %s and is skipped: %s", types.KeyProcedureName, d),
			})
		}
		if v := d.Once.Get(); v != nil {
			if _, ok := v.(bool); !ok {
				problems = append(problems, Problem{
					Severity: SeverityWarning,
					Key:      key,
					Message:  fmt.Sprintf("%s is not a boolean, using its truthiness", types.KeyOncePerAcquisition),
				})
			}
		}
	}
	return problems
}

// HasErrors reports whether any problem is an error.
func HasErrors(problems []Problem) bool {
	for _, p := range problems {
		if p.Severity == SeverityError {
			return true
		}
	}
	return false
}
