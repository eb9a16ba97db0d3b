package deck

import "fmt"

// TemplateError means the shared template itself is unusable. It is fatal to
// the whole job, never to a single row.
type TemplateError struct {
	Part string
	Err  error
}

func (e *TemplateError) Error() string {
	if e.Part == "" {
		return fmt.Sprintf("template: %v", e.Err)
	}
	return fmt.Sprintf("template %s: %v", e.Part, e.Err)
}

func (e *TemplateError) Unwrap() error { return e.Err }
