// Package identity carries the authenticated patient through request context.
package identity

import "context"

// Subject is the authenticated patient interacting with the assistant.
type Subject struct {
	ID    string
	Name  string
	Email string
	Phone string
	Admin bool
}

type ctxKey string

const subjectKey ctxKey = "clinic.subject"

// WithSubject stores the authenticated subject in context.
func WithSubject(ctx context.Context, s Subject) context.Context {
	return context.WithValue(ctx, subjectKey, s)
}

// SubjectFromContext extracts the subject if present.
func SubjectFromContext(ctx context.Context) (Subject, bool) {
	val := ctx.Value(subjectKey)
	if val == nil {
		return Subject{}, false
	}
	s, ok := val.(Subject)
	return s, ok && s.ID != ""
}
