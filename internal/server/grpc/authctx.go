package grpcserver

import (
	"context"
)

type ctxKey string

const subjectKey ctxKey = "bg.adminSubject"

// WithSubject stores the authenticated admin subject in context.
func WithSubject(ctx context.Context, sub string) context.Context {
	return context.WithValue(ctx, subjectKey, sub)
}

// SubjectFromCtx fetches the admin subject from context.
func SubjectFromCtx(ctx context.Context) (string, bool) {
	sub, ok := ctx.Value(subjectKey).(string)
	return sub, ok && sub != ""
}
