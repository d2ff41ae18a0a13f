// Package convert maps domain values to and from protobuf well-known types.
package convert

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/and161185/bruteguard/internal/model"
)

// Struct field names of a status.
const (
	FieldKey          = "key"
	FieldAttempts     = "attempts"
	FieldBlocked      = "blocked"
	FieldBlockedUntil = "blocked_until"
)

// StatusToStruct renders a status. blocked_until is RFC3339 UTC or null.
func StatusToStruct(st model.Status) (*structpb.Struct, error) {
	var until any
	if st.BlockedUntil != nil {
		until = st.BlockedUntil.UTC().Format(time.RFC3339)
	}
	return structpb.NewStruct(map[string]any{
		FieldKey:          st.Key,
		FieldAttempts:     st.Attempts,
		FieldBlocked:      st.Blocked,
		FieldBlockedUntil: until,
	})
}

// StatusFromStruct is the inverse of StatusToStruct.
func StatusFromStruct(s *structpb.Struct) (model.Status, error) {
	if s == nil {
		return model.Status{}, fmt.Errorf("nil status")
	}
	f := s.GetFields()

	st := model.Status{
		Key:     f[FieldKey].GetStringValue(),
		Blocked: f[FieldBlocked].GetBoolValue(),
	}

	n := f[FieldAttempts].GetNumberValue()
	if n < 0 || n != float64(int(n)) {
		return model.Status{}, fmt.Errorf("invalid attempts %v", n)
	}
	st.Attempts = int(n)

	if raw := f[FieldBlockedUntil].GetStringValue(); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return model.Status{}, fmt.Errorf("invalid blocked_until: %w", err)
		}
		st.BlockedUntil = &t
	}
	return st, nil
}
