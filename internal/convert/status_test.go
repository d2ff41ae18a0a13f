package convert

import (
	"strings"
	"testing"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/and161185/bruteguard/internal/model"
)

func TestStatusToStruct(t *testing.T) {
	t.Parallel()

	until := time.Date(2025, 4, 1, 11, 0, 0, 0, time.FixedZone("X", 3*3600))
	s, err := StatusToStruct(model.Status{Key: "1.2.3.4", Attempts: 10, Blocked: true, BlockedUntil: &until})
	if err != nil {
		t.Fatalf("StatusToStruct: %v", err)
	}
	f := s.GetFields()
	if f[FieldKey].GetStringValue() != "1.2.3.4" || f[FieldAttempts].GetNumberValue() != 10 || !f[FieldBlocked].GetBoolValue() {
		t.Fatalf("unexpected fields: %v", f)
	}
	if got := f[FieldBlockedUntil].GetStringValue(); got != "2025-04-01T08:00:00Z" {
		t.Fatalf("blocked_until=%q, want UTC RFC3339", got)
	}

	s, err = StatusToStruct(model.Status{Key: "k"})
	if err != nil {
		t.Fatalf("StatusToStruct: %v", err)
	}
	if _, isNull := s.GetFields()[FieldBlockedUntil].GetKind().(*structpb.Value_NullValue); !isNull {
		t.Fatalf("blocked_until must be null when unset")
	}
}

func TestStatusFromStruct(t *testing.T) {
	t.Parallel()

	until := time.Date(2025, 4, 1, 11, 0, 0, 0, time.UTC)
	in := model.Status{Key: "k", Attempts: 3, Blocked: true, BlockedUntil: &until}
	s, err := StatusToStruct(in)
	if err != nil {
		t.Fatalf("StatusToStruct: %v", err)
	}
	got, err := StatusFromStruct(s)
	if err != nil {
		t.Fatalf("StatusFromStruct: %v", err)
	}
	if got.Key != in.Key || got.Attempts != in.Attempts || !got.Blocked || !got.BlockedUntil.Equal(until) {
		t.Fatalf("got %+v, want %+v", got, in)
	}

	if _, err := StatusFromStruct(nil); err == nil {
		t.Fatalf("want error on nil")
	}

	bad, _ := structpb.NewStruct(map[string]any{FieldAttempts: 1.5})
	if _, err := StatusFromStruct(bad); err == nil {
		t.Fatalf("want error on fractional attempts")
	}

	bad, _ = structpb.NewStruct(map[string]any{FieldBlockedUntil: "tomorrow"})
	if _, err := StatusFromStruct(bad); err == nil || !strings.Contains(err.Error(), "blocked_until") {
		t.Fatalf("want blocked_until error, got %v", err)
	}
}
