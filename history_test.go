package promptenhance

import (
	"fmt"
	"testing"
	"time"
)

func TestHistoryRecord(t *testing.T) {
	h, err := NewHistory(t.Context(), ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	t.Run("empty", func(t *testing.T) {
		if err := h.Record(t.Context()); err != nil {
			t.Errorf("Unexpected error %s", err)
		}
		n, err := h.Count(t.Context())
		if err != nil {
			t.Fatal(err)
		}
		if expected, actual := 0, n; expected != actual {
			t.Errorf("Expected %d conversions, got %d", expected, actual)
		}
	})

	t.Run("round trip", func(t *testing.T) {
		base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
		convs := make([]*Conversion, 5)
		for i := range convs {
			convs[i] = &Conversion{
				RequestID: fmt.Sprintf("req-%d", i),
				Backend:   "ollama",
				Model:     "openhermes",
				Original:  fmt.Sprintf("prompt %d", i),
				Enhanced:  fmt.Sprintf("prompt %d, soft light", i),
				Fallback:  i == 2,
				CreatedAt: base.Add(time.Duration(i) * time.Minute),
			}
		}
		if err := h.Record(t.Context(), convs...); err != nil {
			t.Fatalf("Unexpected error %s", err)
		}
		for _, c := range convs {
			if c.Id == 0 {
				t.Errorf("Expected id to be set for %q", c.RequestID)
			}
		}

		n, err := h.Count(t.Context())
		if err != nil {
			t.Fatal(err)
		}
		if expected, actual := 5, n; expected != actual {
			t.Errorf("Expected %d conversions, got %d", expected, actual)
		}

		recent, err := h.Recent(t.Context(), 3)
		if err != nil {
			t.Fatal(err)
		}
		if expected, actual := 3, len(recent); expected != actual {
			t.Fatalf("Expected %d recent conversions, got %d", expected, actual)
		}
		// Newest first
		if expected, actual := "req-4", recent[0].RequestID; expected != actual {
			t.Errorf("Expected %q, got %q", expected, actual)
		}
		if !recent[2].Fallback {
			t.Errorf("Expected %q to be a fallback", recent[2].RequestID)
		}
		if expected, actual := convs[4].CreatedAt, recent[0].CreatedAt; !expected.Equal(actual) {
			t.Errorf("Expected created_at %s, got %s", expected, actual)
		}
		if expected, actual := "prompt 4, soft light", recent[0].Enhanced; expected != actual {
			t.Errorf("Expected %q, got %q", expected, actual)
		}
	})

	t.Run("default timestamp", func(t *testing.T) {
		c := &Conversion{RequestID: "req-now", Backend: "openai", Model: "m", Original: "a", Enhanced: "a"}
		before := time.Now().UTC().Add(-time.Second)
		if err := h.Record(t.Context(), c); err != nil {
			t.Fatal(err)
		}
		if c.CreatedAt.Before(before) {
			t.Errorf("Expected created_at to be filled in, got %s", c.CreatedAt)
		}
	})
}
