package ids

import (
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
)

func TestNewIsParseableAndSorted(t *testing.T) {
	prev := ""
	for i := 0; i < 100; i++ {
		id := New()
		if _, err := ulid.ParseStrict(id); err != nil {
			t.Fatalf("ParseStrict(%q): %v", id, err)
		}
		if id <= prev {
			t.Fatalf("ids not increasing: %q after %q", id, prev)
		}
		prev = id
	}
}

func TestAtCarriesTimestamp(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	id, err := ulid.ParseStrict(At(ts))
	if err != nil {
		t.Fatalf("ParseStrict: %v", err)
	}
	if got := ulid.Time(id.Time()); !got.Equal(ts) {
		t.Fatalf("timestamp = %v, want %v", got, ts)
	}
}
