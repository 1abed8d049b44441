package idgen

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestRandom_LengthAndAlphabet(t *testing.T) {
	for _, length := range []int{8, 32, 100} {
		id := Random(length)()
		if len(id) != length {
			t.Fatalf("Random(%d): got length %d", length, len(id))
		}
		for _, c := range id {
			if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'z')) {
				t.Fatalf("Random: unexpected character %q in %q", c, id)
			}
		}
	}
}

func TestRandom_Uniqueness(t *testing.T) {
	gen := Random(12)
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		id := gen()
		if _, ok := seen[id]; ok {
			t.Fatalf("Random: duplicate at iteration %d: %q", i, id)
		}
		seen[id] = struct{}{}
	}
}

func TestUUIDv7_Sortable(t *testing.T) {
	// WHAT: Successive UUIDv7 values sort in creation order.
	// WHY: Extraction IDs are grepped and ordered in logs.
	gen := UUIDv7()
	prev := gen()
	for i := 0; i < 100; i++ {
		id := gen()
		if len(id) != 36 || strings.Count(id, "-") != 4 {
			t.Fatalf("UUIDv7: bad format %q", id)
		}
		if id <= prev {
			t.Fatalf("UUIDv7: %q not after %q", id, prev)
		}
		prev = id
	}
}

func TestNew_ExtractionID(t *testing.T) {
	id := New()
	if !strings.HasPrefix(id, "ext_") {
		t.Fatalf("New: %q lacks the ext_ prefix", id)
	}
	u, err := uuid.Parse(strings.TrimPrefix(id, "ext_"))
	if err != nil {
		t.Fatalf("parse %q: %v", id, err)
	}
	if u.Version() != 7 {
		t.Fatalf("version = %d, want 7", u.Version())
	}
}

func TestAPIKey(t *testing.T) {
	k := APIKey()
	if !strings.HasPrefix(k, "dsk_") || len(k) != 4+32 {
		t.Fatalf("APIKey = %q", k)
	}
	if k == APIKey() {
		t.Fatal("APIKey repeated")
	}
}
