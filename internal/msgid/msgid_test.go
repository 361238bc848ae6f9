package msgid

import (
	"sort"
	"testing"
	"time"
)

func TestRoundTrip(t *testing.T) {
	id, err := New()
	if err != nil {
		t.Fatal(err)
	}

	s := id.String()
	if len(s) != Len {
		t.Fatalf("String length = %d, want %d", len(s), Len)
	}

	got, err := Parse(s)
	if err != nil {
		t.Fatal(err)
	}
	if got != id {
		t.Fatalf("Parse(String()) = %v, want %v", got, id)
	}
}

func TestSortable(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	var ids []ID
	for i := 0; i < 50; i++ {
		id, err := NewAt(base.Add(time.Duration(i) * time.Millisecond))
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}

	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = id.String()
	}

	sortedCopy := append([]string(nil), strs...)
	sort.Strings(sortedCopy)

	for i := range strs {
		if strs[i] != sortedCopy[i] {
			t.Fatalf("ids are not lexicographically sorted by generation order at index %d", i)
		}
	}
}

func TestTimeRoundTrip(t *testing.T) {
	want := time.Date(2024, 6, 15, 12, 30, 0, 0, time.UTC)
	id, err := NewAt(want)
	if err != nil {
		t.Fatal(err)
	}
	if got := id.Time(); !got.Equal(want) {
		t.Fatalf("Time() = %v, want %v", got, want)
	}
}

func TestParseInvalid(t *testing.T) {
	if _, err := Parse("too-short"); err == nil {
		t.Fatal("expected error for short input")
	}
	if _, err := Parse("!!!!!!!!!!!!!!!!!!!!!!!!!!"); err == nil {
		t.Fatal("expected error for invalid characters")
	}
}


