package record

import (
	"bytes"
	"strings"
	"testing"

	"github.com/sw33tLie/togetter/pkg/togetter"
)

func TestGroupRecordScenario(t *testing.T) {
	g, err := togetter.ParseGroup(`{"label":"Groceries","lists":[{"id":"a","label":"Fruit"},{"id":"b","label":"Dairy"}]}`)
	if err != nil {
		t.Fatalf("ParseGroup: %v", err)
	}
	rec := GroupRecord(g)
	if rec.Label != "Groceries" {
		t.Fatalf("expected label Groceries, got %q", rec.Label)
	}
	want := append([]byte{2, 0, 0, 6, 0}, []byte("Fruit\x00Dairy\x00")...)
	if got := rec.Items(); !bytes.Equal(got, want) {
		t.Fatalf("items mismatch:\n got %v\nwant %v", got, want)
	}
}

func TestListRecordScenario(t *testing.T) {
	l, err := togetter.ParseList(`{"label":"Fruit","items":[` +
		`{"item":"i1","name":"Apple","amount":3,"collected":false},` +
		`{"item":"i2","name":"Pear","amount":2,"collected":true}]}`)
	if err != nil {
		t.Fatalf("ParseList: %v", err)
	}
	rec := ListRecord(l)
	want := append([]byte{2, 0, 3, 6, 130}, []byte("Apple\x00Pear\x00")...)
	if got := rec.Items(); !bytes.Equal(got, want) {
		t.Fatalf("items mismatch:\n got %v\nwant %v", got, want)
	}
}

func TestListRecordFallsBackToItemID(t *testing.T) {
	l, err := togetter.ParseList(`{"label":"Fruit","items":[{"item":"Milk","amount":1}]}`)
	if err != nil {
		t.Fatalf("ParseList: %v", err)
	}
	rec := ListRecord(l)
	if rec.Name(0) != "Milk" {
		t.Fatalf("expected Milk, got %q", rec.Name(0))
	}
}

func TestRoundTrip(t *testing.T) {
	items := []togetter.Item{
		{ID: "1", Name: "Bread", Amount: 1},
		{ID: "2", Name: "", Amount: 0, Collected: true},
		{ID: "3", Name: "Sixteen byte nam", Amount: 127, Collected: true},
		{ID: "4", Name: "x", Amount: 64},
	}
	rec := ListRecord(togetter.List{Label: "Weekly", Items: items})

	decoded, err := Decode(rec.Label, rec.Items())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(decoded.Entries) != len(items) {
		t.Fatalf("expected %d entries, got %d", len(items), len(decoded.Entries))
	}
	for i, it := range items {
		e := decoded.Entries[i]
		if e.Amount() != it.Amount {
			t.Fatalf("entry %d: amount %d, want %d", i, e.Amount(), it.Amount)
		}
		if e.Collected() != it.Collected {
			t.Fatalf("entry %d: collected %v, want %v", i, e.Collected(), it.Collected)
		}
		if decoded.Name(i) != it.DisplayName() {
			t.Fatalf("entry %d: name %q, want %q", i, decoded.Name(i), it.DisplayName())
		}
		if i > 0 && e.Offset <= decoded.Entries[i-1].Offset {
			t.Fatalf("entry %d: offset %d not increasing", i, e.Offset)
		}
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	l := togetter.List{Label: "Fruit", Items: []togetter.Item{{Name: "Apple", Amount: 3}, {Name: "Pear", Collected: true}}}
	a, b := ListRecord(l), ListRecord(l)
	if !a.Equal(b) || !bytes.Equal(a.Names, b.Names) {
		t.Fatalf("expected identical records, got %v and %v", a, b)
	}
}

func TestTruncation(t *testing.T) {
	long := strings.Repeat("abcdefghij", 3)
	rec := Encode("a label that is far too long", []string{long, "b"},
		func(s string) string { return s },
		func(string) byte { return 0 },
	)
	if rec.Label != "a label that is " {
		t.Fatalf("expected label cut at 16 bytes, got %q", rec.Label)
	}
	wantNames := long[:16] + "\x00b\x00"
	if string(rec.Names) != wantNames {
		t.Fatalf("names mismatch: got %q want %q", rec.Names, wantNames)
	}
	if rec.Entries[0].Offset != 0 || rec.Entries[1].Offset != 17 {
		t.Fatalf("unexpected offsets %+v", rec.Entries)
	}
}

func TestEmptyNamesKeepOffsetsValid(t *testing.T) {
	rec := Encode("", []string{"", "", "c"},
		func(s string) string { return s },
		func(string) byte { return 0 },
	)
	want := []int{0, 1, 2}
	for i, e := range rec.Entries {
		if e.Offset != want[i] {
			t.Fatalf("entry %d: offset %d, want %d", i, e.Offset, want[i])
		}
	}
	if len(rec.Names) != 4 {
		t.Fatalf("expected 4 blob bytes, got %d", len(rec.Names))
	}
	if _, err := Decode(rec.Label, rec.Items()); err != nil {
		t.Fatalf("Decode: %v", err)
	}
}

func TestEmptyRecord(t *testing.T) {
	rec := GroupRecord(togetter.Group{})
	if got := rec.Items(); !bytes.Equal(got, []byte{0}) {
		t.Fatalf("expected [0], got %v", got)
	}
	if !rec.IsZero() {
		t.Fatalf("expected zero record")
	}
}

func TestAmountCollidesWithCollectedBit(t *testing.T) {
	meta := ItemMeta(togetter.Item{Amount: 130})
	if meta != 130 {
		t.Fatalf("expected raw 130, got %d", meta)
	}
	if !(Entry{Meta: meta}).Collected() {
		t.Fatalf("expected amount 130 to read back as collected")
	}
}

func TestOverflows(t *testing.T) {
	names := make([]string, 20)
	for i := range names {
		names[i] = strings.Repeat("n", 16)
	}
	rec := Encode("big", names, func(s string) string { return s }, func(string) byte { return 0 })
	if !rec.Overflows() {
		t.Fatalf("expected 20 full names to overflow single-byte offsets")
	}
	if ListRecord(togetter.List{Items: []togetter.Item{{Name: "a"}}}).Overflows() {
		t.Fatalf("small record should not overflow")
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	tests := []struct {
		name  string
		items []byte
	}{
		{"empty", nil},
		{"short table", []byte{2, 0, 0}},
		{"offset past blob", []byte{1, 9, 0, 'a', 0}},
		{"unterminated", []byte{1, 0, 0, 'a'}},
		{"decreasing", []byte{2, 2, 0, 0, 0, 'a', 0, 'b', 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode("", tt.items); err == nil {
				t.Fatalf("expected error for %v", tt.items)
			}
		})
	}
}
