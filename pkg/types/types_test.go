package types

import "testing"

func TestCacheKey_Kinds(t *testing.T) {
	whole := WholeObjectKey("obj")
	ranged := RangeKey("obj", ByteRange{Offset: 0, Length: 4})

	if whole == ranged {
		t.Error("whole-object and ranged keys for the same path must differ")
	}
	if whole.Ranged {
		t.Error("whole-object key must not be marked ranged")
	}
	if !ranged.Ranged {
		t.Error("range key must be marked ranged")
	}
}

func TestCacheKey_String(t *testing.T) {
	tests := []struct {
		name string
		key  CacheKey
		want string
	}{
		{"whole", WholeObjectKey("data/obj"), "w:data/obj"},
		{"ranged", RangeKey("data/obj", ByteRange{Offset: 4, Length: 8}), "r:data/obj#4+8"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.key.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}

	// A whole-object key whose path spells out a range suffix must not
	// render the same coalescing key as the ranged key it resembles.
	whole := WholeObjectKey("obj#4+8")
	ranged := RangeKey("obj", ByteRange{Offset: 4, Length: 8})
	if whole.String() == ranged.String() {
		t.Errorf("ambiguous key encoding: %q", whole.String())
	}
}
