package keys

import "testing"

func TestInternalKeyRoundTrip(t *testing.T) {
	ik := NewInternalKey([]byte("hello"), 42, TypeValue)
	if got := string(ik.UserKey()); got != "hello" {
		t.Fatalf("UserKey() = %q, want %q", got, "hello")
	}
	if got := ik.Sequence(); got != 42 {
		t.Fatalf("Sequence() = %d, want 42", got)
	}
	if got := ik.Type(); got != TypeValue {
		t.Fatalf("Type() = %d, want %d", got, TypeValue)
	}
}

func TestInternalKeyDeletionType(t *testing.T) {
	ik := NewInternalKey([]byte("k"), 7, TypeDeletion)
	if ik.Type() != TypeDeletion {
		t.Fatalf("Type() = %d, want TypeDeletion", ik.Type())
	}
}

func TestNewLookupKeyUsesSeekType(t *testing.T) {
	lk := NewLookupKey([]byte("k"), 100)
	if lk.Type() != SeekValueType {
		t.Fatalf("lookup key Type() = %d, want SeekValueType", lk.Type())
	}
	if lk.Sequence() != 100 {
		t.Fatalf("lookup key Sequence() = %d, want 100", lk.Sequence())
	}
}

func TestBytewiseComparatorName(t *testing.T) {
	if got := BytewiseComparator.Name(); got != "leveldb.BytewiseComparator" {
		t.Fatalf("Name() = %q, want %q", got, "leveldb.BytewiseComparator")
	}
}

func TestBytewiseComparatorOrdering(t *testing.T) {
	if BytewiseComparator.Compare([]byte("a"), []byte("b")) >= 0 {
		t.Fatalf("expected a < b")
	}
	if BytewiseComparator.Compare([]byte("b"), []byte("a")) <= 0 {
		t.Fatalf("expected b > a")
	}
	if BytewiseComparator.Compare([]byte("a"), []byte("a")) != 0 {
		t.Fatalf("expected a == a")
	}
}

func TestInternalKeyComparatorOrdersByUserKeyFirst(t *testing.T) {
	ikc := NewInternalKeyComparator(BytewiseComparator)

	a := NewInternalKey([]byte("a"), 1, TypeValue)
	b := NewInternalKey([]byte("b"), 1, TypeValue)
	if ikc.Compare(a, b) >= 0 {
		t.Fatalf("expected user key 'a' to sort before 'b' regardless of sequence")
	}
}

func TestInternalKeyComparatorHigherSequenceSortsFirst(t *testing.T) {
	ikc := NewInternalKeyComparator(BytewiseComparator)

	newer := NewInternalKey([]byte("k"), 10, TypeValue)
	older := NewInternalKey([]byte("k"), 5, TypeValue)
	if ikc.Compare(newer, older) >= 0 {
		t.Fatalf("expected higher sequence to sort before lower sequence for same user key")
	}
	if ikc.Compare(older, newer) <= 0 {
		t.Fatalf("expected lower sequence to sort after higher sequence for same user key")
	}
}

func TestInternalKeyComparatorTypeTiebreak(t *testing.T) {
	ikc := NewInternalKeyComparator(BytewiseComparator)

	// Same user key, same sequence: TypeValue (1) must sort before
	// TypeDeletion (0), matching the seek sentinel's precedence.
	value := NewInternalKey([]byte("k"), 5, TypeValue)
	deletion := NewInternalKey([]byte("k"), 5, TypeDeletion)
	if ikc.Compare(value, deletion) >= 0 {
		t.Fatalf("expected TypeValue to sort before TypeDeletion at equal sequence")
	}
}

func TestInternalKeyComparatorEqual(t *testing.T) {
	ikc := NewInternalKeyComparator(BytewiseComparator)
	a := NewInternalKey([]byte("k"), 5, TypeValue)
	b := NewInternalKey([]byte("k"), 5, TypeValue)
	if ikc.Compare(a, b) != 0 {
		t.Fatalf("expected identical internal keys to compare equal")
	}
}

func TestInternalKeyComparatorName(t *testing.T) {
	ikc := NewInternalKeyComparator(BytewiseComparator)
	if ikc.Name() != BytewiseComparator.Name() {
		t.Fatalf("Name() = %q, want wrapped comparator's name", ikc.Name())
	}
}

func TestLookupKeySortsBeforeRealEntryAtSameSequence(t *testing.T) {
	ikc := NewInternalKeyComparator(BytewiseComparator)

	lookup := NewLookupKey([]byte("k"), 5)
	real := NewInternalKey([]byte("k"), 5, TypeValue)
	if ikc.Compare(lookup, real) > 0 {
		t.Fatalf("expected lookup key to sort at or before a real entry at the same sequence")
	}
}

func TestIsValidUserKey(t *testing.T) {
	if IsValidUserKey(nil) {
		t.Fatalf("empty key should be invalid")
	}
	if !IsValidUserKey(UserKey("x")) {
		t.Fatalf("non-empty key should be valid")
	}
}

func TestIsValidValue(t *testing.T) {
	if !IsValidValue(nil) {
		t.Fatalf("empty value should be valid")
	}
	if !IsValidValue([]byte("x")) {
		t.Fatalf("non-empty value should be valid")
	}
}
