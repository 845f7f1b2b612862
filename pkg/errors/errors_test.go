package errors

import "testing"

func TestErrors_ErrorMethod(t *testing.T) {
	errs := []error{
		&TableAlreadyExistsError{Name: "t1"},
		&TableNotFoundError{Name: "t1"},
		&TwoPrimaryKeysError{Total: 2},
		&PrimaryKeyNotDefinedError{CollectionName: "t1"},
		&DuplicateKeyError{Key: "k1"},
		&IndexNotFoundError{Name: "i1"},
		&InvalidKeyTypeError{Name: "i1", TypeName: "int"},
		&DeadlockError{TransactionID: "tx1"},
		&ConflictError{Resource: "users/1"},
		&CorruptionError{Context: "page 3 checksum mismatch"},
		&InvalidStateError{Entity: "transaction tx1", State: "Aborted"},
	}

	for _, e := range errs {
		if e.Error() == "" {
			t.Errorf("Error() returned empty string for %T", e)
		}
	}
}

func TestKindOf(t *testing.T) {
	cases := []struct {
		err  error
		want Kind
	}{
		{&TableNotFoundError{Name: "t"}, KindNotFound},
		{&DuplicateKeyError{Key: "k"}, KindAlreadyExists},
		{&DeadlockError{TransactionID: "tx"}, KindDeadlock},
		{New(KindTimeout, "lock.Acquire", "waited too long"), KindTimeout},
		{Wrap(KindIO, "wal.Write", errPlain("disk full")), KindIO},
		{errPlain("plain error"), KindUnknown},
	}

	for _, c := range cases {
		if got := KindOf(c.err); got != c.want {
			t.Errorf("KindOf(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}

func TestIs(t *testing.T) {
	err := New(KindConflict, "txn.Commit", "write-write conflict")
	if !Is(err, KindConflict) {
		t.Errorf("Is(err, KindConflict) = false, want true")
	}
	if Is(err, KindTimeout) {
		t.Errorf("Is(err, KindTimeout) = true, want false")
	}
}

type errPlain string

func (e errPlain) Error() string { return string(e) }
