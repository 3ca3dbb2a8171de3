package ruleerrors

import (
	"errors"
	"fmt"
	"testing"
)

func TestNewWrapsKind(t *testing.T) {
	outer := New(KindInvalid, "bad version %d", 7)
	expectedOuterErr := "INVAL: bad version 7"

	rule := RuleError{}
	if !errors.As(outer, &rule) {
		t.Fatal("TestNewWrapsKind: outer should contain a RuleError")
	}
	if rule.Kind() != KindInvalid {
		t.Fatalf("TestNewWrapsKind: expected KindInvalid, found %s", rule.Kind())
	}
	if outer.Error() != expectedOuterErr {
		t.Fatalf("TestNewWrapsKind: expected %q, found %q", expectedOuterErr, outer.Error())
	}
	if !errors.Is(outer, ErrInvalid) {
		t.Fatal("TestNewWrapsKind: outer should match ErrInvalid")
	}
	if errors.Is(outer, ErrInsufficientProofOfWork) {
		t.Fatal("TestNewWrapsKind: outer should not match ErrInsufficientProofOfWork")
	}
}

func TestWrapKeepsInner(t *testing.T) {
	inner := errors.New("not on curve")
	outer := Wrap(KindInvalid, inner, "signing key")

	if !errors.Is(outer, inner) {
		t.Fatal("TestWrapKeepsInner: outer should contain the inner error")
	}
	if outer.Error() != "INVAL: signing key: not on curve" {
		t.Fatalf("TestWrapKeepsInner: unexpected message %q", outer.Error())
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err      error
		wantKind Kind
		wantOK   bool
	}{
		{New(KindSoftNonceTooHigh, "x"), KindSoftNonceTooHigh, true},
		{fmt.Errorf("context: %w", New(KindInvalidItem4, "x")), KindInvalidItem4, true},
		{ErrInsufficientProofOfWork, KindInsufficientProofOfWork, true},
		{errors.New("plain"), 0, false},
		{nil, 0, false},
	}

	for i, test := range tests {
		kind, ok := KindOf(test.err)
		if kind != test.wantKind || ok != test.wantOK {
			t.Errorf("TestKindOf #%d: got (%s, %v), want (%s, %v)", i, kind, ok, test.wantKind, test.wantOK)
		}
	}
}

func TestFromCode(t *testing.T) {
	tests := []struct {
		code int
		want error
	}{
		{1, ErrInvalid},
		{2, ErrInvalidItem4},
		{3, ErrInsufficientProofOfWork},
		{4, ErrSoftNonceTooHigh},
		{5, ErrUnknown},
		{-7, ErrUnknown},
		{256, ErrUnknown},
	}

	if err := FromCode(0); err != nil {
		t.Fatalf("TestFromCode: code 0 should be success, got %v", err)
	}

	for _, test := range tests {
		err := FromCode(test.code)
		if !errors.Is(err, test.want) {
			t.Errorf("TestFromCode: code %d gave %v, want %v", test.code, err, test.want)
		}
	}
}

func TestCodeRoundTrip(t *testing.T) {
	for _, kind := range []Kind{KindInvalid, KindInvalidItem4, KindInsufficientProofOfWork, KindSoftNonceTooHigh} {
		err := New(kind, "test")
		if got := Code(err); got != kind.Code() {
			t.Errorf("Code(%s) = %d, want %d", kind, got, kind.Code())
		}
		if back, _ := KindOf(FromCode(Code(err))); back != kind {
			t.Errorf("round trip of %s gave %s", kind, back)
		}
	}
	if Code(nil) != 0 {
		t.Error("Code(nil) should be 0")
	}
	if Code(errors.New("io")) != KindUnknown.Code() {
		t.Error("non-rule errors should map to the unknown code")
	}
}

func TestKindString(t *testing.T) {
	if KindInsufficientProofOfWork.String() != "INSUF_POW" {
		t.Errorf("unexpected string %q", KindInsufficientProofOfWork.String())
	}
	if Kind(99).String() != "Kind(99)" {
		t.Errorf("unexpected string %q", Kind(99).String())
	}
}
