package testutil

import (
	"errors"
	"net/http"
	"strings"
	"testing"
)

// TestAssertStatusCode_Matching tests matching status codes (no failure).
func TestAssertStatusCode_Matching(t *testing.T) {
	fakeT := &testing.T{}
	AssertStatusCode(fakeT, http.StatusOK, http.StatusOK)
	if fakeT.Failed() {
		t.Error("expected no failure for matching status codes")
	}
}

// TestAssertStatusCode_Mismatch tests mismatched status codes (failure).
func TestAssertStatusCode_Mismatch(t *testing.T) {
	fakeT := &testing.T{}
	AssertStatusCode(fakeT, http.StatusNotFound, http.StatusOK)
	if !fakeT.Failed() {
		t.Error("expected failure for mismatched status codes")
	}
}

// TestAssertNoError_NilErr tests nil error path.
func TestAssertNoError_NilErr(t *testing.T) {
	fakeT := &testing.T{}
	AssertNoError(fakeT, nil)
	if fakeT.Failed() {
		t.Error("expected no failure for nil error")
	}
}

// TestAssertError_WithErr tests non-nil error path.
func TestAssertError_WithErr(t *testing.T) {
	fakeT := &testing.T{}
	AssertError(fakeT, errors.New("something wrong"))
	if fakeT.Failed() {
		t.Error("expected no failure when error is present")
	}
}

// TestDecodeJSON_Valid decodes a well-formed payload.
func TestDecodeJSON_Valid(t *testing.T) {
	var out map[string]int
	DecodeJSON(t, strings.NewReader(`{"a": 1}`), &out)
	if out["a"] != 1 {
		t.Errorf("decoded a = %d, want 1", out["a"])
	}
}
