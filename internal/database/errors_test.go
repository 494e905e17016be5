package database

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/lib/pq"
)

func TestClassifyError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"nil", nil, ErrorClassPermanent},
		{"serialization", &pq.Error{Code: "40001"}, ErrorClassSerialization},
		{"deadlock", &pq.Error{Code: "40P01"}, ErrorClassDeadlock},
		{"lock timeout", &pq.Error{Code: "55P03"}, ErrorClassTransient},
		{"unique violation", &pq.Error{Code: "23505"}, ErrorClassPermanent},
		{"foreign key", &pq.Error{Code: "23503"}, ErrorClassPermanent},
		{"wrapped serialization", fmt.Errorf("commit: %w", &pq.Error{Code: "40001"}), ErrorClassSerialization},
		{"plain error", errors.New("boom"), ErrorClassPermanent},
	}
	for _, c := range cases {
		if got := ClassifyError(c.err); got != c.want {
			t.Errorf("%s: ClassifyError = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(&pq.Error{Code: "40001"}) {
		t.Error("serialization failures should be retryable")
	}
	if IsRetryable(&pq.Error{Code: "23505"}) {
		t.Error("unique violations should not be retryable")
	}
	if IsRetryable(errors.New("business rule")) {
		t.Error("unknown errors should not be retryable")
	}
}

func TestIsUniqueViolation(t *testing.T) {
	err := fmt.Errorf("insert: %w", &pq.Error{Code: "23505", Constraint: "orders_order_number_key"})

	if !IsUniqueViolation(err, "orders_order_number_key") {
		t.Error("should match the named constraint")
	}
	if !IsUniqueViolation(err, "") {
		t.Error("empty constraint should match any unique violation")
	}
	if IsUniqueViolation(err, "other_key") {
		t.Error("should not match a different constraint")
	}
	if IsUniqueViolation(&pq.Error{Code: "23503"}, "") {
		t.Error("foreign key violations are not unique violations")
	}
}

func TestBackoffSchedule(t *testing.T) {
	want := []time.Duration{
		50 * time.Millisecond,
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
	}
	for attempt, expected := range want {
		if got := Backoff(attempt); got != expected {
			t.Errorf("Backoff(%d) = %s, want %s", attempt, got, expected)
		}
	}
}
