package client

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

// TestCategorizeError verifies errors are mapped to stable metric labels.
func TestCategorizeError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCategory
	}{
		{"nil", nil, ""},
		{"deadline exceeded", context.DeadlineExceeded, ErrorCategoryTimeout},
		{"cancelled", context.Canceled, ErrorCategoryTimeout},
		{"wrapped deadline", fmt.Errorf("solar day: %w", context.DeadlineExceeded), ErrorCategoryTimeout},
		{"connection refused", errors.New("dial tcp: connection refused"), ErrorCategoryNetwork},
		{"network unreachable", errors.New("network is unreachable"), ErrorCategoryNetwork},
		{"postcode not found", ErrPostcodeNotFound, ErrorCategoryPostcodeNotFound},
		{"wrapped postcode not found", fmt.Errorf("resolve location: %w", ErrPostcodeNotFound), ErrorCategoryPostcodeNotFound},
		{"suburb not found", ErrSuburbNotFound, ErrorCategorySuburbNotFound},
		{"rate limited", ErrRateLimited, ErrorCategoryRateLimited},
		{"upstream failure", ErrUpstreamFailure, ErrorCategoryUpstream5xx},
		{"exhausted retries", fmt.Errorf("exhausted retries: %w", ErrUpstreamFailure), ErrorCategoryUpstream5xx},
		{"timeout string", errors.New("request timeout"), ErrorCategoryTimeout},
		{"parse failure", errors.New("parse response body"), ErrorCategoryParsing},
		{"unmarshal failure", errors.New("unmarshal location payload"), ErrorCategoryParsing},
		{"validation failure", errors.New("invalid start time"), ErrorCategoryValidation},
		{"cache failure", errors.New("cache write failed"), ErrorCategoryCache},
		{"unknown", errors.New("something else entirely"), ErrorCategoryUnknown},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := CategorizeError(tc.err); got != tc.want {
				t.Errorf("CategorizeError(%v) = %q, want %q", tc.err, got, tc.want)
			}
		})
	}
}
