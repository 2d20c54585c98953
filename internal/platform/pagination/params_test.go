package pagination

import (
	"errors"
	"net/url"
	"strings"
	"testing"
)

func TestParseDefaults(t *testing.T) {
	params, err := Parse(url.Values{}, Options{})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if params.PageSize != DefaultPageSize {
		t.Fatalf("expected default page size %d, got %d", DefaultPageSize, params.PageSize)
	}
	if params.PageToken != "" {
		t.Fatalf("expected empty token, got %q", params.PageToken)
	}
}

func TestParsePageSizeClampedToMax(t *testing.T) {
	values := url.Values{"pageSize": {"500"}}
	params, err := Parse(values, Options{MaxPageSize: 100})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if params.PageSize != 100 {
		t.Fatalf("expected clamp to 100, got %d", params.PageSize)
	}
}

func TestParseRejectsInvalidPageSize(t *testing.T) {
	for _, raw := range []string{"zero", "-1", "0"} {
		values := url.Values{"pageSize": {raw}}
		if _, err := Parse(values, Options{}); !errors.Is(err, ErrInvalidPageSize) {
			t.Fatalf("expected invalid pageSize for %q, got %v", raw, err)
		}
	}
}

func TestParsePassesTokenThrough(t *testing.T) {
	values := url.Values{"pageToken": {"  MjAyNS0wNi0wMXxvcmRfMQ  "}}
	params, err := Parse(values, Options{})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if params.PageToken != "MjAyNS0wNi0wMXxvcmRfMQ" {
		t.Fatalf("expected trimmed token, got %q", params.PageToken)
	}
}

func TestParseRejectsOversizedToken(t *testing.T) {
	values := url.Values{"pageToken": {strings.Repeat("a", maxTokenLength+1)}}
	if _, err := Parse(values, Options{}); !errors.Is(err, ErrInvalidPageToken) {
		t.Fatalf("expected invalid pageToken, got %v", err)
	}
}
