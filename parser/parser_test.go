package parser

import (
	"database/sql"
	"testing"

	"github.com/aluiziolira/kobo-stats/models"
)

func TestValidateBook(t *testing.T) {
	tests := []struct {
		name    string
		book    *models.Book
		wantErr bool
	}{
		{
			name:    "valid book",
			book:    &models.Book{ID: "file:///mnt/onboard/book.epub", Title: "Test Book", PercentRead: 40},
			wantErr: false,
		},
		{
			name:    "nil book",
			book:    nil,
			wantErr: true,
		},
		{
			name:    "missing id",
			book:    &models.Book{ID: "  ", Title: "Test Book"},
			wantErr: true,
		},
		{
			name:    "percent out of range",
			book:    &models.Book{ID: "abc", PercentRead: 101},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBook(tt.book)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateBook() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNormalizePercentRead(t *testing.T) {
	tests := []struct {
		name     string
		input    sql.NullFloat64
		expected int
	}{
		{name: "fraction", input: sql.NullFloat64{Float64: 0.5, Valid: true}, expected: 50},
		{name: "whole percent", input: sql.NullFloat64{Float64: 85, Valid: true}, expected: 85},
		{name: "null", input: sql.NullFloat64{}, expected: 0},
		{name: "one is complete", input: sql.NullFloat64{Float64: 1, Valid: true}, expected: 100},
		{name: "zero", input: sql.NullFloat64{Float64: 0, Valid: true}, expected: 0},
		{name: "rounds", input: sql.NullFloat64{Float64: 33.6, Valid: true}, expected: 34},
		{name: "small fraction rounds", input: sql.NullFloat64{Float64: 0.126, Valid: true}, expected: 13},
		{name: "clamped", input: sql.NullFloat64{Float64: 140, Valid: true}, expected: 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizePercentRead(tt.input); got != tt.expected {
				t.Errorf("NormalizePercentRead(%v) = %d, want %d", tt.input, got, tt.expected)
			}
		})
	}
}

func TestReadStatusFromCode(t *testing.T) {
	tests := []struct {
		input    sql.NullInt64
		expected string
	}{
		{input: sql.NullInt64{Int64: 0, Valid: true}, expected: "Unread"},
		{input: sql.NullInt64{Int64: 1, Valid: true}, expected: "Reading"},
		{input: sql.NullInt64{Int64: 2, Valid: true}, expected: "Finished"},
		{input: sql.NullInt64{Int64: 7, Valid: true}, expected: "Unread"},
		{input: sql.NullInt64{}, expected: "Unread"},
	}

	for _, tt := range tests {
		if got := ReadStatusFromCode(tt.input).String(); got != tt.expected {
			t.Errorf("ReadStatusFromCode(%v) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestClassifyHighlight(t *testing.T) {
	tests := []struct {
		input    string
		expected models.HighlightKind
	}{
		{input: "serendipity", expected: models.HighlightWord},
		{input: "  serendipity\n", expected: models.HighlightWord},
		{input: "to be or not to be", expected: models.HighlightQuote},
		{input: "two\twords", expected: models.HighlightQuote},
	}

	for _, tt := range tests {
		if got := ClassifyHighlight(tt.input); got != tt.expected {
			t.Errorf("ClassifyHighlight(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestNullableString(t *testing.T) {
	if got := NullableString(sql.NullString{}); got != nil {
		t.Errorf("NULL should map to nil, got %q", *got)
	}
	if got := NullableString(sql.NullString{String: "   ", Valid: true}); got != nil {
		t.Errorf("blank should map to nil, got %q", *got)
	}
	got := NullableString(sql.NullString{String: " Discworld ", Valid: true})
	if got == nil || *got != "Discworld" {
		t.Errorf("NullableString() = %v, want Discworld", got)
	}
}
