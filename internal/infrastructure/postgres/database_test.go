package postgres

import (
	"strings"
	"testing"
)

func TestSanitizeQuery(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  string
	}{
		{
			name:  "placeholders pass through",
			query: "SELECT id FROM consents WHERE id = $1 AND status = $2",
			want:  "SELECT id FROM consents WHERE id = $1 AND status = $2",
		},
		{
			name:  "string literal masked",
			query: "SELECT id FROM consents WHERE status = 'AUTHORIZED'",
			want:  "SELECT id FROM consents WHERE status = '?'",
		},
		{
			name:  "escaped quote stays inside the mask",
			query: "SELECT 1 FROM t WHERE name = 'O''Brien'",
			want:  "SELECT ? FROM t WHERE name = '?'",
		},
		{
			name:  "bare number masked",
			query: "SELECT id FROM accounts LIMIT 20",
			want:  "SELECT id FROM accounts LIMIT ?",
		},
		{
			name:  "identifier digits untouched",
			query: "SELECT col2 FROM t2",
			want:  "SELECT col2 FROM t2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizeQuery(tt.query); got != tt.want {
				t.Errorf("sanitizeQuery(%q) = %q, want %q", tt.query, got, tt.want)
			}
		})
	}
}

func TestSanitizeQuery_Truncates(t *testing.T) {
	long := "SELECT " + strings.Repeat("a", 300)
	got := sanitizeQuery(long)
	if len(got) != 256+len("...") {
		t.Errorf("len(sanitizeQuery(long)) = %d, want %d", len(got), 256+len("..."))
	}
}

func TestExtractSQLVerb(t *testing.T) {
	tests := []struct {
		query string
		want  string
	}{
		{"SELECT id FROM consents", "SELECT"},
		{"  update consents set status = $1", "UPDATE"},
		{"INSERT INTO sync_logs VALUES ($1)", "INSERT"},
		{"COMMIT", "COMMIT"},
	}

	for _, tt := range tests {
		if got := extractSQLVerb(tt.query); got != tt.want {
			t.Errorf("extractSQLVerb(%q) = %q, want %q", tt.query, got, tt.want)
		}
	}
}
