package db

import (
	"strings"
	"testing"

	"github.com/QTest-hq/riskplan/internal/plan"
)

func TestDB_Pool_Nil(t *testing.T) {
	db := &DB{pool: nil}

	if db.Pool() != nil {
		t.Error("Pool() should return nil when pool is nil")
	}
	// Close must tolerate a nil pool
	db.Close()
}

func TestSchema_Tables(t *testing.T) {
	schema := Schema()

	tables := []string{
		"modules", "testcases", "testcase_metrics",
		"rpn_value", "testcase_scores", "testplan_versions",
	}
	for _, table := range tables {
		if !strings.Contains(schema, "CREATE TABLE IF NOT EXISTS "+table+" (") {
			t.Errorf("schema missing table %s", table)
		}
	}
	if !strings.Contains(schema, "UNIQUE (session_id, version_number)") {
		t.Error("schema missing per-session version uniqueness")
	}
}

func TestLowerAll(t *testing.T) {
	got := lowerAll([]string{" Login ", "", "PAYMENTS"})
	if len(got) != 2 || got[0] != "login" || got[1] != "payments" {
		t.Errorf("lowerAll() = %v, want [login payments]", got)
	}

	if got := lowerAll(nil); got == nil || len(got) != 0 {
		t.Errorf("lowerAll(nil) = %#v, want empty non-nil slice", got)
	}
}

func TestNormalizePriorities(t *testing.T) {
	got := normalizePriorities([]string{"Class 1", "class_3", " "})
	if len(got) != 2 || got[0] != plan.PriorityClass1 || got[1] != plan.PriorityClass3 {
		t.Errorf("normalizePriorities() = %v", got)
	}
}

func TestTestcaseType(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", plan.DefaultTestcaseType},
		{"  ", plan.DefaultTestcaseType},
		{"Performance", "performance"},
	}

	for _, tt := range tests {
		if got := testcaseType(tt.in); got != tt.want {
			t.Errorf("testcaseType(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
