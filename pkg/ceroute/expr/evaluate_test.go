package expr

import (
	"fmt"
	"strings"
	"testing"
	"time"
)

func eventVars() map[string]any {
	return map[string]any{
		"id":       "evt-1",
		"type":     "com.example.order.created",
		"source":   "/orders/eu",
		"subject":  "order-42",
		"priority": int64(7),
		"urgent":   true,
		"ratio":    0.5,
		"time":     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestEval(t *testing.T) {
	tests := []struct {
		name string
		expr string
		want bool
	}{
		{"equality", "type == 'com.example.order.created'", true},
		{"inequality", "source != '/orders/eu'", false},
		{"double quotes", `subject == "order-42"`, true},
		{"numeric gt", "priority > 5", true},
		{"numeric lte", "priority <= 6", false},
		{"float", "ratio >= 0.5", true},
		{"contains", "source contains 'eu'", true},
		{"startswith", "type startswith 'com.example.'", true},
		{"endswith", "type endswith '.deleted'", false},
		{"matches", "subject matches '^order-[0-9]+$'", true},
		{"matches miss", "subject matches '^invoice-'", false},
		{"and", "urgent and priority > 5", true},
		{"or", "priority > 100 or urgent", true},
		{"not", "not urgent", false},
		{"bang", "!missing", true},
		{"missing identifier is null", "tenant == 'acme'", false},
		{"missing identifier differs", "tenant != 'acme'", true},
		{"truthy bool", "urgent", true},
		{"truthy missing", "tenant", false},
		{"separator inside quotes", "subject == 'a and b'", false},
		{"time compares numerically", "time > 0", true},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Eval(tt.expr, eventVars())
			if err != nil {
				t.Fatalf("Eval(%q) error: %v", tt.expr, err)
			}
			if got != tt.want {
				t.Errorf("Eval(%q) = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestEvalQuotedSeparator(t *testing.T) {
	vars := map[string]any{"subject": "a and b"}
	got, err := Eval("subject == 'a and b'", vars)
	if err != nil {
		t.Fatal(err)
	}
	if !got {
		t.Error("separator inside a quoted literal must not split the expression")
	}
}

func TestCheck(t *testing.T) {
	tests := []struct {
		name    string
		expr    string
		wantErr string
	}{
		{"valid", "type == 'x' and priority > 1", ""},
		{"valid negation", "not urgent", ""},
		{"empty", "  ", "empty expression"},
		{"unbalanced", "type == 'x", "unbalanced quotes"},
		{"missing right operand", "type ==", "missing an operand"},
		{"missing left operand", "== 'x'", "missing an operand"},
		{"broken comparison after and", "urgent and == 'x'", "missing an operand"},
		{"bad regexp", "subject matches '(['", "invalid pattern"},
	}

	e := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := e.Check(tt.expr)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Check(%q) unexpected error: %v", tt.expr, err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Check(%q) = %v, want error containing %q", tt.expr, err, tt.wantErr)
			}
		})
	}
}

func TestCustomOperator(t *testing.T) {
	e := New(WithCustomOperator("under", func(left, right any) bool {
		return strings.HasPrefix(fmt.Sprint(left), fmt.Sprint(right)+"/")
	}))

	got, err := e.Evaluate("source under '/orders'", eventVars())
	if err != nil {
		t.Fatal(err)
	}
	if !got {
		t.Error("custom operator did not match")
	}
	if err := e.Check("source under '/orders'"); err != nil {
		t.Errorf("Check rejected custom operator: %v", err)
	}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		left, right any
		op          string
		want        bool
	}{
		{"a", "a", "==", true},
		{int64(1), "1", "==", true},
		{3, 2.5, ">", true},
		{"abc", "b", "contains", true},
		{"com.x.y", "com.x", "startswith", true},
		{"file.json", ".json", "endswith", true},
		{"order-1", `^order-\d$`, "matches", true},
	}

	for _, tt := range tests {
		got, err := Compare(tt.left, tt.right, tt.op)
		if err != nil {
			t.Fatalf("Compare(%v %s %v) error: %v", tt.left, tt.op, tt.right, err)
		}
		if got != tt.want {
			t.Errorf("Compare(%v %s %v) = %v, want %v", tt.left, tt.op, tt.right, got, tt.want)
		}
	}

	if _, err := Compare(1, 2, "~="); err == nil {
		t.Error("expected error for unknown operator")
	}
}

func TestResolve(t *testing.T) {
	vars := map[string]any{"n": uint32(3)}
	tests := []struct {
		in   string
		want any
	}{
		{"'quoted'", "quoted"},
		{"true", true},
		{"null", nil},
		{"42", int64(42)},
		{"1.5", 1.5},
		{"n", uint32(3)},
		{"unknown", nil},
		{"", ""},
	}

	for _, tt := range tests {
		if got := Resolve(tt.in, vars); got != tt.want {
			t.Errorf("Resolve(%q) = %#v, want %#v", tt.in, got, tt.want)
		}
	}
}

func TestIsTruthyAndToFloat64(t *testing.T) {
	if IsTruthy(uint8(0)) || !IsTruthy(int16(2)) || IsTruthy([]byte{}) || IsTruthy(time.Time{}) {
		t.Error("unexpected truthiness")
	}
	if ToFloat64("2.5") != 2.5 || ToFloat64("x") != 0 || ToFloat64(uint64(9)) != 9 {
		t.Error("unexpected numeric conversion")
	}
}

func patternCached(p string) bool {
	_, ok := patterns.Load(p)
	return ok
}

func TestMatchesCachesOnlyRuleLiterals(t *testing.T) {
	e := New()
	if err := e.Check("subject matches '^order-[0-9]{2}$'"); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !patternCached("^order-[0-9]{2}$") {
		t.Error("literal pattern not cached at check time")
	}

	for i := range 50 {
		p := fmt.Sprintf("^order-%d$", i)
		vars := map[string]any{"subject": "order-7", "want": p}
		got, err := e.Evaluate("subject matches want", vars)
		if err != nil {
			t.Fatalf("Evaluate: %v", err)
		}
		if got != (i == 7) {
			t.Errorf("pattern %q: got %v", p, got)
		}
		if patternCached(p) {
			t.Errorf("pattern %q from a variable was cached", p)
		}
	}
}
