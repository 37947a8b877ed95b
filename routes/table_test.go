package routes

import (
	"strings"
	"testing"
)

func TestDefaultTableHasFourteenAreas(t *testing.T) {
	tbl := Default()
	if got := len(tbl.Areas()); got != 14 {
		t.Fatalf("expected 14 areas, got %d: %v", got, tbl.Areas())
	}
	if area, ok := tbl.Area("edit_payroll"); !ok || area != "payrollandfinancialmanagement" {
		t.Fatalf("unexpected area for edit_payroll: %q %v", area, ok)
	}
	if !tbl.IsPublic("employee_login") {
		t.Fatal("expected employee_login to be public")
	}
}

func TestResolveFallbacks(t *testing.T) {
	tbl := Default()
	if got := tbl.Resolve("view_payroll", "ignored"); got != "payrollandfinancialmanagement" {
		t.Fatalf("mapped endpoint resolved to %q", got)
	}
	if got := tbl.Resolve("brand_new_endpoint", "dashboard"); got != "dashboard" {
		t.Fatalf("expected hint fallback, got %q", got)
	}
	if got := tbl.Resolve("brand_new_endpoint", ""); got != "brand_new_endpoint" {
		t.Fatalf("expected endpoint fallback, got %q", got)
	}
}

func TestParseRejectsDuplicates(t *testing.T) {
	_, err := Parse([]byte("areas:\n  a: [x]\n  b: [x]\n"))
	if err == nil || !strings.Contains(err.Error(), "mapped to both") {
		t.Fatalf("expected duplicate endpoint error, got %v", err)
	}

	_, err = Parse([]byte("areas:\n  a: [x]\npublic: [x]\n"))
	if err == nil {
		t.Fatal("expected public/mapped conflict error")
	}

	if _, err := Parse([]byte("public: [x]\n")); err == nil {
		t.Fatal("expected empty table error")
	}
}

func TestLoadAndEndpoints(t *testing.T) {
	tbl, err := Load(strings.NewReader("areas:\n  payroll: [edit, view]\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	eps := tbl.Endpoints("payroll")
	if len(eps) != 2 || eps[0] != "edit" || eps[1] != "view" {
		t.Fatalf("unexpected endpoints %v", eps)
	}
	if !tbl.Known("edit") || tbl.Known("nope") {
		t.Fatal("unexpected Known result")
	}
}
