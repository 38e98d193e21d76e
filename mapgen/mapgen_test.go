package mapgen

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kbukum/sdtmforge/config"
	"github.com/kbukum/sdtmforge/errors"
	"github.com/kbukum/sdtmforge/logger"
	"github.com/kbukum/sdtmforge/pipeline"
	"github.com/kbukum/sdtmforge/targetspec"
)

func testCatalog(t *testing.T) *targetspec.Catalog {
	t.Helper()
	catalog, err := targetspec.Load()
	if err != nil {
		t.Fatal(err)
	}
	return catalog
}

func TestHeuristicGenerator_DM(t *testing.T) {
	g := NewHeuristicGenerator(testCatalog(t), "STU01")
	unit := pipeline.DomainUnit{
		Domain:  "DM",
		Columns: []string{"SUBJECT_ID", "GENDER", "BIRTH_DAT", "AGE", "COUNTRY"},
	}

	spec, err := g.Generate(context.Background(), unit)
	if err != nil {
		t.Fatal(err)
	}
	if spec.Generated != "heuristic" {
		t.Fatalf("generated = %q", spec.Generated)
	}

	tests := []struct {
		target string
		op     string
		source string
	}{
		{"STUDYID", OpConst, ""},
		{"DOMAIN", OpConst, ""},
		{"SUBJID", OpRename, "SUBJECT_ID"},
		{"SEX", OpUpper, "GENDER"},
		{"AGE", OpAssign, "AGE"},
		{"COUNTRY", OpAssign, "COUNTRY"},
	}
	for _, tt := range tests {
		rule, ok := spec.Rule(tt.target)
		if !ok {
			t.Fatalf("no rule for %s in %+v", tt.target, spec.Rules)
		}
		if rule.Op != tt.op || rule.Source != tt.source {
			t.Fatalf("%s: got op=%s source=%s, want op=%s source=%s",
				tt.target, rule.Op, rule.Source, tt.op, tt.source)
		}
	}

	if rule, ok := spec.Rule("STUDYID"); !ok || rule.Const != "STU01" {
		t.Fatalf("STUDYID rule = %+v", rule)
	}
	if _, ok := spec.Rule("RACE"); ok {
		t.Fatal("RACE has no matching column, no rule expected")
	}
}

func TestHeuristicGenerator_DateColumns(t *testing.T) {
	g := NewHeuristicGenerator(testCatalog(t), "STU01")
	unit := pipeline.DomainUnit{
		Domain:  "AE",
		Columns: []string{"SUBJECT", "AE_TERM", "AESTDTC", "SEVERITY"},
	}

	spec, err := g.Generate(context.Background(), unit)
	if err != nil {
		t.Fatal(err)
	}
	rule, ok := spec.Rule("AESTDTC")
	if !ok || rule.Op != OpISO8601 {
		t.Fatalf("AESTDTC rule = %+v", rule)
	}
}

func TestHeuristicGenerator_UnknownDomain(t *testing.T) {
	g := NewHeuristicGenerator(testCatalog(t), "STU01")
	if _, err := g.Generate(context.Background(), pipeline.DomainUnit{Domain: "ZZ"}); err == nil {
		t.Fatal("expected error for unknown domain")
	}
}

func serviceGenerator(t *testing.T, url string, attempts int) *ServiceGenerator {
	t.Helper()
	return NewServiceGenerator(config.AIConfig{
		Enabled:     true,
		BaseURL:     url,
		APIKey:      "test-key",
		Timeout:     5 * time.Second,
		MaxAttempts: attempts,
	}, testCatalog(t), logger.NewDefault("sdtmforge-test"))
}

func TestServiceGenerator_Suggest(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		var req suggestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Domain != "DM" {
			t.Errorf("domain = %q", req.Domain)
		}
		_ = json.NewEncoder(w).Encode(suggestResponse{Rules: []Rule{
			{Target: "STUDYID", Op: OpConst, Const: "STU01"},
			{Source: "GENDER", Target: "SEX", Op: OpUpper},
		}})
	}))
	defer srv.Close()

	spec, err := serviceGenerator(t, srv.URL, 1).Generate(context.Background(), pipeline.DomainUnit{
		Domain: "DM", Columns: []string{"GENDER"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if gotAuth != "Bearer test-key" {
		t.Fatalf("authorization = %q", gotAuth)
	}
	if len(spec.Rules) != 2 || spec.Generated != "service" {
		t.Fatalf("spec = %+v", spec)
	}
}

func TestServiceGenerator_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(suggestResponse{Rules: []Rule{
			{Target: "STUDYID", Op: OpConst, Const: "STU01"},
		}})
	}))
	defer srv.Close()

	if _, err := serviceGenerator(t, srv.URL, 3).Generate(context.Background(), pipeline.DomainUnit{Domain: "DM"}); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 3 {
		t.Fatalf("calls = %d", calls.Load())
	}
}

func TestServiceGenerator_BadRequestDoesNotRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "unknown model", http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := serviceGenerator(t, srv.URL, 3).Generate(context.Background(), pipeline.DomainUnit{Domain: "DM"})
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.CodeOf(err) != errors.ErrCodeGenerationFailed {
		t.Fatalf("code = %s", errors.CodeOf(err))
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, bad requests must not retry", calls.Load())
	}
}

func TestServiceGenerator_RejectsUnknownTargets(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(suggestResponse{Rules: []Rule{
			{Source: "X", Target: "NOT_A_VARIABLE", Op: OpAssign},
		}})
	}))
	defer srv.Close()

	_, err := serviceGenerator(t, srv.URL, 1).Generate(context.Background(), pipeline.DomainUnit{Domain: "DM"})
	if err == nil || errors.CodeOf(err) != errors.ErrCodeGenerationFailed {
		t.Fatalf("err = %v", err)
	}
}
