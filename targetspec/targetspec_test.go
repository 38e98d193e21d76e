package targetspec

import "testing"

func TestLoad(t *testing.T) {
	catalog, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	codes := catalog.Codes()
	if len(codes) < 6 {
		t.Fatalf("expected at least 6 domains, got %v", codes)
	}

	dm, ok := catalog.Domain("DM")
	if !ok {
		t.Fatal("DM missing from catalog")
	}
	if dm.Class != "special-purpose" {
		t.Fatalf("unexpected DM class %q", dm.Class)
	}

	sex, ok := dm.Variable("SEX")
	if !ok || !sex.Required || len(sex.Terminology) == 0 {
		t.Fatalf("unexpected SEX definition: %+v", sex)
	}

	req := dm.RequiredVariables()
	if len(req) == 0 {
		t.Fatal("DM must have required variables")
	}
	for _, v := range req {
		if !v.Required {
			t.Fatalf("RequiredVariables returned optional %s", v.Name)
		}
	}

	if _, ok := catalog.Domain("ZZ"); ok {
		t.Fatal("unknown domain should not resolve")
	}
}
