package condition

import (
	"encoding/json"
	"testing"
)

func mustParse(t *testing.T, raw string) any {
	t.Helper()
	doc, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse(%q) error = %v", raw, err)
	}
	return doc
}

func TestResolve(t *testing.T) {
	doc := `{
		"eventType": "api.call",
		"geolocation": {"countryCode": "DE", "lat": 48.1264019},
		"items": [{"name": "item1"}, {"name": "item2", "tags": ["a", "b"]}],
		"nothing": null,
		"matrix": {"rows": [[1, 2], [3, 4]]},
		"weird[key": "literal"
	}`
	root := mustParse(t, doc)

	tests := []struct {
		name      string
		path      string
		wantFound bool
		wantText  string
	}{
		{name: "top-level field", path: "eventType", wantFound: true, wantText: "api.call"},
		{name: "nested field", path: "geolocation.countryCode", wantFound: true, wantText: "DE"},
		{name: "number keeps literal text", path: "geolocation.lat", wantFound: true, wantText: "48.1264019"},
		{name: "array element field", path: "items[0].name", wantFound: true, wantText: "item1"},
		{name: "second array element", path: "items[1].name", wantFound: true, wantText: "item2"},
		{name: "indexed leaf", path: "items[1].tags[1]", wantFound: true, wantText: "b"},
		{name: "object value", path: "geolocation", wantFound: true, wantText: `{"countryCode":"DE","lat":48.1264019}`},
		{name: "explicit null is found", path: "nothing", wantFound: true, wantText: "null"},
		{name: "literal key without closing bracket", path: "weird[key", wantFound: true, wantText: "literal"},
		{name: "trailing dot ignored", path: "eventType.", wantFound: true, wantText: "api.call"},
		{name: "empty path", path: "", wantFound: false},
		{name: "missing field", path: "nonExistent", wantFound: false},
		{name: "missing intermediate", path: "extra.userId", wantFound: false},
		{name: "descend into scalar", path: "eventType.length", wantFound: false},
		{name: "index out of bounds", path: "items[5].name", wantFound: false},
		{name: "index on non-array", path: "geolocation[0]", wantFound: false},
		{name: "non-integer index", path: "items[x].name", wantFound: false},
		{name: "negative index", path: "items[-1].name", wantFound: false},
		{name: "index on missing field", path: "missing[0]", wantFound: false},
		{name: "field access on array", path: "items.name", wantFound: false},
		{name: "descend through null", path: "nothing.inner", wantFound: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, found := Resolve(root, tt.path)
			if found != tt.wantFound {
				t.Fatalf("Resolve(%q) found = %v, want %v", tt.path, found, tt.wantFound)
			}
			if !found {
				return
			}
			if text := Text(got); text != tt.wantText {
				t.Errorf("Resolve(%q) = %q, want %q", tt.path, text, tt.wantText)
			}
		})
	}
}

func TestResolve_NonObjectRoot(t *testing.T) {
	for _, raw := range []string{`[1,2,3]`, `"text"`, `42`, `null`} {
		root := mustParse(t, raw)
		if _, found := Resolve(root, "a"); found {
			t.Errorf("Resolve on root %s should be missing", raw)
		}
	}
}

func TestParse(t *testing.T) {
	if _, err := Parse([]byte("invalid json")); err == nil {
		t.Error("Parse() of invalid JSON should fail")
	}
	if _, err := Parse([]byte(`{"a":1} {"b":2}`)); err == nil {
		t.Error("Parse() with trailing data should fail")
	}

	doc, err := Parse([]byte(`{"n": 12345678901234567890}`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	n, _ := Resolve(doc, "n")
	if _, ok := n.(json.Number); !ok {
		t.Errorf("expected json.Number, got %T", n)
	}
	if Text(n) != "12345678901234567890" {
		t.Errorf("Text() = %q, want literal digits", Text(n))
	}
}

func TestText(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"string", "plain", "plain"},
		{"true", true, "true"},
		{"false", false, "false"},
		{"null", nil, "null"},
		{"number", json.Number("3.50"), "3.50"},
		{"array", []any{"a", json.Number("1")}, `["a",1]`},
		{"html not escaped", map[string]any{"k": "<b>&"}, `{"k":"<b>&"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Text(tt.in); got != tt.want {
				t.Errorf("Text() = %q, want %q", got, tt.want)
			}
		})
	}
}
