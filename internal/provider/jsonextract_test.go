package provider

import "testing"

func TestExtractJSONObjectBare(t *testing.T) {
	raw := `{"disease":"Leaf Rust","confidence":0.9}`
	got, ok := ExtractJSONObject(raw)
	if !ok {
		t.Fatalf("expected extraction to succeed")
	}
	if got != raw {
		t.Fatalf("expected %q, got %q", raw, got)
	}
}

func TestExtractJSONObjectFenced(t *testing.T) {
	raw := "```json\n{\"disease\":\"Leaf Rust\"}\n```"
	got, ok := ExtractJSONObject(raw)
	if !ok {
		t.Fatalf("expected extraction to succeed")
	}
	if got != `{"disease":"Leaf Rust"}` {
		t.Fatalf("unexpected extraction: %q", got)
	}
}

func TestExtractJSONObjectWithPreamble(t *testing.T) {
	raw := "Here is my analysis of the plant image:\n{\"disease\":\"Powdery Mildew\",\"confidence\":0.7}\nLet me know if you need more detail."
	got, ok := ExtractJSONObject(raw)
	if !ok {
		t.Fatalf("expected extraction to succeed")
	}
	if got != `{"disease":"Powdery Mildew","confidence":0.7}` {
		t.Fatalf("unexpected extraction: %q", got)
	}
}

func TestExtractJSONObjectNoJSON(t *testing.T) {
	if _, ok := ExtractJSONObject("the plant looks healthy to me"); ok {
		t.Fatalf("expected extraction to fail for plain prose")
	}
}

func TestExtractJSONObjectFencedWithoutLanguage(t *testing.T) {
	raw := "```\n{\"disease\":\"Blight\"}\n```"
	got, ok := ExtractJSONObject(raw)
	if !ok {
		t.Fatalf("expected extraction to succeed")
	}
	if got != `{"disease":"Blight"}` {
		t.Fatalf("unexpected extraction: %q", got)
	}
}
