package engine

import (
	"testing"
)

func TestDeriveIdempotencyKey_Stable(t *testing.T) {
	a, err := DeriveIdempotencyKey("v1.0.0", map[string]any{"exid": "inv-1", "customerRef": map[string]any{"email": "a@b.c"}})
	if err != nil {
		t.Fatalf("derive failed: %v", err)
	}
	b, err := DeriveIdempotencyKey("v1.0.0", struct {
		CustomerRef map[string]string `json:"customerRef"`
		Exid        string            `json:"exid"`
	}{CustomerRef: map[string]string{"email": "a@b.c"}, Exid: "inv-1"})
	if err != nil {
		t.Fatalf("derive failed: %v", err)
	}

	if a != b {
		t.Errorf("equal fields must give equal keys: %s != %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("expected a hex sha256, got %q", a)
	}
}

func TestDeriveIdempotencyKey_Sensitivity(t *testing.T) {
	base, _ := DeriveIdempotencyKey("v1.0.0", map[string]any{"id": "p1"})

	tests := []struct {
		name    string
		version string
		fields  any
	}{
		{name: "version bump", version: "v1.0.1", fields: map[string]any{"id": "p1"}},
		{name: "different value", version: "v1.0.0", fields: map[string]any{"id": "p2"}},
		{name: "extra field", version: "v1.0.0", fields: map[string]any{"id": "p1", "name": "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DeriveIdempotencyKey(tt.version, tt.fields)
			if err != nil {
				t.Fatalf("derive failed: %v", err)
			}
			if got == base {
				t.Errorf("expected a different key")
			}
		})
	}
}

func TestCanonicalJSON(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{name: "sorted keys", in: map[string]any{"b": 1, "a": 2}, want: `{"a":2,"b":1}`},
		{name: "no html escaping", in: map[string]any{"q": "<a&b>"}, want: `{"q":"<a&b>"}`},
		{name: "large number verbatim", in: map[string]any{"n": int64(9007199254740993)}, want: `{"n":9007199254740993}`},
		// "e" followed by a combining acute accent composes to "é".
		{name: "nfc", in: map[string]any{"name": "Cafe\u0301"}, want: "{\"name\":\"Caf\u00e9\"}"},
		{name: "nested", in: []any{map[string]any{"z": nil, "y": true}}, want: `[{"y":true,"z":null}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CanonicalJSON(tt.in)
			if err != nil {
				t.Fatalf("canonical failed: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestDeriveIdempotencyKey_UnsupportedValue(t *testing.T) {
	if _, err := DeriveIdempotencyKey("v1", map[string]any{"ch": make(chan int)}); err == nil {
		t.Fatal("expected an error for a non-serializable value")
	}
}
