package config

import (
	"testing"
)

func ptr[T any](v T) *T { return &v }

func TestSchemaRegistry_BuiltIns(t *testing.T) {
	sr := NewSchemaRegistry()

	want := []string{"coupon", "customer", "document", "invoice", "invoiceitem", "product"}
	got := sr.ListSchemas()
	if len(got) != len(want) {
		t.Fatalf("expected schemas %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("schema %d: expected %s, got %s", i, want[i], got[i])
		}
	}

	if _, ok := sr.GetSchema("document"); !ok {
		t.Error("document schema not registered")
	}
	if _, ok := sr.GetSchema("nope"); ok {
		t.Error("unexpected schema")
	}
}

func TestSchemaRegistry_ValidateProduct(t *testing.T) {
	sr := NewSchemaRegistry()

	tests := []struct {
		name    string
		product ProductConfig
		wantErr bool
	}{
		{"minimal", ProductConfig{ID: "pro"}, false},
		{"full", ProductConfig{ID: "pro", Name: ptr("Pro"), Active: ptr(true), URL: ptr("https://example.com"), Price: ptr(int64(100)), Metadata: map[string]string{"a": "b"}}, false},
		{"empty id", ProductConfig{}, true},
		{"bad id", ProductConfig{ID: "pro plan"}, true},
		{"negative price", ProductConfig{ID: "pro", Price: ptr(int64(-1))}, true},
		{"bad url", ProductConfig{ID: "pro", URL: ptr("example.com")}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := sr.ValidateProduct(tt.product)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateProduct() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSchemaRegistry_ValidateCustomer(t *testing.T) {
	sr := NewSchemaRegistry()

	if err := sr.ValidateCustomer(CustomerConfig{Email: "ada@example.com", Name: ptr("Ada")}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := sr.ValidateCustomer(CustomerConfig{Email: "ada"}); err == nil {
		t.Error("expected error for invalid email")
	}
}

func TestSchemaRegistry_ValidateInvoice(t *testing.T) {
	sr := NewSchemaRegistry()

	valid := InvoiceConfig{
		Exid:     "2024-05",
		Customer: "ada@example.com",
		Target:   "paid",
		Items: &[]InvoiceItemConfig{{
			Exid:      "seat-1",
			Product:   "pro",
			Discounts: &[]CouponConfig{{Duration: "repeating", DurationInMonths: ptr(int64(3)), AmountOff: ptr(int64(500))}},
		}},
	}
	if err := sr.ValidateInvoice(valid); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*InvoiceConfig)
	}{
		{"missing exid", func(i *InvoiceConfig) { i.Exid = "" }},
		{"bad target", func(i *InvoiceConfig) { i.Target = "shipped" }},
		{"bad collection method", func(i *InvoiceConfig) { i.CollectionMethod = ptr("cash") }},
		{"item without product", func(i *InvoiceConfig) { (*i.Items)[0].Product = "" }},
		{"coupon with bad duration", func(i *InvoiceConfig) { (*(*i.Items)[0].Discounts)[0].Duration = "weekly" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := valid
			items := []InvoiceItemConfig{(*valid.Items)[0]}
			coupons := []CouponConfig{(*(*valid.Items)[0].Discounts)[0]}
			items[0].Discounts = &coupons
			inv.Items = &items

			tt.mutate(&inv)
			if err := sr.ValidateInvoice(inv); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestSchemaRegistry_RegisterSchema(t *testing.T) {
	sr := NewSchemaRegistry()

	if err := sr.RegisterSchema("seats", `{count: int & >0 & <=50}`); err != nil {
		t.Fatalf("RegisterSchema failed: %v", err)
	}
	if err := sr.ValidateAgainstSchema("seats", map[string]interface{}{"count": 10}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := sr.ValidateAgainstSchema("seats", map[string]interface{}{"count": 51}); err == nil {
		t.Error("expected error for count above limit")
	}
	if err := sr.ValidateAgainstSchema("missing", nil); err == nil {
		t.Error("expected error for unknown schema")
	}
	if err := sr.RegisterSchema("broken", `{count: `); err == nil {
		t.Error("expected compile error")
	}
}
