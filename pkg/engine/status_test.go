package engine

import (
	"strings"
	"testing"
)

func TestTransition(t *testing.T) {
	tests := []struct {
		verb    LifecycleVerb
		current InvoiceStatus
		want    TransitionDecision
		wantErr string
	}{
		{verb: VerbOpen, current: InvoiceStatusDraft, want: TransitionExecute},
		{verb: VerbOpen, current: InvoiceStatusOpen, want: TransitionAlreadyDone},
		{verb: VerbOpen, current: InvoiceStatusPaid, wantErr: "not in draft"},
		{verb: VerbOpen, current: InvoiceStatusVoid, wantErr: "not in draft"},

		{verb: VerbCharge, current: InvoiceStatusOpen, want: TransitionExecute},
		{verb: VerbCharge, current: InvoiceStatusPaid, want: TransitionAlreadyDone},
		{verb: VerbCharge, current: InvoiceStatusDraft, wantErr: "not open"},
		{verb: VerbCharge, current: InvoiceStatusVoid, wantErr: "not open"},

		{verb: VerbVoid, current: InvoiceStatusOpen, want: TransitionExecute},
		{verb: VerbVoid, current: InvoiceStatusVoid, want: TransitionAlreadyDone},
		{verb: VerbVoid, current: InvoiceStatusDraft, wantErr: "not open"},
		{verb: VerbVoid, current: InvoiceStatusPaid, wantErr: "not open"},

		{verb: VerbSend, current: InvoiceStatusOpen, want: TransitionExecute},
		{verb: VerbSend, current: InvoiceStatusPaid, wantErr: "already paid"},
		{verb: VerbSend, current: InvoiceStatusDraft, wantErr: "not open"},
		{verb: VerbSend, current: InvoiceStatusVoid, wantErr: "not open"},
		{verb: VerbSend, current: InvoiceStatusUncollectible, wantErr: "not open"},
	}

	for _, tt := range tests {
		t.Run(string(tt.verb)+"_from_"+string(tt.current), func(t *testing.T) {
			got, err := Transition(tt.verb, tt.current)
			if tt.wantErr != "" {
				if !IsValidation(err) {
					t.Fatalf("expected validation error, got %v", err)
				}
				if !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("expected message containing %q, got %q", tt.wantErr, err.Error())
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected decision %d, got %d", tt.want, got)
			}
		})
	}
}

func TestTransition_UnknownVerb(t *testing.T) {
	if _, err := Transition("refund", InvoiceStatusOpen); !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestTargetStatus(t *testing.T) {
	tests := map[LifecycleVerb]InvoiceStatus{
		VerbOpen:   InvoiceStatusOpen,
		VerbCharge: InvoiceStatusPaid,
		VerbVoid:   InvoiceStatusVoid,
		VerbSend:   InvoiceStatusOpen,
	}
	for verb, want := range tests {
		if got := TargetStatus(verb); got != want {
			t.Errorf("%s: expected %s, got %s", verb, want, got)
		}
	}
}

func TestInvoiceStatus(t *testing.T) {
	if !InvoiceStatusPaid.IsTerminal() || !InvoiceStatusVoid.IsTerminal() {
		t.Error("paid and void must be terminal")
	}
	if InvoiceStatusDraft.IsTerminal() || InvoiceStatusOpen.IsTerminal() {
		t.Error("draft and open must not be terminal")
	}
	if err := InvoiceStatus("deleted").Validate(); err == nil {
		t.Error("expected unknown status to fail validation")
	}
}

func TestOperationType(t *testing.T) {
	if OperationNoop.IsMutating() {
		t.Error("noop must not be mutating")
	}
	for _, op := range []OperationType{OperationCreate, OperationUpdate, OperationDelete, OperationTransition} {
		if !op.IsMutating() {
			t.Errorf("%s must be mutating", op)
		}
		if err := op.Validate(); err != nil {
			t.Errorf("%s: unexpected validation error %v", op, err)
		}
	}
}
