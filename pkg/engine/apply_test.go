package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
)

func TestApplier_FinsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := newMockRepo()
	journal := &memJournal{}
	a := NewApplier(widgetSchema(), repo, ApplierConfig{Journal: journal})

	first, err := a.Finsert(ctx, &widget{Name: "alpha", Label: strPtr("one")})
	if err != nil {
		t.Fatalf("first finsert failed: %v", err)
	}
	second, err := a.Finsert(ctx, &widget{Name: "alpha", Label: strPtr("two")})
	if err != nil {
		t.Fatalf("second finsert failed: %v", err)
	}

	if first.ID == "" || first.ID != second.ID {
		t.Fatalf("expected the same id twice, got %q and %q", first.ID, second.ID)
	}
	if second.Label == nil || *second.Label != "one" {
		t.Errorf("finsert must not modify a found entity, got label %v", second.Label)
	}
	if repo.createCalls != 1 || repo.updateCalls != 0 {
		t.Errorf("expected 1 create and 0 updates, got %d and %d", repo.createCalls, repo.updateCalls)
	}

	actions := journal.actions()
	if len(actions) != 2 || actions[0] != OperationCreate || actions[1] != OperationNoop {
		t.Errorf("unexpected journal actions: %v", actions)
	}
}

func TestApplier_UpsertConverges(t *testing.T) {
	ctx := context.Background()
	repo := newMockRepo()
	repo.seed(widget{ID: "wid_1", Name: "alpha", Label: strPtr("old")})
	a := NewApplier(widgetSchema(), repo, ApplierConfig{})

	got, err := a.Upsert(ctx, &widget{Name: "alpha", Label: strPtr("new")})
	if err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if got.ID != "wid_1" || got.Label == nil || *got.Label != "new" {
		t.Fatalf("unexpected result: %+v", got)
	}

	again, err := a.Upsert(ctx, &widget{Name: "alpha", Label: strPtr("new")})
	if err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}
	if again.ID != got.ID || *again.Label != "new" {
		t.Errorf("second upsert diverged: %+v", again)
	}
	if repo.createCalls != 0 {
		t.Errorf("expected no creates, got %d", repo.createCalls)
	}
}

func TestApplier_UpsertKeepsAbsentFields(t *testing.T) {
	repo := newMockRepo()
	repo.seed(widget{ID: "wid_1", Name: "alpha", Label: strPtr("kept")})
	a := NewApplier(widgetSchema(), repo, ApplierConfig{})

	got, err := a.Upsert(context.Background(), &widget{Name: "alpha"})
	if err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if got.Label == nil || *got.Label != "kept" {
		t.Errorf("absent field must not be cleared, got %v", got.Label)
	}
}

func TestApplier_IDMismatchIsAmbiguous(t *testing.T) {
	repo := newMockRepo()
	repo.seed(widget{ID: "wid_1", Name: "alpha"})
	a := NewApplier(widgetSchema(), repo, ApplierConfig{})

	for _, mode := range []ApplyMode{ModeFinsert, ModeUpsert} {
		_, err := a.Apply(context.Background(), &widget{ID: "wid_2", Name: "alpha"}, mode)
		if !IsAmbiguous(err) {
			t.Errorf("%s: expected ambiguity error, got %v", mode, err)
		}
	}
	if repo.updateCalls != 0 || repo.createCalls != 0 {
		t.Errorf("guard must fire before any write")
	}
}

func TestApplier_MissingPrimaryAfterCreate(t *testing.T) {
	repo := newMockRepo()
	repo.dropID = true
	a := NewApplier(widgetSchema(), repo, ApplierConfig{})

	_, err := a.Finsert(context.Background(), &widget{Name: "alpha"})
	if !IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

func TestApplier_TransportErrorPassesThrough(t *testing.T) {
	sentinel := errors.New("connection reset")
	repo := newMockRepo()
	repo.createErr = sentinel
	journal := &memJournal{}
	a := NewApplier(widgetSchema(), repo, ApplierConfig{Journal: journal})

	_, err := a.Finsert(context.Background(), &widget{Name: "alpha"})
	if err != sentinel {
		t.Fatalf("expected the transport error unchanged, got %v", err)
	}
	if len(journal.records) != 1 || journal.records[0].Err != sentinel {
		t.Errorf("expected the failure to be journaled, got %+v", journal.records)
	}
}

func TestApplier_IdempotencyKeyAttached(t *testing.T) {
	repo := newMockRepo()
	a := NewApplier(widgetSchema(), repo, ApplierConfig{})

	if _, err := a.Finsert(context.Background(), &widget{Name: "alpha"}); err != nil {
		t.Fatalf("finsert failed: %v", err)
	}

	want, err := DeriveIdempotencyKey("v1.0.0", map[string]any{"name": "alpha"})
	if err != nil {
		t.Fatalf("derive failed: %v", err)
	}
	if len(repo.idemKeys) != 1 || repo.idemKeys[0] != want {
		t.Errorf("expected idempotency key %s, got %v", want, repo.idemKeys)
	}
}

func TestApplier_RejectsMissingUniqueKey(t *testing.T) {
	a := NewApplier(widgetSchema(), newMockRepo(), ApplierConfig{})

	if _, err := a.Upsert(context.Background(), &widget{}); !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := a.Apply(context.Background(), &widget{Name: "a"}, ApplyMode("merge")); !IsValidation(err) {
		t.Fatalf("expected validation error for bad mode, got %v", err)
	}
}

func TestApplier_InsertAlwaysCreates(t *testing.T) {
	schema := widgetSchema()
	schema.UniqueOf = nil
	repo := newMockRepo()
	a := NewApplier(schema, repo, ApplierConfig{})

	if _, err := a.Insert(context.Background(), &widget{Name: "coupon"}); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if _, err := a.Finsert(context.Background(), &widget{Name: "coupon"}); !IsValidation(err) {
		t.Fatalf("finsert on a kind without unique key must fail, got %v", err)
	}
}

func TestApplier_Plan(t *testing.T) {
	ctx := context.Background()
	repo := newMockRepo()
	repo.seed(widget{ID: "wid_1", Name: "alpha"})
	a := NewApplier(widgetSchema(), repo, ApplierConfig{})

	tests := []struct {
		name string
		w    widget
		mode ApplyMode
		want OperationType
	}{
		{name: "create", w: widget{Name: "beta"}, mode: ModeUpsert, want: OperationCreate},
		{name: "noop", w: widget{Name: "alpha"}, mode: ModeFinsert, want: OperationNoop},
		{name: "update", w: widget{Name: "alpha"}, mode: ModeUpsert, want: OperationUpdate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _, err := a.Plan(ctx, &tt.w, tt.mode)
			if err != nil {
				t.Fatalf("plan failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
	if repo.createCalls+repo.updateCalls != 0 {
		t.Errorf("plan must not write")
	}
}

func TestApplier_LockerSerializesSameKey(t *testing.T) {
	repo := newMockRepo()
	a := NewApplier(widgetSchema(), repo, ApplierConfig{Locker: NewLocalLocker()})

	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			label := string(rune('a' + i))
			w, err := a.Finsert(context.Background(), &widget{Name: "shared", Label: &label})
			if err != nil {
				t.Errorf("finsert failed: %v", err)
				return
			}
			ids[i] = w.ID
		}()
	}
	wg.Wait()

	if repo.createCalls != 1 {
		t.Fatalf("expected exactly one create, got %d", repo.createCalls)
	}
	for _, id := range ids {
		if id != ids[0] {
			t.Fatalf("expected a single id, got %v", ids)
		}
	}
}

// keyingRepo canonicalizes widget names case-insensitively for locking.
type keyingRepo struct {
	*mockRepo
	lockKeyCalls int
}

func (r *keyingRepo) LockKey(_ context.Context, name string) (string, error) {
	r.mu.Lock()
	r.lockKeyCalls++
	r.mu.Unlock()
	return strings.ToLower(name), nil
}

// keyRecorder is a KeyLocker that records the keys it is asked for.
type keyRecorder struct {
	mu   sync.Mutex
	keys []string
}

func (l *keyRecorder) Lock(_ context.Context, key string) (func(context.Context) error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys = append(l.keys, key)
	return func(context.Context) error { return nil }, nil
}

func TestApplier_LockKeyCanonicalizesReferences(t *testing.T) {
	repo := &keyingRepo{mockRepo: newMockRepo()}
	locker := &keyRecorder{}
	a := NewApplier(widgetSchema(), Repository[widget, string](repo), ApplierConfig{Locker: locker})

	for _, name := range []string{"Shared", "SHARED"} {
		if _, err := a.Finsert(context.Background(), &widget{Name: name}); err != nil {
			t.Fatalf("finsert %s failed: %v", name, err)
		}
	}

	if len(locker.keys) != 2 || locker.keys[0] != "widget/shared" || locker.keys[1] != locker.keys[0] {
		t.Errorf("expected both writes to lock widget/shared, got %v", locker.keys)
	}
}

func TestApplier_LockKeySkippedWithoutLocker(t *testing.T) {
	repo := &keyingRepo{mockRepo: newMockRepo()}
	a := NewApplier(widgetSchema(), Repository[widget, string](repo), ApplierConfig{})

	if _, err := a.Finsert(context.Background(), &widget{Name: "shared"}); err != nil {
		t.Fatalf("finsert failed: %v", err)
	}
	if repo.lockKeyCalls != 0 {
		t.Errorf("expected no lock key lookups with the default locker, got %d", repo.lockKeyCalls)
	}
}
