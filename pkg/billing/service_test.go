package billing

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/declabill/declabill/pkg/engine"
	"github.com/declabill/declabill/pkg/remote"
)

func ptr[T any](v T) *T { return &v }

// recordingJournal keeps every record. Reconciler deletes journal from
// several goroutines.
type recordingJournal struct {
	mu      sync.Mutex
	records []engine.OperationRecord
}

func (j *recordingJournal) Record(_ context.Context, rec engine.OperationRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.records = append(j.records, rec)
	return nil
}

func (j *recordingJournal) last() engine.OperationRecord {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.records[len(j.records)-1]
}

func newService(t *testing.T) (*Service, *remote.MemoryAPI, *recordingJournal) {
	t.Helper()
	api := remote.NewMemoryAPI()
	journal := &recordingJournal{}
	s := NewService(api, Config{Journal: journal})
	t.Cleanup(s.Close)
	return s, api, journal
}

// seedDraft creates product p1 at 19700, customer a@b.c and draft inv-1.
func seedDraft(t *testing.T, s *Service) *Invoice {
	t.Helper()
	ctx := context.Background()

	_, err := s.SetProduct(ctx, &Product{ID: "p1", Name: ptr("Plan"), Price: ptr(int64(19700))}, engine.ModeFinsert)
	require.NoError(t, err)
	_, err = s.SetCustomer(ctx, &Customer{Email: "a@b.c", Name: ptr("Ada")}, engine.ModeFinsert)
	require.NoError(t, err)
	inv, err := s.GenInvoiceDraft(ctx, &Invoice{Exid: "inv-1", Customer: CustomerByEmail("a@b.c")})
	require.NoError(t, err)
	return inv
}

func TestProductFinsertKeepsFirstWrite(t *testing.T) {
	s, api, _ := newService(t)
	ctx := context.Background()

	first, err := s.SetProduct(ctx, &Product{
		ID:          "p1",
		Name:        ptr("Plan"),
		Description: ptr("first"),
		Price:       ptr(int64(19700)),
	}, engine.ModeFinsert)
	require.NoError(t, err)

	second, err := s.SetProduct(ctx, &Product{
		ID:          "p1",
		Name:        ptr("Plan"),
		Description: ptr("second"),
		Price:       ptr(int64(19700)),
	}, engine.ModeFinsert)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "first", *second.Description)
	assert.Equal(t, int64(19700), *second.Price)
	assert.True(t, decimal.NewFromInt(197).Equal(second.Major()))
	assert.Equal(t, 1, api.Calls("CreateProduct"))
	assert.Equal(t, 0, api.Calls("UpdateProduct"))
}

func TestProductUpsertReplacesPrice(t *testing.T) {
	s, api, _ := newService(t)
	ctx := context.Background()

	created, err := s.SetProduct(ctx, &Product{ID: "p1", Name: ptr("Plan"), Price: ptr(int64(19700))}, engine.ModeUpsert)
	require.NoError(t, err)

	t.Run("same price keeps the default price", func(t *testing.T) {
		got, err := s.SetProduct(ctx, &Product{ID: "p1", Description: ptr("monthly"), Price: ptr(int64(19700))}, engine.ModeUpsert)
		require.NoError(t, err)
		assert.Equal(t, created.PriceID, got.PriceID)
		assert.Equal(t, "monthly", *got.Description)
		assert.Equal(t, "Plan", *got.Name)
		assert.Equal(t, 0, api.Calls("CreatePrice"))
	})

	t.Run("new price becomes the default", func(t *testing.T) {
		got, err := s.SetProduct(ctx, &Product{ID: "p1", Price: ptr(int64(25000))}, engine.ModeUpsert)
		require.NoError(t, err)
		assert.NotEqual(t, created.PriceID, got.PriceID)
		assert.Equal(t, int64(25000), *got.Price)
		assert.Equal(t, 1, api.Calls("CreatePrice"))
	})

	t.Run("creating without a price is rejected", func(t *testing.T) {
		_, err := s.SetProduct(ctx, &Product{ID: "p2", Name: ptr("Free")}, engine.ModeUpsert)
		assert.True(t, engine.IsValidation(err))
	})
}

func TestCustomerFinsertAndUpsert(t *testing.T) {
	s, api, journal := newService(t)
	ctx := context.Background()

	first, err := s.SetCustomer(ctx, &Customer{Email: "a@b.c", Name: ptr("Ada")}, engine.ModeFinsert)
	require.NoError(t, err)
	assert.Equal(t, engine.OperationCreate, journal.last().Action)
	assert.NotEmpty(t, journal.last().IdempotencyKey)

	t.Run("finsert is idempotent", func(t *testing.T) {
		again, err := s.SetCustomer(ctx, &Customer{Email: "a@b.c", Name: ptr("Somebody else")}, engine.ModeFinsert)
		require.NoError(t, err)
		assert.Equal(t, first.ID, again.ID)
		assert.Equal(t, "Ada", *again.Name)
		assert.Equal(t, engine.OperationNoop, journal.last().Action)
		assert.Equal(t, 1, api.Calls("CreateCustomer"))
	})

	t.Run("upsert converges", func(t *testing.T) {
		_, err := s.SetCustomer(ctx, &Customer{Email: "a@b.c", Phone: ptr("+100")}, engine.ModeUpsert)
		require.NoError(t, err)
		got, err := s.SetCustomer(ctx, &Customer{Email: "a@b.c", Name: ptr("Grace")}, engine.ModeUpsert)
		require.NoError(t, err)
		assert.Equal(t, first.ID, got.ID)
		assert.Equal(t, "Grace", *got.Name)
		assert.Equal(t, "+100", *got.Phone, "absent fields are left alone")
	})

	t.Run("conflicting expected id", func(t *testing.T) {
		_, err := s.SetCustomer(ctx, &Customer{ID: "cus_999999", Email: "a@b.c"}, engine.ModeUpsert)
		assert.True(t, engine.IsAmbiguous(err))
	})

	t.Run("invalid email", func(t *testing.T) {
		_, err := s.SetCustomer(ctx, &Customer{Email: "not-an-email"}, engine.ModeUpsert)
		require.Error(t, err)
		assert.True(t, engine.IsValidation(err))
		assert.Contains(t, err.Error(), "email")
	})
}

func TestResolution(t *testing.T) {
	s, api, _ := newService(t)
	ctx := context.Background()

	t.Run("unknown primary id", func(t *testing.T) {
		got, err := s.GetCustomer(ctx, CustomerByID("cus_404"))
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("no unique match", func(t *testing.T) {
		got, err := s.GetCustomer(ctx, CustomerByEmail("nobody@b.c"))
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("several unique matches", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			_, err := api.CreateCustomer(ctx, &remote.CustomerParams{Email: remote.String("twin@b.c")}, "")
			require.NoError(t, err)
		}
		_, err := s.GetCustomer(ctx, CustomerByEmail("twin@b.c"))
		assert.True(t, engine.IsAmbiguous(err))
	})

	t.Run("snapshot without id resolves by unique key", func(t *testing.T) {
		created, err := s.SetCustomer(ctx, &Customer{Email: "snap@b.c"}, engine.ModeFinsert)
		require.NoError(t, err)
		got, err := s.GetCustomer(ctx, engine.RefByEntity[Customer, CustomerKey](&Customer{Email: "snap@b.c"}))
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, created.ID, got.ID)
	})

	t.Run("unknown product", func(t *testing.T) {
		got, err := s.GetProduct(ctx, ProductByID("nope"))
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestGenInvoiceDraft(t *testing.T) {
	s, api, _ := newService(t)
	ctx := context.Background()
	draft := seedDraft(t, s)

	assert.Equal(t, engine.InvoiceStatusDraft, draft.Status)
	assert.Equal(t, "inv-1", draft.Exid)

	t.Run("found draft is returned", func(t *testing.T) {
		again, err := s.GenInvoiceDraft(ctx, &Invoice{Exid: "inv-1", Customer: CustomerByEmail("a@b.c")})
		require.NoError(t, err)
		assert.Equal(t, draft.ID, again.ID)
		assert.Equal(t, 1, api.Calls("CreateInvoice"))
	})

	t.Run("lookup by exid", func(t *testing.T) {
		got, err := s.GetInvoice(ctx, InvoiceByExid(CustomerByEmail("a@b.c"), "inv-1"))
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, draft.ID, got.ID)
	})

	t.Run("unknown customer", func(t *testing.T) {
		_, err := s.GenInvoiceDraft(ctx, &Invoice{Exid: "inv-1", Customer: CustomerByEmail("ghost@b.c")})
		assert.True(t, engine.IsValidation(err))
	})

	t.Run("issued invoice can not be drafted", func(t *testing.T) {
		_, err := s.OpenInvoice(ctx, InvoiceByID(draft.ID), nil)
		require.NoError(t, err)
		_, err = s.GenInvoiceDraft(ctx, &Invoice{Exid: "inv-1", Customer: CustomerByEmail("a@b.c")})
		require.Error(t, err)
		assert.True(t, engine.IsValidation(err))
		assert.Contains(t, err.Error(), "already issued")
	})

	t.Run("voided invoice is not found by exid", func(t *testing.T) {
		_, err := s.VoidInvoice(ctx, InvoiceByID(draft.ID))
		require.NoError(t, err)
		got, err := s.GetInvoice(ctx, InvoiceByExid(CustomerByEmail("a@b.c"), "inv-1"))
		require.NoError(t, err)
		assert.Nil(t, got)

		byID, err := s.GetInvoice(ctx, InvoiceByID(draft.ID))
		require.NoError(t, err)
		require.NotNil(t, byID)
		assert.Equal(t, engine.InvoiceStatusVoid, byID.Status)
	})

	t.Run("transport errors pass through", func(t *testing.T) {
		boom := errors.New("connection reset")
		api.FailNext("CreateInvoice", boom)
		_, err := s.GenInvoiceDraft(ctx, &Invoice{Exid: "inv-2", Customer: CustomerByEmail("a@b.c")})
		assert.ErrorIs(t, err, boom)
		var engErr *engine.EngineError
		assert.False(t, errors.As(err, &engErr))
	})
}

func TestInvoiceLifecycle(t *testing.T) {
	s, _, journal := newService(t)
	ctx := context.Background()
	draft := seedDraft(t, s)
	ref := InvoiceByID(draft.ID)

	_, err := s.ChargeInvoice(ctx, ref)
	require.Error(t, err, "a draft can not be charged")
	assert.True(t, engine.IsValidation(err))
	assert.Contains(t, err.Error(), "not open")

	opened, err := s.OpenInvoice(ctx, ref, ptr(true))
	require.NoError(t, err)
	assert.Equal(t, engine.InvoiceStatusOpen, opened.Status)
	assert.True(t, *opened.AutoAdvance)
	assert.NotNil(t, opened.PortalURL)
	assert.Equal(t, engine.OperationTransition, journal.last().Action)

	again, err := s.OpenInvoice(ctx, ref, nil)
	require.NoError(t, err)
	assert.Equal(t, opened.ID, again.ID)
	assert.Equal(t, engine.InvoiceStatusOpen, again.Status)
	assert.Equal(t, engine.OperationNoop, journal.last().Action)
	assert.Equal(t, "open", journal.last().Detail)

	sent, err := s.SendInvoice(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, engine.InvoiceStatusOpen, sent.Status)

	paid, err := s.ChargeInvoice(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, engine.InvoiceStatusPaid, paid.Status)
	assert.NotNil(t, paid.ChargeID)

	paidAgain, err := s.ChargeInvoice(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, engine.InvoiceStatusPaid, paidAgain.Status)

	_, err = s.SendInvoice(ctx, ref)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already paid")

	_, err = s.VoidInvoice(ctx, ref)
	assert.True(t, engine.IsValidation(err))
}

func TestInvoiceVoid(t *testing.T) {
	s, _, _ := newService(t)
	ctx := context.Background()
	draft := seedDraft(t, s)
	ref := InvoiceByID(draft.ID)

	_, err := s.VoidInvoice(ctx, ref)
	assert.True(t, engine.IsValidation(err), "a draft can not be voided")

	_, err = s.OpenInvoice(ctx, ref, nil)
	require.NoError(t, err)
	voided, err := s.VoidInvoice(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, engine.InvoiceStatusVoid, voided.Status)

	again, err := s.VoidInvoice(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, engine.InvoiceStatusVoid, again.Status)

	_, err = s.ChargeInvoice(ctx, ref)
	assert.True(t, engine.IsValidation(err))

	_, err = s.Transition(ctx, ref, engine.LifecycleVerb("refund"))
	assert.True(t, engine.IsValidation(err))
}

func TestLifecycleOnMissingInvoice(t *testing.T) {
	s, _, journal := newService(t)
	ctx := context.Background()

	for _, verb := range []engine.LifecycleVerb{engine.VerbOpen, engine.VerbCharge, engine.VerbVoid, engine.VerbSend} {
		t.Run(string(verb), func(t *testing.T) {
			_, err := s.Transition(ctx, InvoiceByID("in_404"), verb)
			require.Error(t, err)
			assert.True(t, engine.IsValidation(err))
			assert.Contains(t, err.Error(), "does not exist")
			assert.Equal(t, string(verb), journal.last().Detail)
			assert.Error(t, journal.last().Err)
		})
	}
}

// keyRecorder is a KeyLocker that records every key it locks.
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

func (l *keyRecorder) since(n int) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.keys[n:]...)
}

func TestLockKeysIgnoreRefSpelling(t *testing.T) {
	locker := &keyRecorder{}
	s := NewService(remote.NewMemoryAPI(), Config{Locker: locker})
	t.Cleanup(s.Close)
	ctx := context.Background()

	_, err := s.SetProduct(ctx, &Product{ID: "p1", Name: ptr("Plan"), Price: ptr(int64(19700))}, engine.ModeFinsert)
	require.NoError(t, err)
	cus, err := s.SetCustomer(ctx, &Customer{Email: "a@b.c", Name: ptr("Ada")}, engine.ModeFinsert)
	require.NoError(t, err)

	t.Run("invoice by customer email or id", func(t *testing.T) {
		n := len(locker.since(0))
		byEmail, err := s.GenInvoiceDraft(ctx, &Invoice{Exid: "inv-1", Customer: CustomerByEmail("a@b.c")})
		require.NoError(t, err)
		byID, err := s.GenInvoiceDraft(ctx, &Invoice{Exid: "inv-1", Customer: CustomerByID(cus.ID)})
		require.NoError(t, err)
		assert.Equal(t, byEmail.ID, byID.ID)

		keys := locker.since(n)
		require.Len(t, keys, 2)
		assert.Equal(t, KindInvoice+"/"+cus.ID+"/inv-1", keys[0])
		assert.Equal(t, keys[0], keys[1])
	})

	t.Run("item by invoice exid or id", func(t *testing.T) {
		inv, err := s.GetInvoice(ctx, InvoiceByExid(CustomerByEmail("a@b.c"), "inv-1"))
		require.NoError(t, err)
		require.NotNil(t, inv)

		n := len(locker.since(0))
		refs := []InvoiceRef{
			InvoiceByExid(CustomerByEmail("a@b.c"), "inv-1"),
			InvoiceByExid(CustomerByID(cus.ID), "inv-1"),
			InvoiceByID(inv.ID),
		}
		for _, ref := range refs {
			_, err := s.SetInvoiceItem(ctx, &InvoiceItem{Exid: "line-1", Invoice: ref, Product: ProductByID("p1")}, engine.ModeFinsert)
			require.NoError(t, err)
		}

		var itemKeys []string
		for _, k := range locker.since(n) {
			if strings.HasPrefix(k, KindInvoiceItem+"/") {
				itemKeys = append(itemKeys, k)
			}
		}
		require.Len(t, itemKeys, 3)
		for _, k := range itemKeys {
			assert.Equal(t, KindInvoiceItem+"/"+inv.ID+"/line-1", k)
		}
	})
}

func TestSetInvoiceItem(t *testing.T) {
	s, api, _ := newService(t)
	ctx := context.Background()
	draft := seedDraft(t, s)
	invRef := InvoiceByExid(CustomerByEmail("a@b.c"), "inv-1")

	item, err := s.SetInvoiceItem(ctx, &InvoiceItem{
		Exid:      "line-1",
		Invoice:   invRef,
		Product:   ProductByID("p1"),
		Discounts: &[]Coupon{{Duration: DurationOnce, PercentOff: ptr(decimal.NewFromInt(10))}},
		Metadata:  map[string]string{"seat": "3"},
	}, engine.ModeUpsert)
	require.NoError(t, err)

	t.Run("created with defaults from the product", func(t *testing.T) {
		assert.Equal(t, "line-1", item.Exid)
		assert.Equal(t, "Plan", *item.Description)
		assert.Equal(t, "3", item.Metadata["seat"])
		id, ok := item.Product.PrimaryID()
		assert.True(t, ok)
		assert.Equal(t, "p1", id)
	})

	t.Run("discount coupons are inserted", func(t *testing.T) {
		require.NotNil(t, item.Discounts)
		require.Len(t, *item.Discounts, 1)
		assert.NotEmpty(t, (*item.Discounts)[0].ID)
		assert.Equal(t, 1, api.Calls("CreateCoupon"))
		assert.Equal(t, int64(17730), item.Amount)

		inv, err := s.GetInvoice(ctx, InvoiceByID(draft.ID))
		require.NoError(t, err)
		assert.True(t, decimal.RequireFromString("177.30").Equal(inv.Total()))
	})

	t.Run("lookup by exid", func(t *testing.T) {
		got, err := s.GetInvoiceItem(ctx, InvoiceItemByExid(invRef, "line-1"))
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, item.ID, got.ID)
	})

	t.Run("upsert clears discounts", func(t *testing.T) {
		got, err := s.SetInvoiceItem(ctx, &InvoiceItem{
			Exid:      "line-1",
			Invoice:   invRef,
			Discounts: &[]Coupon{},
		}, engine.ModeUpsert)
		require.NoError(t, err)
		assert.Equal(t, item.ID, got.ID)
		assert.Empty(t, *got.Discounts)
		assert.Equal(t, int64(19700), got.Amount)
		assert.Equal(t, "3", got.Metadata["seat"])
	})

	t.Run("unknown invoice", func(t *testing.T) {
		_, err := s.SetInvoiceItem(ctx, &InvoiceItem{
			Exid:    "line-1",
			Invoice: InvoiceByID("in_404"),
			Product: ProductByID("p1"),
		}, engine.ModeUpsert)
		require.Error(t, err)
		assert.True(t, engine.IsValidation(err))
		assert.Contains(t, err.Error(), "item.invoiceRef")
	})

	t.Run("unknown product", func(t *testing.T) {
		_, err := s.SetInvoiceItem(ctx, &InvoiceItem{
			Exid:    "line-2",
			Invoice: invRef,
			Product: ProductByID("nope"),
		}, engine.ModeUpsert)
		assert.True(t, engine.IsValidation(err))
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, s.DelInvoiceItem(ctx, InvoiceItemByID(item.ID)))
		got, err := s.GetInvoiceItem(ctx, InvoiceItemByID(item.ID))
		require.NoError(t, err)
		assert.Nil(t, got)

		err = s.DelInvoiceItem(ctx, InvoiceItemByID(item.ID))
		assert.True(t, engine.IsValidation(err), "a missing item can not be deleted")
	})
}

func TestSetInvoiceItems(t *testing.T) {
	s, api, journal := newService(t)
	ctx := context.Background()
	draft := seedDraft(t, s)
	ref := InvoiceByID(draft.ID)

	lines := func(exids ...string) []InvoiceItem {
		out := make([]InvoiceItem, 0, len(exids))
		for _, e := range exids {
			out = append(out, InvoiceItem{Exid: e, Product: ProductByID("p1")})
		}
		return out
	}
	exids := func() []string {
		items, err := s.GetInvoiceItems(ctx, ref)
		require.NoError(t, err)
		out := make([]string, 0, len(items))
		for _, it := range items {
			out = append(out, it.Exid)
		}
		return out
	}

	t.Run("creates in desired order", func(t *testing.T) {
		summary, err := s.SetInvoiceItems(ctx, ref, lines("i1", "i2", "i3"))
		require.NoError(t, err)
		assert.Len(t, summary.Upserted, 3)
		assert.Empty(t, summary.Deleted)
		// Items are listed newest first.
		assert.Equal(t, []string{"i3", "i2", "i1"}, exids())
	})

	t.Run("exact set regardless of prior contents", func(t *testing.T) {
		summary, err := s.SetInvoiceItems(ctx, ref, lines("i2", "i4"))
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"i1", "i3"}, summary.Deleted)
		assert.ElementsMatch(t, []string{"i2", "i4"}, exids())
	})

	t.Run("second call is a fixed point", func(t *testing.T) {
		creates := api.Calls("CreateInvoiceItem")
		summary, err := s.SetInvoiceItems(ctx, ref, lines("i2", "i4"))
		require.NoError(t, err)
		assert.Empty(t, summary.Deleted)
		assert.ElementsMatch(t, []string{"i2", "i4"}, exids())
		assert.Equal(t, creates, api.Calls("CreateInvoiceItem"))
	})

	t.Run("deleted exid replays the deleted item", func(t *testing.T) {
		creates := api.Calls("CreateInvoiceItem")
		summary, err := s.SetInvoiceItems(ctx, ref, lines("i1", "i2", "i4"))
		require.NoError(t, err)
		assert.Len(t, summary.Upserted, 3)
		assert.Equal(t, creates+1, api.Calls("CreateInvoiceItem"))
		// The provider keeps the key of i1 and answers with the deleted item.
		assert.ElementsMatch(t, []string{"i2", "i4"}, exids())
	})

	t.Run("duplicate exids are rejected", func(t *testing.T) {
		_, err := s.SetInvoiceItems(ctx, ref, lines("i1", "i1"))
		assert.True(t, engine.IsValidation(err))
	})

	t.Run("empty list clears the invoice", func(t *testing.T) {
		_, err := s.SetInvoiceItems(ctx, ref, nil)
		require.NoError(t, err)
		assert.Empty(t, exids())
	})

	t.Run("deletes are journaled", func(t *testing.T) {
		journal.mu.Lock()
		defer journal.mu.Unlock()
		deletes := 0
		for _, rec := range journal.records {
			if rec.Kind == KindInvoiceItem && rec.Action == engine.OperationDelete {
				deletes++
			}
		}
		assert.Equal(t, 4, deletes)
	})

	t.Run("unknown invoice", func(t *testing.T) {
		_, err := s.SetInvoiceItems(ctx, InvoiceByID("in_404"), lines("i1"))
		assert.True(t, engine.IsValidation(err))
	})
}

func TestSetInvoiceItemsFailureStopsUpserts(t *testing.T) {
	s, api, _ := newService(t)
	ctx := context.Background()
	draft := seedDraft(t, s)

	boom := errors.New("rate limited")
	api.FailNext("CreateInvoiceItem", nil)
	api.FailNext("CreateInvoiceItem", boom)

	items := []InvoiceItem{
		{Exid: "i1", Product: ProductByID("p1")},
		{Exid: "i2", Product: ProductByID("p1")},
		{Exid: "i3", Product: ProductByID("p1")},
	}
	summary, err := s.SetInvoiceItems(ctx, InvoiceByID(draft.ID), items)
	require.ErrorIs(t, err, boom)
	assert.Len(t, summary.Upserted, 1)
	assert.Equal(t, 1, summary.Skipped)

	summary, err = s.SetInvoiceItems(ctx, InvoiceByID(draft.ID), items)
	require.NoError(t, err)
	assert.Len(t, summary.Upserted, 3)
}

func TestSetInvoiceItemsCap(t *testing.T) {
	s, api, _ := newService(t)
	ctx := context.Background()
	draft := seedDraft(t, s)
	product, err := s.GetProduct(ctx, ProductByID("p1"))
	require.NoError(t, err)

	for i := 0; i < engine.ListHardCap; i++ {
		_, err := api.CreateInvoiceItem(ctx, &remote.InvoiceItemParams{
			Invoice:  remote.String(draft.ID),
			Customer: remote.String(mustCustomerID(t, draft)),
			Price:    remote.String(product.PriceID),
			Metadata: map[string]string{MetadataExid: "bulk-" + strconv.Itoa(i)},
		}, "")
		require.NoError(t, err)
	}

	_, err = s.SetInvoiceItems(ctx, InvoiceByID(draft.ID), nil)
	var engErr *engine.EngineError
	require.ErrorAs(t, err, &engErr)
	assert.Equal(t, engine.ErrCodeCollectionCap, engErr.Code)
}

func mustCustomerID(t *testing.T, inv *Invoice) string {
	t.Helper()
	id, ok := inv.Customer.PrimaryID()
	require.True(t, ok)
	return id
}

func TestInsertCoupon(t *testing.T) {
	s, api, _ := newService(t)
	ctx := context.Background()

	t.Run("always inserts", func(t *testing.T) {
		c := &Coupon{Duration: DurationRepeating, DurationInMonths: ptr(int64(3)), PercentOff: ptr(decimal.RequireFromString("12.5"))}
		first, err := s.InsertCoupon(ctx, c)
		require.NoError(t, err)
		second, err := s.InsertCoupon(ctx, &Coupon{Duration: DurationOnce, AmountOff: ptr(int64(500))})
		require.NoError(t, err)
		assert.NotEqual(t, first.ID, second.ID)
		assert.True(t, decimal.RequireFromString("12.5").Equal(*first.PercentOff))
		assert.Equal(t, 2, api.Calls("CreateCoupon"))
	})

	tests := []struct {
		name   string
		coupon Coupon
	}{
		{name: "repeating without months", coupon: Coupon{Duration: DurationRepeating, PercentOff: ptr(decimal.NewFromInt(10))}},
		{name: "months without repeating", coupon: Coupon{Duration: DurationOnce, DurationInMonths: ptr(int64(2)), PercentOff: ptr(decimal.NewFromInt(10))}},
		{name: "no discount", coupon: Coupon{Duration: DurationOnce}},
		{name: "both discounts", coupon: Coupon{Duration: DurationOnce, AmountOff: ptr(int64(5)), PercentOff: ptr(decimal.NewFromInt(10))}},
		{name: "percent above hundred", coupon: Coupon{Duration: DurationForever, PercentOff: ptr(decimal.NewFromInt(150))}},
		{name: "unknown duration", coupon: Coupon{Duration: "weekly", AmountOff: ptr(int64(5))}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := api.Calls("CreateCoupon")
			_, err := s.InsertCoupon(ctx, &tt.coupon)
			require.Error(t, err)
			assert.True(t, engine.IsValidation(err))
			assert.Equal(t, calls, api.Calls("CreateCoupon"))
		})
	}
}
