package remote

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedInvoice(t *testing.T, m *MemoryAPI) (*Customer, *Product, *Invoice) {
	t.Helper()
	ctx := context.Background()

	cus, err := m.CreateCustomer(ctx, &CustomerParams{Email: String("a@b.c")}, "")
	require.NoError(t, err)
	prod, err := m.CreateProduct(ctx, &ProductParams{
		ID:               String("p1"),
		Name:             String("Plan"),
		DefaultPriceData: &PriceData{Currency: "usd", UnitAmount: 19700},
	}, "")
	require.NoError(t, err)
	inv, err := m.CreateInvoice(ctx, &InvoiceParams{Customer: cus.ID, Metadata: map[string]string{"exid": "inv-1"}}, "")
	require.NoError(t, err)
	return cus, prod, inv
}

func TestMemoryAPIIdempotencyKeys(t *testing.T) {
	m := NewMemoryAPI()
	ctx := context.Background()

	first, err := m.CreateCustomer(ctx, &CustomerParams{Email: String("a@b.c"), Name: String("Ada")}, "key-1")
	require.NoError(t, err)
	second, err := m.CreateCustomer(ctx, &CustomerParams{Email: String("a@b.c"), Name: String("Other")}, "key-1")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "Ada", *second.Name)
	assert.Equal(t, 2, m.Calls("CreateCustomer"))

	all, err := m.ListCustomers(ctx, &CustomerListParams{Email: String("a@b.c")})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestMemoryAPIProducts(t *testing.T) {
	m := NewMemoryAPI()
	ctx := context.Background()
	_, prod, _ := seedInvoice(t, m)

	t.Run("default price is expanded", func(t *testing.T) {
		got, err := m.GetProduct(ctx, prod.ID)
		require.NoError(t, err)
		require.True(t, got.DefaultPrice.Expanded())
		assert.Equal(t, int64(19700), *got.DefaultPrice.UnitAmount)
		assert.Equal(t, "usd", got.DefaultPrice.Currency)
	})

	t.Run("duplicate id is rejected", func(t *testing.T) {
		_, err := m.CreateProduct(ctx, &ProductParams{ID: String("p1"), Name: String("Again")}, "")
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, CodeResourceExists, apiErr.Code)
	})

	t.Run("default price can be replaced", func(t *testing.T) {
		price, err := m.CreatePrice(ctx, &PriceParams{Product: "p1", Currency: "usd", UnitAmount: 100})
		require.NoError(t, err)
		got, err := m.UpdateProduct(ctx, "p1", &ProductParams{DefaultPrice: String(price.ID)})
		require.NoError(t, err)
		assert.Equal(t, int64(100), *got.DefaultPrice.UnitAmount)
	})

	t.Run("missing product", func(t *testing.T) {
		_, err := m.GetProduct(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestMemoryAPICoupons(t *testing.T) {
	m := NewMemoryAPI()
	ctx := context.Background()

	_, err := m.CreateCoupon(ctx, &CouponParams{Duration: DurationRepeating, PercentOff: Float64(10)}, "")
	require.Error(t, err, "repeating without months")

	_, err = m.CreateCoupon(ctx, &CouponParams{Duration: DurationOnce}, "")
	require.Error(t, err, "neither percent nor amount")

	_, err = m.CreateCoupon(ctx, &CouponParams{Duration: DurationOnce, AmountOff: Int64(500)}, "")
	require.Error(t, err, "amount without currency")

	c, err := m.CreateCoupon(ctx, &CouponParams{Duration: DurationOnce, AmountOff: Int64(500), Currency: String("usd")}, "")
	require.NoError(t, err)
	assert.True(t, c.Valid)
}

func TestMemoryAPIInvoiceLifecycle(t *testing.T) {
	m := NewMemoryAPI()
	ctx := context.Background()
	_, _, inv := seedInvoice(t, m)

	assert.Equal(t, "draft", *inv.Status)

	_, err := m.PayInvoice(ctx, inv.ID)
	require.Error(t, err, "draft invoices can not be paid")

	opened, err := m.FinalizeInvoice(ctx, inv.ID, &FinalizeParams{AutoAdvance: Bool(true)})
	require.NoError(t, err)
	assert.Equal(t, "open", *opened.Status)
	assert.NotNil(t, opened.HostedInvoiceURL)
	assert.True(t, *opened.AutoAdvance)

	_, err = m.FinalizeInvoice(ctx, inv.ID, nil)
	require.Error(t, err)

	sent, err := m.SendInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, "open", *sent.Status)

	paid, err := m.PayInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, "paid", *paid.Status)
	assert.NotNil(t, paid.Charge)

	_, err = m.VoidInvoice(ctx, inv.ID)
	require.Error(t, err, "paid invoices can not be voided")
}

func TestMemoryAPIInvoiceItems(t *testing.T) {
	m := NewMemoryAPI()
	ctx := context.Background()
	cus, prod, inv := seedInvoice(t, m)

	coupon, err := m.CreateCoupon(ctx, &CouponParams{Duration: DurationOnce, PercentOff: Float64(10)}, "")
	require.NoError(t, err)

	item, err := m.CreateInvoiceItem(ctx, &InvoiceItemParams{
		Invoice:   String(inv.ID),
		Customer:  String(cus.ID),
		Price:     String(prod.DefaultPrice.ID),
		Discounts: &[]DiscountParam{{Coupon: coupon.ID}},
		Metadata:  map[string]string{"exid": "line-1"},
	}, "")
	require.NoError(t, err)

	t.Run("description defaults to the product name", func(t *testing.T) {
		assert.Equal(t, "Plan", *item.Description)
	})

	t.Run("price and discounts are expanded", func(t *testing.T) {
		got, err := m.GetInvoiceItem(ctx, item.ID)
		require.NoError(t, err)
		assert.True(t, got.Price.Expanded())
		assert.Equal(t, "p1", got.Price.Product)
		require.Len(t, got.Discounts, 1)
		assert.Equal(t, coupon.ID, got.Discounts[0].Coupon.ID)
		assert.Equal(t, 10.0, *got.Discounts[0].Coupon.PercentOff)
	})

	t.Run("invoice total applies discounts", func(t *testing.T) {
		got, err := m.GetInvoice(ctx, inv.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(17730), got.Total)
	})

	t.Run("clearing discounts", func(t *testing.T) {
		got, err := m.UpdateInvoiceItem(ctx, item.ID, &InvoiceItemParams{Discounts: &[]DiscountParam{}})
		require.NoError(t, err)
		assert.Empty(t, got.Discounts)
		assert.Equal(t, int64(19700), got.Amount)
	})

	t.Run("listing by invoice", func(t *testing.T) {
		items, err := m.ListInvoiceItems(ctx, &InvoiceItemListParams{Invoice: String(inv.ID), Limit: 100})
		require.NoError(t, err)
		assert.Len(t, items, 1)
	})

	t.Run("items are frozen once the invoice is open", func(t *testing.T) {
		_, err := m.FinalizeInvoice(ctx, inv.ID, nil)
		require.NoError(t, err)
		err = m.DeleteInvoiceItem(ctx, item.ID)
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, CodeInvalidState, apiErr.Code)
	})
}

func TestMemoryAPIDeleteInvoiceItem(t *testing.T) {
	m := NewMemoryAPI()
	ctx := context.Background()
	cus, prod, inv := seedInvoice(t, m)

	item, err := m.CreateInvoiceItem(ctx, &InvoiceItemParams{
		Invoice:  String(inv.ID),
		Customer: String(cus.ID),
		Price:    String(prod.DefaultPrice.ID),
	}, "")
	require.NoError(t, err)

	require.NoError(t, m.DeleteInvoiceItem(ctx, item.ID))
	_, err = m.GetInvoiceItem(ctx, item.ID)
	assert.True(t, IsNotFound(err))
	assert.True(t, IsNotFound(m.DeleteInvoiceItem(ctx, item.ID)))
}

func TestMemoryAPIDeletedItemKeepsIdempotencyKey(t *testing.T) {
	m := NewMemoryAPI()
	ctx := context.Background()
	cus, prod, inv := seedInvoice(t, m)

	params := &InvoiceItemParams{
		Invoice:  String(inv.ID),
		Customer: String(cus.ID),
		Price:    String(prod.DefaultPrice.ID),
	}
	item, err := m.CreateInvoiceItem(ctx, params, "item-key")
	require.NoError(t, err)
	require.NoError(t, m.DeleteInvoiceItem(ctx, item.ID))

	replayed, err := m.CreateInvoiceItem(ctx, params, "item-key")
	require.NoError(t, err)
	assert.Equal(t, item.ID, replayed.ID)

	_, err = m.GetInvoiceItem(ctx, item.ID)
	assert.True(t, IsNotFound(err), "a replay does not resurrect the item")

	fresh, err := m.CreateInvoiceItem(ctx, params, "other-key")
	require.NoError(t, err)
	assert.NotEqual(t, item.ID, fresh.ID)
}

func TestMemoryAPIFailNext(t *testing.T) {
	m := NewMemoryAPI()
	ctx := context.Background()
	boom := errors.New("connection reset")

	m.FailNext("CreateCustomer", boom)
	_, err := m.CreateCustomer(ctx, &CustomerParams{Email: String("a@b.c")}, "k")
	assert.ErrorIs(t, err, boom)

	cus, err := m.CreateCustomer(ctx, &CustomerParams{Email: String("a@b.c")}, "k")
	require.NoError(t, err)
	assert.Equal(t, "a@b.c", *cus.Email)
}

func TestMemoryAPIRespectsContext(t *testing.T) {
	m := NewMemoryAPI()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.ListInvoices(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
