package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"rmcerp.io/internal/store/db"
)

const (
	cacheKeyStats    = "dashboard:stats"
	cacheKeyQuantity = "dashboard:quantity"
)

type dashboardStats struct {
	ActiveCustomers int64       `json:"activeCustomers"`
	TotalInvoices   int64       `json:"totalInvoices"`
	YearlyRevenue   json.Number `json:"yearlyRevenue"`
	PendingOrders   int64       `json:"pendingOrders"`
}

type quantityMetrics struct {
	Daily   json.Number `json:"daily"`
	Weekly  json.Number `json:"weekly"`
	Monthly json.Number `json:"monthly"`
}

func (a *API) dashboardStats(ctx context.Context, req *Request) (Response, error) {
	ctx, _, err := authenticate(ctx, a.authn, req)
	if err != nil {
		return Response{}, err
	}
	var stats dashboardStats
	if a.cached(ctx, cacheKeyStats, &stats) {
		return Success(stats, http.StatusOK), nil
	}

	rec, err := queryOne(ctx, a.store, db.Query{SQL: "SELECT COUNT(*) AS count FROM customers WHERE is_active = 1"})
	if err != nil {
		return Response{}, err
	}
	stats.ActiveCustomers = toInt64(rec["count"])

	rec, err = queryOne(ctx, a.store, db.Query{
		SQL: "SELECT COUNT(*) AS count, SUM(total_amount) AS total FROM sales_invoices " +
			"WHERE date_trunc('year', invoice_date) = date_trunc('year', CURRENT_DATE)",
	})
	if err != nil {
		return Response{}, err
	}
	stats.TotalInvoices = toInt64(rec["count"])
	stats.YearlyRevenue = toNumber(rec["total"])

	rec, err = queryOne(ctx, a.store, db.Query{
		SQL:  "SELECT COUNT(*) AS count FROM sales_orders WHERE status = $1",
		Args: []any{"pending"},
	})
	if err != nil {
		return Response{}, err
	}
	stats.PendingOrders = toInt64(rec["count"])

	a.remember(ctx, cacheKeyStats, stats)
	return Success(stats, http.StatusOK), nil
}

func (a *API) dashboardQuantity(ctx context.Context, req *Request) (Response, error) {
	ctx, _, err := authenticate(ctx, a.authn, req)
	if err != nil {
		return Response{}, err
	}
	var m quantityMetrics
	if a.cached(ctx, cacheKeyQuantity, &m) {
		return Success(m, http.StatusOK), nil
	}

	rec, err := queryOne(ctx, a.store, db.Query{
		SQL: "SELECT " +
			"SUM(quantity) FILTER (WHERE delivery_date::date = CURRENT_DATE) AS daily, " +
			"SUM(quantity) FILTER (WHERE date_trunc('week', delivery_date) = date_trunc('week', CURRENT_DATE)) AS weekly, " +
			"SUM(quantity) FILTER (WHERE date_trunc('month', delivery_date) = date_trunc('month', CURRENT_DATE)) AS monthly " +
			"FROM delivery_challans",
	})
	if err != nil {
		return Response{}, err
	}
	m = quantityMetrics{
		Daily:   toNumber(rec["daily"]),
		Weekly:  toNumber(rec["weekly"]),
		Monthly: toNumber(rec["monthly"]),
	}

	a.remember(ctx, cacheKeyQuantity, m)
	return Success(m, http.StatusOK), nil
}

func (a *API) dashboardSummary(ctx context.Context, req *Request) (Response, error) {
	ctx, _, err := authenticate(ctx, a.authn, req)
	if err != nil {
		return Response{}, err
	}
	invoices, err := a.store.Query(ctx, db.Query{
		SQL: "SELECT id, invoice_number, total_amount, invoice_date FROM sales_invoices " +
			"ORDER BY created_at DESC, id DESC LIMIT 5",
	})
	if err != nil {
		return Response{}, err
	}
	orders, err := a.store.Query(ctx, db.Query{
		SQL: "SELECT id, order_number, status, order_date FROM sales_orders " +
			"ORDER BY created_at DESC, id DESC LIMIT 5",
	})
	if err != nil {
		return Response{}, err
	}
	return Success(map[string]any{
		"recentInvoices": invoices,
		"recentOrders":   orders,
	}, http.StatusOK), nil
}

// cached reports a hit for key. Cache failures are logged and treated as misses.
func (a *API) cached(ctx context.Context, key string, dst any) bool {
	if a.cache == nil {
		return false
	}
	ok, err := a.cache.Get(ctx, key, dst)
	if err != nil {
		a.log.Warn().Err(err).Str("key", key).Msg("cache read failed")
		return false
	}
	return ok
}

func (a *API) remember(ctx context.Context, key string, v any) {
	if a.cache == nil {
		return
	}
	if err := a.cache.Set(ctx, key, v); err != nil {
		a.log.Warn().Err(err).Str("key", key).Msg("cache write failed")
	}
}

// forget drops dashboard snapshots after the sales they summarise change.
func (a *API) forget(ctx context.Context, keys ...string) {
	if a.cache == nil {
		return
	}
	if err := a.cache.Invalidate(ctx, keys...); err != nil {
		a.log.Warn().Err(err).Strs("keys", keys).Msg("cache invalidate failed")
	}
}
