package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"rmcerp.io/internal/apperr"
	"rmcerp.io/internal/store/db"
)

func (a *API) aggregatesByVendor(ctx context.Context, req *Request) (Response, error) {
	ctx, _, err := authenticate(ctx, a.authn, req)
	if err != nil {
		return Response{}, err
	}
	rows, err := a.store.Query(ctx, db.Query{
		SQL: "SELECT vendor_name, COALESCE(SUM(quantity), 0) AS total_quantity, COALESCE(SUM(amount), 0) AS total_amount " +
			"FROM aggregates GROUP BY vendor_name ORDER BY vendor_name",
	})
	if err != nil {
		return Response{}, err
	}
	return Success(rows, http.StatusOK), nil
}

func (a *API) aggregatesPaymentPending(ctx context.Context, req *Request) (Response, error) {
	ctx, _, err := authenticate(ctx, a.authn, req)
	if err != nil {
		return Response{}, err
	}
	rows, err := a.store.Query(ctx, db.Query{
		SQL: "SELECT * FROM aggregates WHERE payment_status = 'pending' OR payment_status IS NULL " +
			"ORDER BY created_at DESC, id DESC",
	})
	if err != nil {
		return Response{}, err
	}
	return Success(rows, http.StatusOK), nil
}

// cashBookSummary totals credits and debits over an optional inclusive date
// range. An empty range yields an empty object.
func (a *API) cashBookSummary(ctx context.Context, req *Request) (Response, error) {
	ctx, _, err := authenticate(ctx, a.authn, req)
	if err != nil {
		return Response{}, err
	}

	var (
		conds []string
		args  []any
		bad   []apperr.FieldError
	)
	for _, f := range []struct{ param, op string }{{"start_date", ">="}, {"end_date", "<="}} {
		raw := strings.TrimSpace(req.Query[f.param])
		if raw == "" {
			continue
		}
		if _, err := time.Parse(dateLayout, raw); err != nil {
			bad = append(bad, apperr.FieldError{Field: f.param, Message: humanize(f.param) + " must be a date (YYYY-MM-DD)"})
			continue
		}
		args = append(args, raw)
		conds = append(conds, fmt.Sprintf("transaction_date %s $%d", f.op, len(args)))
	}
	if len(bad) > 0 {
		return Response{}, apperr.Validation(bad[0].Message, bad...)
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	rec, err := queryOne(ctx, a.store, db.Query{
		SQL: "SELECT COUNT(*) AS entries, " +
			"COALESCE(SUM(CASE WHEN transaction_type = 'credit' THEN amount ELSE 0 END), 0) AS total_credit, " +
			"COALESCE(SUM(CASE WHEN transaction_type = 'debit' THEN amount ELSE 0 END), 0) AS total_debit, " +
			"COALESCE(SUM(CASE WHEN transaction_type = 'credit' THEN amount ELSE -amount END), 0) AS balance " +
			"FROM cash_book" + where,
		Args: args,
	})
	if err != nil {
		return Response{}, err
	}
	if toInt64(rec["entries"]) == 0 {
		return Success(map[string]any{}, http.StatusOK), nil
	}
	return Success(map[string]any{
		"total_credit": toNumber(rec["total_credit"]),
		"total_debit":  toNumber(rec["total_debit"]),
		"balance":      toNumber(rec["balance"]),
	}, http.StatusOK), nil
}

type reportInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

var reportCatalogue = []reportInfo{
	{ID: "sales-summary", Name: "Sales Summary Report", Type: "pdf"},
	{ID: "customer-statement", Name: "Customer Statement", Type: "pdf"},
	{ID: "inventory-report", Name: "Inventory Report", Type: "excel"},
	{ID: "qc-report", Name: "Quality Control Report", Type: "pdf"},
	{ID: "financial-summary", Name: "Financial Summary", Type: "pdf"},
}

func (a *API) listReports(ctx context.Context, req *Request) (Response, error) {
	if _, _, err := authenticate(ctx, a.authn, req); err != nil {
		return Response{}, err
	}
	return Success(reportCatalogue, http.StatusOK), nil
}

func (a *API) previewReport(ctx context.Context, req *Request) (Response, error) {
	return a.reportPlaceholder(ctx, req, "Report preview functionality to be implemented")
}

func (a *API) downloadReport(ctx context.Context, req *Request) (Response, error) {
	return a.reportPlaceholder(ctx, req, "Report download functionality to be implemented")
}

func (a *API) reportPlaceholder(ctx context.Context, req *Request, message string) (Response, error) {
	if _, _, err := authenticate(ctx, a.authn, req); err != nil {
		return Response{}, err
	}
	id := strings.TrimSpace(req.Query["report_id"])
	if id == "" {
		return Response{}, apperr.Validation("report_id is required", apperr.FieldError{Field: "report_id", Message: requiredMessage("report_id")})
	}
	for _, r := range reportCatalogue {
		if r.ID == id {
			return Success(map[string]any{"reportId": id, "message": message}, http.StatusOK), nil
		}
	}
	return Response{}, apperr.NotFound("Report")
}

func queryOne(ctx context.Context, store Store, q db.Query) (db.Record, error) {
	recs, err := store.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return db.Record{}, nil
	}
	return recs[0], nil
}

// toNumber renders an aggregate as an exact JSON number; NULL becomes 0.
func toNumber(v any) json.Number {
	switch n := v.(type) {
	case json.Number:
		return n
	case int64:
		return json.Number(strconv.FormatInt(n, 10))
	case int32:
		return json.Number(strconv.FormatInt(int64(n), 10))
	case int:
		return json.Number(strconv.Itoa(n))
	case float64:
		return json.Number(strconv.FormatFloat(n, 'f', -1, 64))
	case string:
		if _, err := strconv.ParseFloat(n, 64); err == nil {
			return json.Number(n)
		}
	case []byte:
		if _, err := strconv.ParseFloat(string(n), 64); err == nil {
			return json.Number(n)
		}
	}
	return "0"
}
