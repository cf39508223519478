package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"rmcerp.io/internal/apperr"
	"rmcerp.io/internal/store/db"
)

const (
	invoiceTable     = "sales_invoices"
	invoiceItemTable = "sales_invoice_items"
	invoiceLabel     = "Invoice"
)

var invoiceColumns = []string{
	"customer_id", "invoice_number", "invoice_date", "due_date", "subtotal",
	"tax_amount", "discount_amount", "total_amount", "notes",
}

var invoiceRequired = []string{"customer_id", "invoice_number"}

type invoiceItem struct {
	ItemDescription string      `json:"item_description" validate:"required"`
	Quantity        json.Number `json:"quantity" validate:"required"`
	UnitPrice       json.Number `json:"unit_price" validate:"required"`
	TaxRate         json.Number `json:"tax_rate"`
	Amount          json.Number `json:"amount" validate:"required"`
}

// invoiceItems carries the items array. A nil Items means the key was absent.
type invoiceItems struct {
	Items *[]invoiceItem `json:"items"`
}

type invoiceCreateItems struct {
	Items []invoiceItem `json:"items" validate:"required,min=1,dive"`
}

type invoiceUpdateItems struct {
	Items []invoiceItem `json:"items" validate:"omitempty,dive"`
}

// invoices serves /sales-invoices. Header and item writes share one transaction.
type invoices struct {
	api *API
}

func (h invoices) mount(r chi.Router) {
	r.Get("/", h.api.serve(h.list))
	r.Post("/", h.api.serve(h.create))
	r.Get("/{id}", h.api.serve(h.get))
	r.Put("/{id}", h.api.serve(h.update))
	r.Delete("/{id}", h.api.serve(h.delete))
}

func (h invoices) list(ctx context.Context, req *Request) (Response, error) {
	ctx, _, err := authenticate(ctx, h.api.authn, req)
	if err != nil {
		return Response{}, err
	}
	rows, pg, err := listPage(ctx, h.api.store, listSelect{
		columns:   "si.*, c.customer_name",
		from:      "sales_invoices si LEFT JOIN customers c ON si.customer_id = c.id",
		countFrom: "sales_invoices si",
		orderBy:   "si.invoice_date DESC, si.created_at DESC, si.id DESC",
	}, pageOf(req))
	if err != nil {
		return Response{}, err
	}
	return Success(map[string]any{"invoices": rows, "pagination": pg}, http.StatusOK), nil
}

func (h invoices) get(ctx context.Context, req *Request) (Response, error) {
	ctx, _, err := authenticate(ctx, h.api.authn, req)
	if err != nil {
		return Response{}, err
	}
	id, err := req.pathID()
	if err != nil {
		return Response{}, err
	}
	recs, err := h.api.store.Query(ctx, db.Query{
		SQL:  "SELECT si.*, c.customer_name FROM sales_invoices si LEFT JOIN customers c ON si.customer_id = c.id WHERE si.id = $1",
		Args: []any{id},
	})
	if err != nil {
		return Response{}, err
	}
	if len(recs) == 0 {
		return Response{}, apperr.NotFound(invoiceLabel)
	}
	items, err := h.api.store.Query(ctx, db.Query{
		SQL:  "SELECT * FROM sales_invoice_items WHERE invoice_id = $1 ORDER BY id",
		Args: []any{id},
	})
	if err != nil {
		return Response{}, err
	}
	invoice := recs[0]
	invoice["items"] = items
	return Success(invoice, http.StatusOK), nil
}

func (h invoices) create(ctx context.Context, req *Request) (Response, error) {
	ctx, p, err := authenticate(ctx, h.api.authn, req)
	if err != nil {
		return Response{}, err
	}
	header, err := invoiceHeader(req.Body)
	if err != nil {
		return Response{}, err
	}
	var body invoiceCreateItems
	if err := decodeItems(req.Body, &body); err != nil {
		return Response{}, err
	}
	if err := checkRequired(invoiceRequired, header, true); err != nil {
		return Response{}, err
	}
	if err := validateStruct(body); err != nil {
		return Response{}, err
	}

	var invoiceID int64
	err = h.api.store.Transact(ctx, func(ctx context.Context, tx db.Tx) error {
		res, err := tx.Execute(ctx, insertQuery(invoiceTable, "id", header.set("created_by", Int(p.ID))))
		if err != nil {
			return err
		}
		invoiceID = res.LastInsertID
		return insertItems(ctx, tx, invoiceID, body.Items)
	})
	if err != nil {
		return Response{}, err
	}
	h.api.forget(ctx, cacheKeyStats, cacheKeyQuantity)
	_ = h.api.audit.LogEvent(ctx, "record.created", map[string]any{
		"table": invoiceTable,
		"id":    invoiceID,
		"items": len(body.Items),
	})
	return Success(map[string]any{
		"id":      invoiceID,
		"message": invoiceLabel + " created successfully",
	}, http.StatusCreated), nil
}

func (h invoices) update(ctx context.Context, req *Request) (Response, error) {
	ctx, p, err := authenticate(ctx, h.api.authn, req)
	if err != nil {
		return Response{}, err
	}
	id, err := req.pathID()
	if err != nil {
		return Response{}, err
	}
	if err := ensureExists(ctx, h.api.store, invoiceTable, "id", invoiceLabel, id); err != nil {
		return Response{}, err
	}
	header, err := invoiceHeader(req.Body)
	if err != nil {
		return Response{}, err
	}
	var present invoiceItems
	if err := decodeItems(req.Body, &present); err != nil {
		return Response{}, err
	}
	var body invoiceUpdateItems
	if present.Items != nil {
		body.Items = *present.Items
		if err := validateStruct(body); err != nil {
			return Response{}, err
		}
	}
	if len(header) == 0 && present.Items == nil {
		return Response{}, apperr.Validation("No fields to update")
	}
	if err := checkRequired(invoiceRequired, header, false); err != nil {
		return Response{}, err
	}

	err = h.api.store.Transact(ctx, func(ctx context.Context, tx db.Tx) error {
		if _, err := tx.Execute(ctx, updateQuery(invoiceTable, "id", id, header.set("updated_by", Int(p.ID)))); err != nil {
			return err
		}
		if present.Items == nil {
			return nil
		}
		if _, err := tx.Execute(ctx, db.Query{
			SQL:  "DELETE FROM sales_invoice_items WHERE invoice_id = $1",
			Args: []any{id},
		}); err != nil {
			return err
		}
		return insertItems(ctx, tx, id, body.Items)
	})
	if err != nil {
		return Response{}, err
	}
	h.api.forget(ctx, cacheKeyStats, cacheKeyQuantity)
	_ = h.api.audit.LogEvent(ctx, "record.updated", map[string]any{"table": invoiceTable, "id": id})
	return Success(map[string]any{"message": invoiceLabel + " updated successfully"}, http.StatusOK), nil
}

func (h invoices) delete(ctx context.Context, req *Request) (Response, error) {
	ctx, _, err := authenticate(ctx, h.api.authn, req)
	if err != nil {
		return Response{}, err
	}
	id, err := req.pathID()
	if err != nil {
		return Response{}, err
	}
	if err := ensureExists(ctx, h.api.store, invoiceTable, "id", invoiceLabel, id); err != nil {
		return Response{}, err
	}
	if _, err := h.api.store.RunTransaction(ctx, []db.Query{
		{SQL: "DELETE FROM sales_invoice_items WHERE invoice_id = $1", Args: []any{id}},
		{SQL: "DELETE FROM sales_invoices WHERE id = $1", Args: []any{id}},
	}); err != nil {
		return Response{}, err
	}
	h.api.forget(ctx, cacheKeyStats, cacheKeyQuantity)
	_ = h.api.audit.LogEvent(ctx, "record.deleted", map[string]any{"table": invoiceTable, "id": id})
	return Success(map[string]any{"message": invoiceLabel + " deleted successfully"}, http.StatusOK), nil
}

// invoiceHeader returns the scalar header fields of the body, items excluded.
func invoiceHeader(body []byte) (Fields, error) {
	header, err := DecodeFields(body, "items")
	if err != nil {
		return nil, err
	}
	if err := checkColumns(invoiceColumns, header); err != nil {
		return nil, err
	}
	return header, nil
}

// decodeItems reads only the items key; header keys were already checked.
func decodeItems(body []byte, dst any) error {
	if err := json.Unmarshal(body, dst); err != nil {
		return apperr.Validation("items must be an array of objects", apperr.FieldError{Field: "items", Message: "must be an array of objects"})
	}
	return nil
}

func insertItems(ctx context.Context, tx db.Tx, invoiceID int64, items []invoiceItem) error {
	for i, it := range items {
		_, err := tx.Execute(ctx, db.Query{
			SQL: "INSERT INTO sales_invoice_items (invoice_id, item_description, quantity, unit_price, tax_rate, amount) " +
				"VALUES ($1, $2, $3, $4, $5, $6)",
			Args: []any{invoiceID, it.ItemDescription, numberArg(it.Quantity), numberArg(it.UnitPrice), numberArg(it.TaxRate), numberArg(it.Amount)},
		})
		if err != nil {
			return fmt.Errorf("insert item %d: %w", i+1, err)
		}
	}
	return nil
}

// numberArg binds a JSON number exactly; an absent number binds NULL.
func numberArg(n json.Number) any {
	if n == "" {
		return nil
	}
	return Number(n).Arg()
}
