package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"slices"
	"strings"

	"github.com/go-chi/chi/v5"

	"rmcerp.io/internal/apperr"
	"rmcerp.io/internal/audit"
	"rmcerp.io/internal/store/db"
)

var identPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Resource describes one table served by the generic CRUD operations. Only
// identifiers listed here ever reach SQL text.
type Resource struct {
	Table      string
	PrimaryKey string
	Label      string
	ListKey    string

	// Columns is the allow-list of writable body keys.
	Columns  []string
	Required []string
	// Defaults are applied on create when the body omits the column.
	Defaults      Fields
	SearchColumns []string
	OrderBy       string
	// SoftDeleteColumn switches Delete to setting this column to 0.
	SoftDeleteColumn string
	// Snapshots lists the cache keys summarising this table. Writes drop them.
	Snapshots []string
}

func (r Resource) normalized() Resource {
	if r.PrimaryKey == "" {
		r.PrimaryKey = "id"
	}
	if r.ListKey == "" {
		r.ListKey = "data"
	}
	if r.Label == "" {
		r.Label = humanize(r.Table)
	}
	if r.OrderBy == "" {
		r.OrderBy = fmt.Sprintf("created_at DESC, %s DESC", r.PrimaryKey)
	}
	return r
}

// mustValidate panics on identifiers that are not plain lower-case names.
func (r Resource) mustValidate() {
	idents := []string{r.Table, r.PrimaryKey}
	idents = append(idents, r.Columns...)
	idents = append(idents, r.Required...)
	idents = append(idents, r.SearchColumns...)
	for _, d := range r.Defaults {
		idents = append(idents, d.Name)
	}
	if r.SoftDeleteColumn != "" {
		idents = append(idents, r.SoftDeleteColumn)
	}
	for _, id := range idents {
		if !identPattern.MatchString(id) {
			panic(fmt.Sprintf("httpapi: resource %q: invalid identifier %q", r.Table, id))
		}
	}
	for _, col := range append(slices.Clone(r.Required), r.SearchColumns...) {
		if !slices.Contains(r.Columns, col) {
			panic(fmt.Sprintf("httpapi: resource %q: %q is not an allowed column", r.Table, col))
		}
	}
}

// CRUD serves list/get/create/update/delete for one Resource.
type CRUD struct {
	res    Resource
	store  Store
	authn  Authenticator
	audit  *audit.Logger
	forget func(ctx context.Context, keys ...string)
}

// NewCRUD builds the operations for res. It panics if res names an
// identifier that is unsafe to interpolate.
func NewCRUD(res Resource, store Store, authn Authenticator, auditLog *audit.Logger) *CRUD {
	res = res.normalized()
	res.mustValidate()
	return &CRUD{res: res, store: store, authn: authn, audit: auditLog}
}

// Resource returns the normalised description.
func (c *CRUD) Resource() Resource { return c.res }

// Mount registers the five operations on r relative to its base path.
func (c *CRUD) Mount(r chi.Router, serve func(HandlerFunc) http.HandlerFunc) {
	r.Get("/", serve(c.List))
	r.Post("/", serve(c.Create))
	r.Get("/{id}", serve(c.GetByID))
	r.Put("/{id}", serve(c.Update))
	r.Delete("/{id}", serve(c.Delete))
}

func (c *CRUD) List(ctx context.Context, req *Request) (Response, error) {
	ctx, _, err := authenticate(ctx, c.authn, req)
	if err != nil {
		return Response{}, err
	}
	where, args := searchClause(c.res.SearchColumns, req.Query["search"])
	rows, pg, err := listPage(ctx, c.store, listSelect{
		columns: "*",
		from:    c.res.Table,
		where:   where,
		args:    args,
		orderBy: c.res.OrderBy,
	}, pageOf(req))
	if err != nil {
		return Response{}, err
	}
	return Success(map[string]any{c.res.ListKey: rows, "pagination": pg}, http.StatusOK), nil
}

func (c *CRUD) GetByID(ctx context.Context, req *Request) (Response, error) {
	ctx, _, err := authenticate(ctx, c.authn, req)
	if err != nil {
		return Response{}, err
	}
	id, err := req.pathID()
	if err != nil {
		return Response{}, err
	}
	rec, ok, err := c.find(ctx, id)
	if err != nil {
		return Response{}, err
	}
	if !ok {
		return Response{}, apperr.NotFound(c.res.Label)
	}
	return Success(rec, http.StatusOK), nil
}

func (c *CRUD) Create(ctx context.Context, req *Request) (Response, error) {
	ctx, p, err := authenticate(ctx, c.authn, req)
	if err != nil {
		return Response{}, err
	}
	fields, err := c.bodyFields(req)
	if err != nil {
		return Response{}, err
	}
	for _, d := range c.res.Defaults {
		if !fields.Has(d.Name) {
			fields = append(fields, d)
		}
	}
	if err := checkRequired(c.res.Required, fields, true); err != nil {
		return Response{}, err
	}
	fields = fields.set("created_by", Int(p.ID))

	res, err := c.store.Execute(ctx, insertQuery(c.res.Table, c.res.PrimaryKey, fields))
	if err != nil {
		return Response{}, err
	}
	c.invalidate(ctx)
	_ = c.audit.LogEvent(ctx, "record.created", map[string]any{"table": c.res.Table, "id": res.LastInsertID})
	return Success(map[string]any{
		"id":      res.LastInsertID,
		"message": c.res.Label + " created successfully",
	}, http.StatusCreated), nil
}

func (c *CRUD) Update(ctx context.Context, req *Request) (Response, error) {
	ctx, p, err := authenticate(ctx, c.authn, req)
	if err != nil {
		return Response{}, err
	}
	id, err := req.pathID()
	if err != nil {
		return Response{}, err
	}
	if err := c.ensureExists(ctx, id); err != nil {
		return Response{}, err
	}
	fields, err := c.bodyFields(req)
	if err != nil {
		return Response{}, err
	}
	if len(fields) == 0 {
		return Response{}, apperr.Validation("No fields to update")
	}
	if err := checkRequired(c.res.Required, fields, false); err != nil {
		return Response{}, err
	}

	res, err := c.store.Execute(ctx, updateQuery(c.res.Table, c.res.PrimaryKey, id, fields.set("updated_by", Int(p.ID))))
	if err != nil {
		return Response{}, err
	}
	if res.RowsAffected == 0 {
		return Response{}, apperr.NotFound(c.res.Label)
	}
	c.invalidate(ctx)
	_ = c.audit.LogEvent(ctx, "record.updated", map[string]any{"table": c.res.Table, "id": id})
	return Success(map[string]any{"message": c.res.Label + " updated successfully"}, http.StatusOK), nil
}

func (c *CRUD) Delete(ctx context.Context, req *Request) (Response, error) {
	ctx, p, err := authenticate(ctx, c.authn, req)
	if err != nil {
		return Response{}, err
	}
	id, err := req.pathID()
	if err != nil {
		return Response{}, err
	}
	if err := c.ensureExists(ctx, id); err != nil {
		return Response{}, err
	}

	q := db.Query{
		SQL:  fmt.Sprintf("DELETE FROM %s WHERE %s = $1", c.res.Table, c.res.PrimaryKey),
		Args: []any{id},
	}
	if c.res.SoftDeleteColumn != "" {
		q = updateQuery(c.res.Table, c.res.PrimaryKey, id, Fields{
			{Name: c.res.SoftDeleteColumn, Value: Int(0)},
			{Name: "updated_by", Value: Int(p.ID)},
		})
	}
	res, err := c.store.Execute(ctx, q)
	if err != nil {
		return Response{}, err
	}
	if res.RowsAffected == 0 {
		return Response{}, apperr.NotFound(c.res.Label)
	}
	c.invalidate(ctx)
	_ = c.audit.LogEvent(ctx, "record.deleted", map[string]any{
		"table": c.res.Table,
		"id":    id,
		"soft":  c.res.SoftDeleteColumn != "",
	})
	return Success(map[string]any{"message": c.res.Label + " deleted successfully"}, http.StatusOK), nil
}

func (c *CRUD) find(ctx context.Context, id int64) (db.Record, bool, error) {
	recs, err := c.store.Query(ctx, db.Query{
		SQL:  fmt.Sprintf("SELECT * FROM %s WHERE %s = $1", c.res.Table, c.res.PrimaryKey),
		Args: []any{id},
	})
	if err != nil || len(recs) == 0 {
		return nil, false, err
	}
	return recs[0], true, nil
}

func (c *CRUD) invalidate(ctx context.Context) {
	if c.forget != nil && len(c.res.Snapshots) > 0 {
		c.forget(ctx, c.res.Snapshots...)
	}
}

func (c *CRUD) ensureExists(ctx context.Context, id int64) error {
	return ensureExists(ctx, c.store, c.res.Table, c.res.PrimaryKey, c.res.Label, id)
}

// bodyFields decodes the body and rejects keys outside the allow-list.
func (c *CRUD) bodyFields(req *Request) (Fields, error) {
	fields, err := DecodeFields(req.Body)
	if err != nil {
		return nil, err
	}
	if err := checkColumns(c.res.Columns, fields); err != nil {
		return nil, err
	}
	return fields, nil
}

func ensureExists(ctx context.Context, store Store, table, pk, label string, id int64) error {
	recs, err := store.Query(ctx, db.Query{
		SQL:  fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1", pk, table, pk),
		Args: []any{id},
	})
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		return apperr.NotFound(label)
	}
	return nil
}

func checkColumns(allowed []string, fields Fields) error {
	var bad []apperr.FieldError
	for _, f := range fields {
		if !slices.Contains(allowed, f.Name) {
			bad = append(bad, apperr.FieldError{Field: f.Name, Message: "is not an allowed field"})
		}
	}
	if len(bad) > 0 {
		return apperr.Validation("unknown fields in request body", bad...)
	}
	return nil
}

// checkRequired rejects blank required columns. With mustBePresent unset,
// only columns present in fields are checked.
func checkRequired(required []string, fields Fields, mustBePresent bool) error {
	var missing []apperr.FieldError
	for _, col := range required {
		v, ok := fields.Get(col)
		if (!ok && mustBePresent) || (ok && v.Blank()) {
			missing = append(missing, apperr.FieldError{Field: col, Message: requiredMessage(col)})
		}
	}
	if len(missing) > 0 {
		return apperr.Validation(missing[0].Message, missing...)
	}
	return nil
}

// insertQuery builds INSERT ... RETURNING pk with columns in field order.
func insertQuery(table, pk string, fields Fields) db.Query {
	cols := make([]string, 0, len(fields)+1)
	marks := make([]string, 0, len(fields)+1)
	args := make([]any, 0, len(fields))
	for i, f := range fields {
		cols = append(cols, f.Name)
		marks = append(marks, fmt.Sprintf("$%d", i+1))
		args = append(args, f.Value.Arg())
	}
	cols = append(cols, "created_at")
	marks = append(marks, "now()")
	return db.Query{
		SQL: fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
			table, strings.Join(cols, ", "), strings.Join(marks, ", "), pk),
		Args:      args,
		Returning: true,
	}
}

// updateQuery builds UPDATE ... SET <fields>, updated_at = now() WHERE pk.
func updateQuery(table, pk string, id int64, fields Fields) db.Query {
	sets := make([]string, 0, len(fields)+1)
	args := make([]any, 0, len(fields)+1)
	for i, f := range fields {
		sets = append(sets, fmt.Sprintf("%s = $%d", f.Name, i+1))
		args = append(args, f.Value.Arg())
	}
	sets = append(sets, "updated_at = now()")
	args = append(args, id)
	return db.Query{
		SQL:  fmt.Sprintf("UPDATE %s SET %s WHERE %s = $%d", table, strings.Join(sets, ", "), pk, len(args)),
		Args: args,
	}
}
