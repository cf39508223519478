package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"

	"rmcerp.io/internal/apperr"
	"rmcerp.io/internal/auth"
	"rmcerp.io/internal/cache"
	"rmcerp.io/internal/store/db"
)

const testUserID = int64(7)

type apiClient struct {
	baseURL string
	client  *http.Client
	mock    sqlmock.Sqlmock
	authn   *auth.Authenticator
	token   string
	t       *testing.T
}

func newTestAPI(t *testing.T, opts Options) *apiClient {
	t.Helper()

	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })

	authn, err := auth.New("test-secret", "1h")
	if err != nil {
		t.Fatalf("auth.New: %v", err)
	}
	token, err := authn.GenerateToken(auth.Principal{ID: testUserID, Username: "admin", Role: "admin"})
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	opts.Version = "test"
	api := New(db.New(sqlDB), authn, opts)
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		mock:    mock,
		authn:   authn,
		token:   token,
		t:       t,
	}
}

type envelope struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Message string              `json:"message"`
	Details []apperr.FieldError `json:"details"`
}

// do sends an authenticated request unless anonymous is set.
func (c *apiClient) do(method, path string, body any, anonymous bool) (int, envelope) {
	c.t.Helper()
	var payload []byte
	switch b := body.(type) {
	case nil:
	case string:
		payload = []byte(b)
	default:
		var err error
		if payload, err = json.Marshal(b); err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if !anonymous {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()

	var env envelope
	if resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
			c.t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode, env
}

func (c *apiClient) verify() {
	c.t.Helper()
	if err := c.mock.ExpectationsWereMet(); err != nil {
		c.t.Fatalf("unmet expectations: %v", err)
	}
}

func decodeData[T any](t *testing.T, env envelope) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(env.Data, &v); err != nil {
		t.Fatalf("decode data %s: %v", env.Data, err)
	}
	return v
}

func TestCreateCustomerThenGet(t *testing.T) {
	api := newTestAPI(t, Options{})

	api.mock.ExpectBegin()
	api.mock.ExpectQuery("INSERT INTO customers (customer_name, is_active, created_by, created_at) VALUES ($1, $2, $3, now()) RETURNING id").
		WithArgs("Acme", int64(1), testUserID).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(11)))
	api.mock.ExpectCommit()

	status, env := api.do(http.MethodPost, "/customers", map[string]any{"customer_name": "Acme"}, false)
	if status != http.StatusCreated || !env.Success {
		t.Fatalf("create: status %d env %+v", status, env)
	}
	created := decodeData[map[string]any](t, env)
	if created["id"] != float64(11) || created["message"] != "Customer created successfully" {
		t.Fatalf("unexpected create payload: %v", created)
	}

	api.mock.ExpectQuery("SELECT * FROM customers WHERE id = $1").
		WithArgs(int64(11)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "customer_name", "is_active", "created_by"}).
			AddRow(int64(11), "Acme", int64(1), testUserID))

	status, env = api.do(http.MethodGet, "/customers/11", nil, false)
	if status != http.StatusOK {
		t.Fatalf("get: status %d env %+v", status, env)
	}
	got := decodeData[map[string]any](t, env)
	if got["customer_name"] != "Acme" || got["is_active"] != float64(1) || got["created_by"] != float64(testUserID) {
		t.Fatalf("unexpected customer: %v", got)
	}
	api.verify()
}

func TestListCustomersPaginates(t *testing.T) {
	api := newTestAPI(t, Options{})
	cols := []string{"id", "customer_name"}

	api.mock.ExpectQuery("SELECT * FROM customers ORDER BY created_at DESC, id DESC LIMIT $1 OFFSET $2").
		WithArgs(int64(2), int64(0)).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(int64(3), "C").AddRow(int64(2), "B"))
	api.mock.ExpectQuery("SELECT COUNT(*) AS total FROM customers").
		WillReturnRows(sqlmock.NewRows([]string{"total"}).AddRow(int64(3)))
	api.mock.ExpectQuery("SELECT * FROM customers ORDER BY created_at DESC, id DESC LIMIT $1 OFFSET $2").
		WithArgs(int64(2), int64(2)).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(int64(1), "A"))
	api.mock.ExpectQuery("SELECT COUNT(*) AS total FROM customers").
		WillReturnRows(sqlmock.NewRows([]string{"total"}).AddRow(int64(3)))

	type listing struct {
		Customers  []map[string]any `json:"customers"`
		Pagination Pagination       `json:"pagination"`
	}

	seen := map[float64]bool{}
	for _, tc := range []struct {
		path string
		rows int
		page int
	}{
		{"/customers?page=1&limit=2", 2, 1},
		{"/customers?page=2&limit=2", 1, 2},
	} {
		status, env := api.do(http.MethodGet, tc.path, nil, false)
		if status != http.StatusOK {
			t.Fatalf("%s: status %d", tc.path, status)
		}
		l := decodeData[listing](t, env)
		if len(l.Customers) != tc.rows {
			t.Fatalf("%s: got %d rows", tc.path, len(l.Customers))
		}
		want := Pagination{Page: tc.page, Limit: 2, Total: 3, TotalPages: 2}
		if l.Pagination != want {
			t.Fatalf("%s: pagination %+v, want %+v", tc.path, l.Pagination, want)
		}
		for _, row := range l.Customers {
			id := row["id"].(float64)
			if seen[id] {
				t.Fatalf("id %v returned on two pages", id)
			}
			seen[id] = true
		}
	}
	api.verify()
}

func TestListCustomersSearchEscapesWildcards(t *testing.T) {
	api := newTestAPI(t, Options{})

	where := " WHERE (customer_name ILIKE $1 OR contact_person ILIKE $1 OR phone ILIKE $1 OR email ILIKE $1)"
	api.mock.ExpectQuery("SELECT * FROM customers"+where+" ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3").
		WithArgs(`%50\%%`, int64(defaultPageLimit), int64(0)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	api.mock.ExpectQuery("SELECT COUNT(*) AS total FROM customers"+where).
		WithArgs(`%50\%%`).
		WillReturnRows(sqlmock.NewRows([]string{"total"}).AddRow(int64(0)))

	status, env := api.do(http.MethodGet, "/customers?search=50%25", nil, false)
	if status != http.StatusOK {
		t.Fatalf("status %d env %+v", status, env)
	}
	api.verify()
}

func TestUpdateMissingCustomerIsNotFound(t *testing.T) {
	api := newTestAPI(t, Options{})

	api.mock.ExpectQuery("SELECT id FROM customers WHERE id = $1").
		WithArgs(int64(99)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	status, env := api.do(http.MethodPut, "/customers/99", map[string]any{"phone": "555"}, false)
	if status != http.StatusNotFound || env.Message != "Customer not found" {
		t.Fatalf("status %d env %+v", status, env)
	}
	api.verify()
}

func TestUpdateMissingRecordIgnoresBody(t *testing.T) {
	api := newTestAPI(t, Options{})

	cases := []struct {
		path  string
		table string
		body  string
		msg   string
	}{
		{"/customers/99", "customers", `{}`, "Customer not found"},
		{"/customers/99", "customers", `{"colour": "red"}`, "Customer not found"},
		{"/sales-invoices/99", "sales_invoices", `{}`, "Invoice not found"},
	}
	for _, tc := range cases {
		api.mock.ExpectQuery("SELECT id FROM " + tc.table + " WHERE id = $1").
			WithArgs(int64(99)).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		status, env := api.do(http.MethodPut, tc.path, tc.body, false)
		if status != http.StatusNotFound || env.Message != tc.msg {
			t.Fatalf("%s %s: status %d env %+v", tc.path, tc.body, status, env)
		}
	}
	api.verify()
}

func TestUpdateWithoutFieldsIsRejected(t *testing.T) {
	api := newTestAPI(t, Options{})

	api.mock.ExpectQuery("SELECT id FROM customers WHERE id = $1").
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(5)))

	status, env := api.do(http.MethodPut, "/customers/5", `{}`, false)
	if status != http.StatusBadRequest {
		t.Fatalf("status %d env %+v", status, env)
	}
	api.verify()
}

func TestDeleteMissingRecordIsNotFound(t *testing.T) {
	api := newTestAPI(t, Options{})

	api.mock.ExpectQuery("SELECT id FROM quotations WHERE id = $1").
		WithArgs(int64(4)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	status, env := api.do(http.MethodDelete, "/quotations/4", nil, false)
	if status != http.StatusNotFound || env.Message != "Quotation not found" {
		t.Fatalf("status %d env %+v", status, env)
	}
	api.verify()
}

func TestDeleteCustomerIsSoft(t *testing.T) {
	api := newTestAPI(t, Options{})

	api.mock.ExpectQuery("SELECT id FROM customers WHERE id = $1").
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(5)))
	api.mock.ExpectBegin()
	api.mock.ExpectExec("UPDATE customers SET is_active = $1, updated_by = $2, updated_at = now() WHERE id = $3").
		WithArgs(int64(0), testUserID, int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	api.mock.ExpectCommit()

	status, env := api.do(http.MethodDelete, "/customers/5", nil, false)
	if status != http.StatusOK {
		t.Fatalf("status %d env %+v", status, env)
	}
	if got := decodeData[map[string]any](t, env)["message"]; got != "Customer deleted successfully" {
		t.Fatalf("unexpected message %v", got)
	}
	api.verify()
}

func TestUpdateQuotationBindsExactNumbers(t *testing.T) {
	api := newTestAPI(t, Options{})

	api.mock.ExpectQuery("SELECT id FROM quotations WHERE id = $1").
		WithArgs(int64(8)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(8)))
	api.mock.ExpectBegin()
	api.mock.ExpectExec("UPDATE quotations SET rate = $1, valid_until = $2, updated_by = $3, updated_at = now() WHERE id = $4").
		WithArgs("4200.75", "2026-11-30", testUserID, int64(8)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	api.mock.ExpectCommit()

	status, env := api.do(http.MethodPut, "/quotations/8", `{"rate": 4200.75, "valid_until": "2026-11-30"}`, false)
	if status != http.StatusOK {
		t.Fatalf("status %d env %+v", status, env)
	}
	api.verify()
}

func TestCreateRejectsBadBodies(t *testing.T) {
	api := newTestAPI(t, Options{})

	cases := []struct {
		name  string
		body  string
		field string
	}{
		{"unknown field", `{"customer_name":"A","colour":"red"}`, "colour"},
		{"nested value", `{"customer_name":{"first":"A"}}`, "customer_name"},
		{"blank required", `{"customer_name":""}`, "customer_name"},
		{"missing required", `{"phone":"555"}`, "customer_name"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, env := api.do(http.MethodPost, "/customers", tc.body, false)
			if status != http.StatusBadRequest || env.Message != apperr.MsgValidation {
				t.Fatalf("status %d env %+v", status, env)
			}
			if len(env.Details) == 0 || env.Details[0].Field != tc.field {
				t.Fatalf("unexpected details %+v", env.Details)
			}
		})
	}

	status, env := api.do(http.MethodPost, "/customers", `not json`, false)
	if status != http.StatusBadRequest {
		t.Fatalf("malformed body: status %d env %+v", status, env)
	}
	status, _ = api.do(http.MethodGet, "/customers/abc", nil, false)
	if status != http.StatusBadRequest {
		t.Fatalf("non-numeric id: status %d", status)
	}
	api.verify()
}

func TestDuplicateCustomerIsConflict(t *testing.T) {
	api := newTestAPI(t, Options{})

	api.mock.ExpectBegin()
	api.mock.ExpectQuery("INSERT INTO customers (customer_name, is_active, created_by, created_at) VALUES ($1, $2, $3, now()) RETURNING id").
		WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key value"})
	api.mock.ExpectRollback()

	status, env := api.do(http.MethodPost, "/customers", map[string]any{"customer_name": "Acme"}, false)
	if status != http.StatusConflict || env.Message != apperr.MsgDuplicate {
		t.Fatalf("status %d env %+v", status, env)
	}
	api.verify()
}

func TestDriverFailureIsGeneric(t *testing.T) {
	api := newTestAPI(t, Options{})

	api.mock.ExpectQuery("SELECT * FROM recipes WHERE id = $1").
		WithArgs(int64(1)).
		WillReturnError(errors.New("connection reset by peer"))

	status, env := api.do(http.MethodGet, "/recipes/1", nil, false)
	if status != http.StatusInternalServerError || env.Message != apperr.MsgUnexpected {
		t.Fatalf("status %d env %+v", status, env)
	}
	api.verify()
}

func TestAuthRequired(t *testing.T) {
	api := newTestAPI(t, Options{})

	status, env := api.do(http.MethodGet, "/customers", nil, true)
	if status != http.StatusUnauthorized || env.Message != "No authorization header provided" {
		t.Fatalf("status %d env %+v", status, env)
	}

	api.token = "not-a-token"
	status, env = api.do(http.MethodGet, "/sales-orders", nil, false)
	if status != http.StatusUnauthorized || env.Message != "Invalid token" {
		t.Fatalf("status %d env %+v", status, env)
	}
	api.verify()
}

func TestCreateInvoiceIsAtomic(t *testing.T) {
	api := newTestAPI(t, Options{})

	body := `{
		"customer_id": 3,
		"invoice_number": "INV-001",
		"total_amount": 1500.50,
		"items": [{"item_description": "M20 concrete", "quantity": 10, "unit_price": 150.05, "amount": 1500.50}]
	}`

	api.mock.ExpectBegin()
	api.mock.ExpectQuery("INSERT INTO sales_invoices (customer_id, invoice_number, total_amount, created_by, created_at) VALUES ($1, $2, $3, $4, now()) RETURNING id").
		WithArgs(int64(3), "INV-001", "1500.50", testUserID).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(21)))
	api.mock.ExpectExec("INSERT INTO sales_invoice_items (invoice_id, item_description, quantity, unit_price, tax_rate, amount) VALUES ($1, $2, $3, $4, $5, $6)").
		WithArgs(int64(21), "M20 concrete", int64(10), "150.05", nil, "1500.50").
		WillReturnError(errors.New("disk full"))
	api.mock.ExpectRollback()

	status, env := api.do(http.MethodPost, "/sales-invoices", body, false)
	if status != http.StatusInternalServerError {
		t.Fatalf("status %d env %+v", status, env)
	}
	api.verify()

	api.mock.ExpectBegin()
	api.mock.ExpectQuery("INSERT INTO sales_invoices (customer_id, invoice_number, total_amount, created_by, created_at) VALUES ($1, $2, $3, $4, now()) RETURNING id").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(22)))
	api.mock.ExpectExec("INSERT INTO sales_invoice_items (invoice_id, item_description, quantity, unit_price, tax_rate, amount) VALUES ($1, $2, $3, $4, $5, $6)").
		WillReturnResult(sqlmock.NewResult(0, 1))
	api.mock.ExpectCommit()

	status, env = api.do(http.MethodPost, "/sales-invoices", body, false)
	if status != http.StatusCreated {
		t.Fatalf("status %d env %+v", status, env)
	}
	if got := decodeData[map[string]any](t, env)["id"]; got != float64(22) {
		t.Fatalf("unexpected invoice id %v", got)
	}
	api.verify()
}

func TestCreateInvoiceRequiresItems(t *testing.T) {
	api := newTestAPI(t, Options{})

	for _, body := range []string{
		`{"customer_id": 3, "invoice_number": "INV-002"}`,
		`{"customer_id": 3, "invoice_number": "INV-002", "items": []}`,
		`{"customer_id": 3, "invoice_number": "INV-002", "items": [{"quantity": 1}]}`,
	} {
		status, env := api.do(http.MethodPost, "/sales-invoices", body, false)
		if status != http.StatusBadRequest {
			t.Fatalf("%s: status %d env %+v", body, status, env)
		}
	}
	api.verify()
}

func TestDeleteInvoiceRemovesItemsFirst(t *testing.T) {
	api := newTestAPI(t, Options{})

	api.mock.ExpectQuery("SELECT id FROM sales_invoices WHERE id = $1").
		WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(9)))
	api.mock.ExpectBegin()
	api.mock.ExpectExec("DELETE FROM sales_invoice_items WHERE invoice_id = $1").
		WithArgs(int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	api.mock.ExpectExec("DELETE FROM sales_invoices WHERE id = $1").
		WithArgs(int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	api.mock.ExpectCommit()

	status, env := api.do(http.MethodDelete, "/sales-invoices/9", nil, false)
	if status != http.StatusOK {
		t.Fatalf("status %d env %+v", status, env)
	}
	api.verify()
}

func TestCashBookSummary(t *testing.T) {
	api := newTestAPI(t, Options{})
	summarySQL := "SELECT COUNT(*) AS entries, " +
		"COALESCE(SUM(CASE WHEN transaction_type = 'credit' THEN amount ELSE 0 END), 0) AS total_credit, " +
		"COALESCE(SUM(CASE WHEN transaction_type = 'debit' THEN amount ELSE 0 END), 0) AS total_debit, " +
		"COALESCE(SUM(CASE WHEN transaction_type = 'credit' THEN amount ELSE -amount END), 0) AS balance " +
		"FROM cash_book"
	cols := []string{"entries", "total_credit", "total_debit", "balance"}

	api.mock.ExpectQuery(summarySQL+" WHERE transaction_date >= $1 AND transaction_date <= $2").
		WithArgs("2030-01-01", "2030-01-31").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(int64(0), "0", "0", "0"))

	status, env := api.do(http.MethodGet, "/cash-book/summary?start_date=2030-01-01&end_date=2030-01-31", nil, false)
	if status != http.StatusOK || string(env.Data) != "{}" {
		t.Fatalf("empty range: status %d data %s", status, env.Data)
	}

	api.mock.ExpectQuery(summarySQL).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(int64(3), "500.00", "120.25", "379.75"))

	status, env = api.do(http.MethodGet, "/cash-book/summary", nil, false)
	if status != http.StatusOK {
		t.Fatalf("status %d env %+v", status, env)
	}
	got := decodeData[map[string]json.Number](t, env)
	if got["total_credit"] != "500.00" || got["total_debit"] != "120.25" || got["balance"] != "379.75" {
		t.Fatalf("unexpected summary %v", got)
	}

	status, env = api.do(http.MethodGet, "/cash-book/summary?start_date=yesterday", nil, false)
	if status != http.StatusBadRequest || len(env.Details) != 1 || env.Details[0].Field != "start_date" {
		t.Fatalf("bad date: status %d env %+v", status, env)
	}
	api.verify()
}

func TestLoginRoundTrip(t *testing.T) {
	api := newTestAPI(t, Options{})

	hash, err := auth.HashPassword("s3cret")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	userCols := []string{"id", "username", "password_hash", "email", "full_name", "role"}
	api.mock.ExpectQuery(userSelectFields+" WHERE username = $1 AND is_active = 1").
		WithArgs("admin").
		WillReturnRows(sqlmock.NewRows(userCols).AddRow(int64(1), "admin", hash, "admin@example.com", "Site Admin", "admin"))
	api.mock.ExpectBegin()
	api.mock.ExpectExec("UPDATE users SET last_login = now() WHERE id = $1").
		WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	api.mock.ExpectCommit()

	status, env := api.do(http.MethodPost, "/auth/login", map[string]string{"username": " admin ", "password": "s3cret"}, true)
	if status != http.StatusOK {
		t.Fatalf("login: status %d env %+v", status, env)
	}
	login := decodeData[struct {
		Token string   `json:"token"`
		User  userView `json:"user"`
	}](t, env)
	if login.User.FullName != "Site Admin" || login.User.ID != 1 {
		t.Fatalf("unexpected user %+v", login.User)
	}
	p, err := api.authn.ValidateHeaders(map[string]string{"Authorization": "Bearer " + login.Token})
	if err != nil {
		t.Fatalf("issued token rejected: %v", err)
	}
	if p.ID != 1 || p.Username != "admin" || p.Role != "admin" {
		t.Fatalf("unexpected principal %+v", p)
	}

	api.token = login.Token
	api.mock.ExpectQuery(userSelectFields+" WHERE id = $1 AND is_active = 1").
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows(userCols))
	status, env = api.do(http.MethodGet, "/auth/validate", nil, false)
	if status != http.StatusUnauthorized || env.Message != msgInactiveUser {
		t.Fatalf("validate deactivated: status %d env %+v", status, env)
	}
	api.verify()
}

func TestLoginRejectsBadPassword(t *testing.T) {
	api := newTestAPI(t, Options{})

	hash, err := auth.HashPassword("s3cret")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	api.mock.ExpectQuery(userSelectFields+" WHERE username = $1 AND is_active = 1").
		WithArgs("admin").
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "password_hash", "email", "full_name", "role"}).
			AddRow(int64(1), "admin", hash, "", "", "admin"))

	status, env := api.do(http.MethodPost, "/auth/login", map[string]string{"username": "admin", "password": "wrong"}, true)
	if status != http.StatusUnauthorized || env.Message != msgBadLogin {
		t.Fatalf("status %d env %+v", status, env)
	}

	status, _ = api.do(http.MethodPost, "/auth/login", map[string]string{"username": "admin"}, true)
	if status != http.StatusBadRequest {
		t.Fatalf("missing password: status %d", status)
	}
	api.verify()
}

func TestRefreshAndLogout(t *testing.T) {
	api := newTestAPI(t, Options{})

	status, env := api.do(http.MethodPost, "/auth/refresh", nil, false)
	if status != http.StatusOK {
		t.Fatalf("refresh: status %d env %+v", status, env)
	}
	token := decodeData[map[string]string](t, env)["token"]
	if _, err := api.authn.VerifyToken(token); err != nil {
		t.Fatalf("refreshed token rejected: %v", err)
	}

	status, _ = api.do(http.MethodPost, "/auth/logout", nil, true)
	if status != http.StatusOK {
		t.Fatalf("logout: status %d", status)
	}
}

func TestReports(t *testing.T) {
	api := newTestAPI(t, Options{})

	status, env := api.do(http.MethodGet, "/reports", nil, false)
	if status != http.StatusOK {
		t.Fatalf("list: status %d", status)
	}
	if got := decodeData[[]reportInfo](t, env); len(got) != len(reportCatalogue) {
		t.Fatalf("unexpected catalogue %v", got)
	}

	status, env = api.do(http.MethodGet, "/reports/preview?report_id=qc-report", nil, false)
	if status != http.StatusOK || decodeData[map[string]string](t, env)["reportId"] != "qc-report" {
		t.Fatalf("preview: status %d env %+v", status, env)
	}
	status, _ = api.do(http.MethodGet, "/reports/download", nil, false)
	if status != http.StatusBadRequest {
		t.Fatalf("missing id: status %d", status)
	}
	status, env = api.do(http.MethodGet, "/reports/download?report_id=nope", nil, false)
	if status != http.StatusNotFound || env.Message != "Report not found" {
		t.Fatalf("unknown id: status %d env %+v", status, env)
	}
}

func TestDashboardStatsAreCached(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	api := newTestAPI(t, Options{Cache: cache.NewWithClient(client, time.Minute)})

	api.mock.ExpectQuery("SELECT COUNT(*) AS count FROM customers WHERE is_active = 1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(12)))
	api.mock.ExpectQuery("SELECT COUNT(*) AS count, SUM(total_amount) AS total FROM sales_invoices " +
		"WHERE date_trunc('year', invoice_date) = date_trunc('year', CURRENT_DATE)").
		WillReturnRows(sqlmock.NewRows([]string{"count", "total"}).AddRow(int64(4), "98000.50"))
	api.mock.ExpectQuery("SELECT COUNT(*) AS count FROM sales_orders WHERE status = $1").
		WithArgs("pending").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(2)))

	want := dashboardStats{ActiveCustomers: 12, TotalInvoices: 4, YearlyRevenue: "98000.50", PendingOrders: 2}
	for i := 0; i < 2; i++ {
		status, env := api.do(http.MethodGet, "/dashboard/stats", nil, false)
		if status != http.StatusOK {
			t.Fatalf("call %d: status %d env %+v", i, status, env)
		}
		if got := decodeData[dashboardStats](t, env); got != want {
			t.Fatalf("call %d: got %+v want %+v", i, got, want)
		}
	}
	api.verify()
}

func TestInvoiceWritesDropDashboardCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := cache.NewWithClient(client, time.Minute)
	api := newTestAPI(t, Options{Cache: store})

	ctx := context.Background()
	if err := store.Set(ctx, cacheKeyStats, dashboardStats{TotalInvoices: 1}); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	api.mock.ExpectQuery("SELECT id FROM sales_invoices WHERE id = $1").
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(3)))
	api.mock.ExpectBegin()
	api.mock.ExpectExec("DELETE FROM sales_invoice_items WHERE invoice_id = $1").
		WithArgs(int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	api.mock.ExpectExec("DELETE FROM sales_invoices WHERE id = $1").
		WithArgs(int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	api.mock.ExpectCommit()

	status, env := api.do(http.MethodDelete, "/sales-invoices/3", nil, false)
	if status != http.StatusOK {
		t.Fatalf("status %d env %+v", status, env)
	}
	var stats dashboardStats
	hit, err := store.Get(ctx, cacheKeyStats, &stats)
	if err != nil || hit {
		t.Fatalf("expected snapshot dropped, hit=%v err=%v", hit, err)
	}
	api.verify()
}

func TestCustomerWritesDropStatsOnly(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := cache.NewWithClient(client, time.Minute)
	api := newTestAPI(t, Options{Cache: store})

	ctx := context.Background()
	if err := store.Set(ctx, cacheKeyStats, dashboardStats{ActiveCustomers: 3}); err != nil {
		t.Fatalf("seed stats: %v", err)
	}
	if err := store.Set(ctx, cacheKeyQuantity, quantityMetrics{}); err != nil {
		t.Fatalf("seed quantity: %v", err)
	}

	api.mock.ExpectQuery("SELECT id FROM customers WHERE id = $1").
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(5)))
	api.mock.ExpectBegin()
	api.mock.ExpectExec("UPDATE customers SET is_active = $1, updated_by = $2, updated_at = now() WHERE id = $3").
		WithArgs(int64(0), testUserID, int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	api.mock.ExpectCommit()

	status, env := api.do(http.MethodDelete, "/customers/5", nil, false)
	if status != http.StatusOK {
		t.Fatalf("status %d env %+v", status, env)
	}

	var stats dashboardStats
	if hit, err := store.Get(ctx, cacheKeyStats, &stats); err != nil || hit {
		t.Fatalf("expected stats dropped, hit=%v err=%v", hit, err)
	}
	var q quantityMetrics
	if hit, err := store.Get(ctx, cacheKeyQuantity, &q); err != nil || !hit {
		t.Fatalf("expected quantity kept, hit=%v err=%v", hit, err)
	}
	api.verify()
}

func TestOperationalRoutes(t *testing.T) {
	api := newTestAPI(t, Options{})

	resp, err := api.client.Get(api.baseURL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodOptions, api.baseURL+"/customers/1", nil)
	resp, err = api.client.Do(req)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent || resp.Header.Get("Access-Control-Allow-Methods") == "" {
		t.Fatalf("preflight: status %d headers %v", resp.StatusCode, resp.Header)
	}

	status, env := api.do(http.MethodGet, "/no-such-route", nil, true)
	if status != http.StatusNotFound || env.Success {
		t.Fatalf("unknown route: status %d env %+v", status, env)
	}
}

func TestAggregateReports(t *testing.T) {
	api := newTestAPI(t, Options{})

	api.mock.ExpectQuery("SELECT vendor_name, COALESCE(SUM(quantity), 0) AS total_quantity, COALESCE(SUM(amount), 0) AS total_amount " +
		"FROM aggregates GROUP BY vendor_name ORDER BY vendor_name").
		WillReturnRows(sqlmock.NewRows([]string{"vendor_name", "total_quantity", "total_amount"}).
			AddRow("Sharma Quarry", "120.00", "54000.00"))
	api.mock.ExpectQuery("SELECT * FROM aggregates WHERE payment_status = 'pending' OR payment_status IS NULL " +
		"ORDER BY created_at DESC, id DESC").
		WillReturnRows(sqlmock.NewRows([]string{"id", "vendor_name", "payment_status"}).
			AddRow(int64(4), "Sharma Quarry", nil))

	status, env := api.do(http.MethodGet, "/aggregates/by-vendor", nil, false)
	if status != http.StatusOK {
		t.Fatalf("by-vendor: status %d env %+v", status, env)
	}
	if rows := decodeData[[]map[string]any](t, env); len(rows) != 1 || rows[0]["vendor_name"] != "Sharma Quarry" {
		t.Fatalf("unexpected rows %v", rows)
	}

	status, env = api.do(http.MethodGet, "/aggregates/payment-pending", nil, false)
	if status != http.StatusOK {
		t.Fatalf("payment-pending: status %d env %+v", status, env)
	}
	if rows := decodeData[[]map[string]any](t, env); len(rows) != 1 || rows[0]["payment_status"] != nil {
		t.Fatalf("unexpected rows %v", rows)
	}
	api.verify()
}

func TestGetInvoiceIncludesItems(t *testing.T) {
	api := newTestAPI(t, Options{})

	api.mock.ExpectQuery("SELECT si.*, c.customer_name FROM sales_invoices si LEFT JOIN customers c ON si.customer_id = c.id WHERE si.id = $1").
		WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "invoice_number", "customer_name"}).AddRow(int64(9), "INV-009", "Acme"))
	api.mock.ExpectQuery("SELECT * FROM sales_invoice_items WHERE invoice_id = $1 ORDER BY id").
		WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "item_description"}).
			AddRow(int64(1), "M20 concrete").AddRow(int64(2), "Pump charges"))

	status, env := api.do(http.MethodGet, "/sales-invoices/9", nil, false)
	if status != http.StatusOK {
		t.Fatalf("status %d env %+v", status, env)
	}
	got := decodeData[struct {
		InvoiceNumber string           `json:"invoice_number"`
		CustomerName  string           `json:"customer_name"`
		Items         []map[string]any `json:"items"`
	}](t, env)
	if got.InvoiceNumber != "INV-009" || got.CustomerName != "Acme" || len(got.Items) != 2 {
		t.Fatalf("unexpected invoice %+v", got)
	}
	api.verify()
}

func TestUpdateInvoiceReplacesItems(t *testing.T) {
	api := newTestAPI(t, Options{})

	api.mock.ExpectQuery("SELECT id FROM sales_invoices WHERE id = $1").
		WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(9)))
	api.mock.ExpectBegin()
	api.mock.ExpectExec("UPDATE sales_invoices SET notes = $1, updated_by = $2, updated_at = now() WHERE id = $3").
		WithArgs("revised", testUserID, int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	api.mock.ExpectExec("DELETE FROM sales_invoice_items WHERE invoice_id = $1").
		WithArgs(int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	api.mock.ExpectExec("INSERT INTO sales_invoice_items (invoice_id, item_description, quantity, unit_price, tax_rate, amount) VALUES ($1, $2, $3, $4, $5, $6)").
		WithArgs(int64(9), "M25 concrete", int64(6), int64(5200), int64(18), int64(31200)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	api.mock.ExpectCommit()

	body := `{"notes": "revised", "items": [{"item_description": "M25 concrete", "quantity": 6, "unit_price": 5200, "tax_rate": 18, "amount": 31200}]}`
	status, env := api.do(http.MethodPut, "/sales-invoices/9", body, false)
	if status != http.StatusOK {
		t.Fatalf("status %d env %+v", status, env)
	}
	api.verify()
}
