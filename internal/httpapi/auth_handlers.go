package httpapi

import (
	"context"
	"net/http"
	"strings"

	"rmcerp.io/internal/apperr"
	"rmcerp.io/internal/auth"
	"rmcerp.io/internal/store/db"
)

const (
	msgBadLogin      = "Invalid username or password"
	msgInactiveUser  = "User not found or inactive"
	msgLoggedOut     = "Logged out successfully"
	userSelectFields = "SELECT id, username, password_hash, email, full_name, role FROM users"
)

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type userView struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	FullName string `json:"fullName"`
	Role     string `json:"role"`
}

func userFromRecord(rec db.Record) userView {
	return userView{
		ID:       toInt64(rec["id"]),
		Username: stringOf(rec["username"]),
		Email:    stringOf(rec["email"]),
		FullName: stringOf(rec["full_name"]),
		Role:     stringOf(rec["role"]),
	}
}

func (u userView) principal() auth.Principal {
	return auth.Principal{ID: u.ID, Username: u.Username, Email: u.Email, Role: u.Role}
}

func (a *API) login(ctx context.Context, req *Request) (Response, error) {
	var body loginRequest
	if err := decodeJSON(req.Body, &body); err != nil {
		return Response{}, err
	}
	body.Username = strings.TrimSpace(body.Username)
	if err := validateStruct(body); err != nil {
		return Response{}, err
	}

	recs, err := a.store.Query(ctx, db.Query{
		SQL:  userSelectFields + " WHERE username = $1 AND is_active = 1",
		Args: []any{body.Username},
	})
	if err != nil {
		return Response{}, err
	}
	if len(recs) == 0 {
		return Response{}, apperr.InvalidCredential(msgBadLogin, nil)
	}
	if !auth.ComparePassword(body.Password, stringOf(recs[0]["password_hash"])) {
		return Response{}, apperr.InvalidCredential(msgBadLogin, nil)
	}

	user := userFromRecord(recs[0])
	token, err := a.authn.GenerateToken(user.principal())
	if err != nil {
		return Response{}, err
	}
	if _, err := a.store.Execute(ctx, db.Query{
		SQL:  "UPDATE users SET last_login = now() WHERE id = $1",
		Args: []any{user.ID},
	}); err != nil {
		return Response{}, err
	}

	ctx = auth.ContextWithPrincipal(ctx, user.principal())
	_ = a.audit.LogEvent(ctx, "auth.login", map[string]any{"username": user.Username})
	return Success(map[string]any{"token": token, "user": user}, http.StatusOK), nil
}

// validateSession confirms the token and that its user is still active.
func (a *API) validateSession(ctx context.Context, req *Request) (Response, error) {
	ctx, p, err := authenticate(ctx, a.authn, req)
	if err != nil {
		return Response{}, err
	}
	recs, err := a.store.Query(ctx, db.Query{
		SQL:  userSelectFields + " WHERE id = $1 AND is_active = 1",
		Args: []any{p.ID},
	})
	if err != nil {
		return Response{}, err
	}
	if len(recs) == 0 {
		return Response{}, apperr.InvalidCredential(msgInactiveUser, nil)
	}
	return Success(map[string]any{"valid": true, "user": userFromRecord(recs[0])}, http.StatusOK), nil
}

func (a *API) refreshToken(ctx context.Context, req *Request) (Response, error) {
	ctx, p, err := authenticate(ctx, a.authn, req)
	if err != nil {
		return Response{}, err
	}
	token, err := a.authn.GenerateToken(p)
	if err != nil {
		return Response{}, err
	}
	_ = a.audit.LogEvent(ctx, "auth.refresh", nil)
	return Success(map[string]any{"token": token}, http.StatusOK), nil
}

// logout is stateless; clients discard their token.
func (a *API) logout(ctx context.Context, req *Request) (Response, error) {
	return Success(map[string]any{"message": msgLoggedOut}, http.StatusOK), nil
}

func stringOf(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	}
	return ""
}
