package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/rs/zerolog"

	"rmcerp.io/internal/apperr"
	"rmcerp.io/internal/audit"
	"rmcerp.io/internal/obs"
	"rmcerp.io/internal/store/db"
)

const serviceName = "rmcerp-api"

// Store is the database surface used by the handlers.
type Store interface {
	Query(ctx context.Context, q db.Query) ([]db.Record, error)
	Execute(ctx context.Context, q db.Query) (db.Result, error)
	RunTransaction(ctx context.Context, qs []db.Query) ([]db.Result, error)
	Transact(ctx context.Context, fn func(ctx context.Context, tx db.Tx) error) error
}

// Cache stores JSON snapshots of dashboard aggregates.
type Cache interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, v any) error
	Invalidate(ctx context.Context, keys ...string) error
}

// Pinger is satisfied by the database gateway.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe checks the dependencies the API cannot serve without.
type ReadyProbe struct {
	DB Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return rp.DB.Ping(ctx)
}

// Options configures New.
type Options struct {
	Version        string
	Logger         zerolog.Logger
	Cache          Cache
	Ready          ReadyProbe
	Production     bool
	RateBurst      int
	RatePerSecond  int
	LoginPerMinute int
	MaxBodyBytes   int64
}

// API is the HTTP layer.
type API struct {
	router     chi.Router
	store      Store
	authn      TokenIssuer
	cache      Cache
	audit      *audit.Logger
	log        zerolog.Logger
	readyProbe ReadyProbe
	version    string
}

// New wires middleware and every route.
func New(store Store, authn TokenIssuer, opts Options) *API {
	a := &API{
		router:     chi.NewRouter(),
		store:      store,
		authn:      authn,
		cache:      opts.Cache,
		audit:      audit.New(opts.Logger),
		log:        opts.Logger,
		readyProbe: opts.Ready,
		version:    opts.Version,
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}

	r := a.router
	r.Use(chimw.RealIP)
	r.Use(RequestID)
	r.Use(Logging(a.log))
	r.Use(obs.Instrument)
	r.Use(chimw.Recoverer)
	r.Use(SecurityHeaders(opts.Production))
	r.Use(CORSPreflight)
	if opts.RatePerSecond > 0 {
		r.Use(RateLimit(opts.RateBurst, opts.RatePerSecond))
	}
	r.Use(MaxBodyBytes(opts.MaxBodyBytes))

	r.NotFound(a.serve(func(context.Context, *Request) (Response, error) {
		return Response{}, apperr.WithStatus(http.StatusNotFound, "Route not found", nil)
	}))
	r.MethodNotAllowed(a.serve(func(context.Context, *Request) (Response, error) {
		return Response{}, apperr.WithStatus(http.StatusMethodNotAllowed, "Method not allowed", nil)
	}))

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Get("/v1/info", a.Info)
	r.Handle("/metrics", obs.Handler())

	r.Route("/auth", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if opts.LoginPerMinute > 0 {
				r.Use(httprate.Limit(opts.LoginPerMinute, time.Minute,
					httprate.WithKeyFuncs(httprate.KeyByIP),
					httprate.WithLimitHandler(a.serve(func(context.Context, *Request) (Response, error) {
						return Response{}, apperr.WithStatus(http.StatusTooManyRequests, "Too many login attempts", nil)
					}))))
			}
			r.Post("/login", a.serve(a.login))
		})
		r.Get("/validate", a.serve(a.validateSession))
		r.Post("/refresh", a.serve(a.refreshToken))
		r.Post("/logout", a.serve(a.logout))
	})

	r.Route("/customers", func(r chi.Router) {
		a.crud(customersResource).Mount(r, a.serve)
	})
	r.Route("/sales-invoices", invoices{api: a}.mount)
	r.Route("/aggregates", func(r chi.Router) {
		r.Get("/by-vendor", a.serve(a.aggregatesByVendor))
		r.Get("/payment-pending", a.serve(a.aggregatesPaymentPending))
		a.crud(aggregatesResource).Mount(r, a.serve)
	})
	r.Route("/cash-book", func(r chi.Router) {
		r.Get("/summary", a.serve(a.cashBookSummary))
		a.crud(cashBookResource).Mount(r, a.serve)
	})
	for _, m := range genericResources {
		c := a.crud(m.res)
		r.Route(m.path, func(r chi.Router) { c.Mount(r, a.serve) })
	}
	r.Route("/dashboard", func(r chi.Router) {
		r.Get("/stats", a.serve(a.dashboardStats))
		r.Get("/quantity", a.serve(a.dashboardQuantity))
		r.Get("/summary", a.serve(a.dashboardSummary))
	})
	r.Route("/reports", func(r chi.Router) {
		r.Get("/", a.serve(a.listReports))
		r.Get("/preview", a.serve(a.previewReport))
		r.Get("/download", a.serve(a.downloadReport))
	})

	return a
}

// Handler returns the root http.Handler.
func (a *API) Handler() http.Handler {
	return a.router
}

func (a *API) crud(res Resource) *CRUD {
	c := NewCRUD(res, a.store, a.authn, a.audit)
	c.forget = a.forget
	return c
}

// serve adapts an endpoint body to net/http through the request wrapper.
func (a *API) serve(fn HandlerFunc) http.HandlerFunc {
	endpoint := Wrap(a.log, fn)
	return func(w http.ResponseWriter, r *http.Request) {
		req, readErr := newRequest(r)
		var resp Response
		if readErr != nil {
			resp = Wrap(a.log, func(context.Context, *Request) (Response, error) {
				return Response{}, readErr
			})(r.Context(), req)
		} else {
			resp = endpoint(r.Context(), req)
		}
		resp.Write(w)
	}
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		a.log.Warn().Err(err).Msg("readiness probe failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}
