package httpapi

import (
	"context"
	"database/sql"
	"net/http"

	"rhombus.app/internal/auth"
	"rhombus.app/internal/document"
	"rhombus.app/internal/events"
	"rhombus.app/internal/obs"
	"rhombus.app/internal/permission"
)

// ReadyProbe checks service readiness (database ping when configured).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	docs   *document.Service
	grants permission.GrantFinder
	policy permission.PolicyClient
	stream *events.Stream

	rateBurst    int
	ratePerSec   int
	maxBodyBytes int64
}

// New wires the full route table.
func New(rp ReadyProbe, version string, docs *document.Service, grants permission.GrantFinder, pc permission.PolicyClient, stream *events.Stream) *API {
	a := &API{
		mux:          http.NewServeMux(),
		readyProbe:   rp,
		version:      version,
		docs:         docs,
		grants:       grants,
		policy:       pc,
		stream:       stream,
		rateBurst:    50,
		ratePerSec:   25,
		maxBodyBytes: 1 << 20,
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.HandleFunc("/openapi.yaml", a.OpenAPISpec)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/auth/token", a.handleAuthToken)

	a.mux.HandleFunc("/v1/documents", a.handleDocumentsCollection)
	a.mux.HandleFunc("/v1/documents/permissions", a.handleDocumentPermissions)
	a.mux.HandleFunc("/v1/documents/", a.handleDocumentResource)

	a.mux.HandleFunc("/v1/events", a.Stream)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// SetLimits overrides the default rate-limit and body-size settings. Call
// before Handler.
func (a *API) SetLimits(burst, perSecond int, maxBodyBytes int64) {
	if burst > 0 {
		a.rateBurst = burst
	}
	if perSecond > 0 {
		a.ratePerSec = perSecond
	}
	if maxBodyBytes > 0 {
		a.maxBodyBytes = maxBodyBytes
	}
}

// Handler returns the fully wrapped handler chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = MaxBodyBytes(h, a.maxBodyBytes)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = Logging(h)
	h = RequestID(h)
	h = CORS(h)
	h = SecurityHeaders(h)
	return obs.Instrument(h)
}

// permissionsFor builds the per-request facade bound to the authenticated
// identity. Each request gets its own immutable instance.
func (a *API) permissionsFor(r *http.Request) (*permission.Permissions, bool) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		return nil, false
	}
	teamID, ok := auth.TeamIDFromContext(r.Context())
	if !ok {
		return nil, false
	}
	return permission.New(a.policy, a.grants, nil, userID, teamID), true
}
