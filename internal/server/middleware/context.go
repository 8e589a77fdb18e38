package middleware

import (
	"github.com/MicahParks/keyfunc/v3"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/rabbitmq/amqp091-go"

	"lattice/pkg/ai"
	"lattice/pkg/leaselock"
	"lattice/pkg/query"
	"lattice/pkg/retrieval"
	"lattice/pkg/store"
)

// AppUser is the authenticated caller. TenantIDs lists the tenants the
// token grants access to; admins additionally pass the admin routes.
type AppUser struct {
	Subject   string
	Role      string
	TenantIDs []string
}

// GraphStore is the store surface the handlers need: query-time reads plus
// the admin index swap.
type GraphStore interface {
	store.GraphReader
	store.IndexAdmin
}

// App carries the long-lived dependencies of the server. One App is shared
// across all requests; everything on it is safe for concurrent use.
type App struct {
	DBConn       *pgxpool.Pool
	Queue        *amqp091.Channel
	Key          *keyfunc.Keyfunc
	AiClient     ai.GraphAIClient
	Store        GraphStore
	Router       *query.Router
	Lexical      *retrieval.LexicalProvider
	Reranker     retrieval.Reranker
	Locks        *leaselock.Client
	MasterAPIKey string
}

type AppContext struct {
	echo.Context
	App  *App
	User *AppUser
}

func AppContextMiddleware(app *App) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cc := &AppContext{c, app, nil}
			return next(cc)
		}
	}
}

// IsAdmin reports whether the caller may hit the admin surface.
func IsAdmin(user *AppUser) bool {
	return user != nil && user.Role == "admin"
}

// TenantAllowed reports whether the caller may query the given tenant.
// Admins may query any tenant.
func TenantAllowed(user *AppUser, tenantID string) bool {
	if user == nil {
		return false
	}
	if IsAdmin(user) {
		return true
	}
	for _, id := range user.TenantIDs {
		if id == tenantID {
			return true
		}
	}
	return false
}
