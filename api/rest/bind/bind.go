package bind

import (
	"github.com/labstack/echo/v4"
	authctl "github.com/opsdesk/opsdesk/api/rest/controller/auth"
	"github.com/opsdesk/opsdesk/api/rest/controller/channel"
	"github.com/opsdesk/opsdesk/api/rest/controller/customer"
	"github.com/opsdesk/opsdesk/api/rest/controller/event"
	"github.com/opsdesk/opsdesk/api/rest/controller/execution"
	"github.com/opsdesk/opsdesk/api/rest/controller/queue"
	"github.com/opsdesk/opsdesk/api/rest/controller/sidebar"
	"github.com/opsdesk/opsdesk/api/rest/controller/stats"
	"github.com/opsdesk/opsdesk/api/rest/controller/trigger"
	"github.com/opsdesk/opsdesk/api/rest/controller/webhook"
	"github.com/opsdesk/opsdesk/api/rest/middleware"
	statssvc "github.com/opsdesk/opsdesk/api/rest/service/stats"
	triggersvc "github.com/opsdesk/opsdesk/api/rest/service/trigger"
	"github.com/opsdesk/opsdesk/internal/auth"
	"github.com/opsdesk/opsdesk/internal/callback"
	bus "github.com/opsdesk/opsdesk/internal/event"
	store "github.com/opsdesk/opsdesk/internal/execution"
	"github.com/opsdesk/opsdesk/internal/ingest"
	"github.com/opsdesk/opsdesk/internal/ruledef"
	"github.com/opsdesk/opsdesk/internal/task"
	"github.com/opsdesk/opsdesk/internal/worker"
	"gorm.io/gorm"
)

// Deps are the services the REST endpoints run on.
type Deps struct {
	DB           *gorm.DB
	Auth         *auth.Gateway
	Store        *store.Store
	Pending      worker.PendingSource
	Runner       worker.ExecutionRunner
	Dispatcher   *worker.Dispatcher
	Ingest       *ingest.Service
	Tasks        *task.Service
	Importer     *ruledef.Importer
	Callbacks    *callback.Dispatcher
	Bus          bus.Bus
	Concurrency  int
	QueueBatch   int
	WebhookToken string
}

func All(e *echo.Echo, d *Deps) {
	Webhooks(e.Group("/webhooks"), d)

	v1 := e.Group("/v1")
	Auth(v1.Group("/auth"), d)
	Employee(v1, d, middleware.Authenticate(d.Auth), middleware.RequireEmployee)
}

func Webhooks(g *echo.Group, d *Deps) {
	ctrl := webhook.New(d.Ingest, d.Dispatcher, d.WebhookToken)

	g.POST("/gmail/:email", ctrl.Gmail)
	g.POST("/drive", ctrl.Drive)
}

func Auth(g *echo.Group, d *Deps) {
	ctrl := authctl.New(d.Auth)
	authn := middleware.Authenticate(d.Auth)

	g.POST("/login", ctrl.Login)
	g.POST("/otp/send", ctrl.SendOTP)
	g.POST("/otp/verify", ctrl.VerifyOTP)
	g.POST("/logout", ctrl.Logout, authn)
	g.GET("/me", ctrl.Me, authn)
}

// Employee binds the internal endpoints, each guarded by mw.
func Employee(g *echo.Group, d *Deps, mw ...echo.MiddlewareFunc) {
	// triggers
	{
		ctrl := trigger.New(triggersvc.New(d.DB), d.Importer)
		g.GET("/triggers", ctrl.List, mw...)
		g.GET("/triggers/:id", ctrl.Get, mw...)
		g.POST("/triggers/apply", ctrl.Apply, mw...)
		g.PUT("/triggers/:id/active", ctrl.SetActive, mw...)
	}

	// executions
	{
		ctrl := execution.New(d.Store, d.Callbacks, d.Dispatcher)
		g.GET("/executions", ctrl.List, mw...)
		g.GET("/executions/stats", stats.New(statssvc.New(d.DB)).Get, mw...)
		g.GET("/executions/:id", ctrl.Get, mw...)
		g.POST("/executions/:id/retry", ctrl.Retry, mw...)
		g.GET("/executions/:id/callbacks", ctrl.Callbacks, mw...)
		g.POST("/executions/:id/callbacks/retry", ctrl.RetryCallbacks, mw...)
	}

	// queue
	{
		ctrl := queue.New(d.Pending, d.Runner, d.Concurrency, d.QueueBatch)
		g.POST("/queue/process", ctrl.Process, mw...)
	}

	// customers
	{
		ctrl := customer.New(d.Ingest, d.Dispatcher)
		g.GET("/customers", ctrl.List, mw...)
		g.POST("/customers", ctrl.Post, mw...)
	}

	// push channels
	{
		ctrl := channel.New(d.Ingest)
		g.GET("/channels", ctrl.List, mw...)
		g.POST("/channels/mailboxes/:email", ctrl.WatchMailbox, mw...)
		g.POST("/channels/documents/:gid", ctrl.WatchDocument, mw...)
	}

	// sidebar
	{
		ctrl := sidebar.New(d.Tasks)
		g.GET("/sidebar/tasks", ctrl.List, mw...)
		g.POST("/sidebar/tasks/:id/complete", ctrl.Complete, mw...)
		g.POST("/sidebar/tasks/:id/dismiss", ctrl.Dismiss, mw...)
		g.POST("/sidebar/tasks/:id/actions", ctrl.Action, mw...)
	}

	// events
	{
		ctrl := event.New(d.Bus)
		g.GET("/events", ctrl.Stream, mw...)
	}
}
