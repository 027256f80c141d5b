package api

import (
	"context"
	"net/http"

	"github.com/julienschmidt/httprouter"

	apiContext "bindery/internal/api/context"
	"bindery/internal/api/handlers"
	"bindery/internal/api/middleware"
	"bindery/internal/pkg/errors"
	"bindery/internal/platform/auth"
)

type Dependencies struct {
	WebhookHandler   *handlers.WebhookHandler
	PartnerHandler   *handlers.PartnerHandler
	WorkflowHandler  *handlers.WorkflowHandler
	GatewayHandler   *handlers.GatewayHandler
	HealthHandler    *handlers.HealthHandler
	MetricsHandler   *handlers.MetricsHandler
	AuthMiddleware   *middleware.AuthMiddleware
	ApiKeyMiddleware *middleware.ApiKeyMiddleware
	QuotaMiddleware  *middleware.QuotaMiddleware
}

func NewRouter(deps *Dependencies) *httprouter.Router {
	router := httprouter.New()

	router.GET("/healthz", wrap(deps.HealthHandler.Check))
	router.GET("/metrics", wrap(deps.MetricsHandler.Export))

	authMid := deps.AuthMiddleware
	keyMid := deps.ApiKeyMiddleware
	quotaMid := deps.QuotaMiddleware

	// Webhook endpoint management
	router.POST("/api/v1/webhooks",
		chain(deps.WebhookHandler.Create, authMid.Handle))
	router.GET("/api/v1/webhooks",
		chain(deps.WebhookHandler.List, authMid.Handle))
	router.GET("/api/v1/webhooks/:endpoint_id",
		chain(deps.WebhookHandler.Get, authMid.Handle))
	router.PATCH("/api/v1/webhooks/:endpoint_id",
		chain(deps.WebhookHandler.Update, authMid.Handle))
	router.DELETE("/api/v1/webhooks/:endpoint_id",
		chain(deps.WebhookHandler.Delete, authMid.Handle))
	router.GET("/api/v1/webhooks/:endpoint_id/stats",
		chain(deps.WebhookHandler.Stats, authMid.Handle))
	router.GET("/api/v1/webhooks/:endpoint_id/deliveries",
		chain(deps.WebhookHandler.ListDeliveries, authMid.Handle))
	router.POST("/api/v1/events/test",
		chain(deps.WebhookHandler.TestEmit, authMid.Handle))

	// Partner application and key management
	router.POST("/api/v1/partner/applications",
		chain(deps.PartnerHandler.RegisterApplication, authMid.Handle))
	router.GET("/api/v1/partner/applications",
		chain(deps.PartnerHandler.ListApplications, authMid.Handle, requireRole("admin", "owner")))
	router.GET("/api/v1/partner/applications/:application_id",
		chain(deps.PartnerHandler.GetApplication, authMid.Handle))
	router.POST("/api/v1/partner/applications/:application_id/approve",
		chain(deps.PartnerHandler.ApproveApplication, authMid.Handle, requireRole("admin", "owner")))
	router.POST("/api/v1/partner/applications/:application_id/reject",
		chain(deps.PartnerHandler.RejectApplication, authMid.Handle, requireRole("admin", "owner")))
	router.POST("/api/v1/partner/applications/:application_id/suspend",
		chain(deps.PartnerHandler.SuspendApplication, authMid.Handle, requireRole("admin", "owner")))
	router.POST("/api/v1/partner/applications/:application_id/keys",
		chain(deps.PartnerHandler.CreateKey, authMid.Handle))
	router.GET("/api/v1/partner/applications/:application_id/keys",
		chain(deps.PartnerHandler.ListKeys, authMid.Handle))
	router.GET("/api/v1/partner/applications/:application_id/usage",
		chain(deps.PartnerHandler.UsageStats, authMid.Handle))
	router.GET("/api/v1/partner/applications/:application_id/quotas",
		chain(deps.PartnerHandler.Quotas, authMid.Handle))
	router.POST("/api/v1/partner/keys/:key_id/rotate",
		chain(deps.PartnerHandler.RotateKey, authMid.Handle))
	router.DELETE("/api/v1/partner/keys/:key_id",
		chain(deps.PartnerHandler.RevokeKey, authMid.Handle))
	router.GET("/api/v1/partner/scopes",
		chain(deps.PartnerHandler.ListScopes, authMid.Handle))
	router.POST("/api/v1/partner/versions",
		chain(deps.PartnerHandler.RegisterVersion, authMid.Handle, requireRole("admin", "owner")))
	router.GET("/api/v1/partner/versions",
		chain(deps.PartnerHandler.ListVersions, authMid.Handle))

	// Workflow management
	router.POST("/api/v1/workflows",
		chain(deps.WorkflowHandler.Create, authMid.Handle))
	router.GET("/api/v1/workflows",
		chain(deps.WorkflowHandler.List, authMid.Handle))
	router.GET("/api/v1/workflow-templates",
		chain(deps.WorkflowHandler.ListTemplates, authMid.Handle))
	router.POST("/api/v1/workflow-templates/:template_id",
		chain(deps.WorkflowHandler.CreateFromTemplate, authMid.Handle))
	router.GET("/api/v1/workflows/:workflow_id",
		chain(deps.WorkflowHandler.Get, authMid.Handle))
	router.PUT("/api/v1/workflows/:workflow_id",
		chain(deps.WorkflowHandler.Update, authMid.Handle))
	router.PATCH("/api/v1/workflows/:workflow_id/status",
		chain(deps.WorkflowHandler.SetStatus, authMid.Handle))
	router.POST("/api/v1/workflows/:workflow_id/trigger",
		chain(deps.WorkflowHandler.Trigger, authMid.Handle))
	router.GET("/api/v1/workflows/:workflow_id/executions",
		chain(deps.WorkflowHandler.ListExecutions, authMid.Handle))
	router.GET("/api/v1/executions/:execution_id",
		chain(deps.WorkflowHandler.GetExecution, authMid.Handle))

	// Partner gateway (API key auth)
	router.POST("/partner/v1/events",
		chain(deps.GatewayHandler.PostEvent, keyMid.Handle, middleware.RequireScope("events:write"), quotaMid.Handle))
	router.GET("/partner/v1/usage",
		chain(deps.GatewayHandler.GetUsage, keyMid.Handle, middleware.RequireScope("analytics:read"), quotaMid.Handle))
	router.POST("/partner/v1/workflows/:workflow_id/trigger",
		chain(deps.GatewayHandler.TriggerWorkflow, keyMid.Handle, middleware.RequireScope("workflows:execute"), quotaMid.Handle))

	return router
}

// chain applies middlewares outermost-first around the handler.
func chain(handler http.HandlerFunc, middlewares ...func(http.HandlerFunc) http.HandlerFunc) httprouter.Handle {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return wrap(handler)
}

// wrap converts an http.HandlerFunc to httprouter.Handle, injecting the
// route params into the request context.
func wrap(handler http.HandlerFunc) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		ctx := context.WithValue(r.Context(), apiContext.Params, ps)
		handler(w, r.WithContext(ctx))
	}
}

func requireRole(roles ...string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			claims := r.Context().Value(apiContext.Claims).(*auth.Claims)

			allowed := false
			for _, role := range roles {
				if claims.Role == role {
					allowed = true
					break
				}
			}

			if !allowed {
				errors.WriteError(w, http.StatusForbidden, errors.ErrCodeForbidden, "Insufficient permissions", nil)
				return
			}

			next(w, r)
		}
	}
}
