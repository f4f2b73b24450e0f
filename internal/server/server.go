// Package server exposes the run ledger and task catalog as a read-only
// HTTP API.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"textrain/internal/app"
	"textrain/internal/domain"
	"textrain/internal/runlog"
	"textrain/internal/tasks"
)

// Config for the HTTP API handler. The ledger stays owned by the caller;
// handlers only read it.
type Config struct {
	Ledger    *runlog.Log
	CorpusDir string
	BasePath  string
	Auth      AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"run not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the uniform error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the textrain API. Serving without
// a token secret is refused rather than falling open.
func New(cfg Config) (http.Handler, error) {
	if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		return nil, domain.Configf("refusing to serve without a JWT secret (set TEXTRAIN_JWT_SECRET)")
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	api := humachi.New(router, huma.DefaultConfig("Textrain API", app.Version))
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerRuns(group, cfg.Ledger)
	registerTasks(group, cfg.CorpusDir)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if errors.Is(err, runlog.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if domain.IsConfig(err) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body HealthResponse `json:"body"`
	}, error) {
		return &struct {
			Body HealthResponse `json:"body"`
		}{Body: HealthResponse{Status: "ok"}}, nil
	})
}

func registerRuns(api huma.API, ledger *runlog.Log) {
	huma.Register(api, huma.Operation{
		OperationID: "list-runs",
		Method:      http.MethodGet,
		Path:        "/runs",
		Summary:     "List training runs",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" enum:"running,finished,failed" required:"false"`
		Task   string `query:"task"`
		Limit  int    `query:"limit" default:"50" minimum:"1" maximum:"500"`
	}) (*struct {
		Body []RunResponse `json:"body"`
	}, error) {
		runs, err := ledger.ListRuns(ctx, runlog.RunFilters{
			Status: input.Status,
			Task:   input.Task,
			Limit:  input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []RunResponse `json:"body"`
		}{Body: mapRuns(runs)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-run",
		Method:      http.MethodGet,
		Path:        "/runs/{id}",
		Summary:     "Get a run with its events",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body RunDetailResponse `json:"body"`
	}, error) {
		r, err := ledger.GetRun(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		events, err := ledger.ListEvents(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RunDetailResponse `json:"body"`
		}{Body: RunDetailResponse{
			Run:    runResponse(r),
			Events: mapRunEvents(events),
		}}, nil
	})
}

func registerTasks(api huma.API, corpusDir string) {
	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List recognized task identifiers",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body TaskCatalogResponse `json:"body"`
	}, error) {
		return &struct {
			Body TaskCatalogResponse `json:"body"`
		}{Body: TaskCatalogResponse{Tasks: tasks.Recognized()}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}",
		Summary:     "Resolve a task profile",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body tasks.Profile `json:"body"`
	}, error) {
		profile, err := tasks.Resolve(ctx, input.ID, tasks.Overrides{
			CorpusDir: corpusDir,
			PlanOnly:  true,
		})
		if err != nil {
			// An id the resolver rejects is a lookup miss from out here.
			if domain.IsConfig(err) {
				return nil, newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
			}
			return nil, handleError(err)
		}
		return &struct {
			Body tasks.Profile `json:"body"`
		}{Body: *profile}, nil
	})
}
