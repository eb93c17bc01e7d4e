// Package server implements the gateway's HTTP server and S3-compatible
// route multiplexer.
package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/balchua/beggar/internal/auth"
	"github.com/balchua/beggar/internal/config"
	s3err "github.com/balchua/beggar/internal/errors"
	"github.com/balchua/beggar/internal/handlers"
	"github.com/balchua/beggar/internal/storage"
	"github.com/balchua/beggar/internal/xmlutil"
)

// Server routes incoming requests to the appropriate S3 handler based on the
// request method, path shape, and query parameters.
type Server struct {
	cfg        *config.Config
	router     chi.Router
	api        huma.API
	creds      *auth.SimpleAuth
	bucket     *handlers.BucketHandler
	object     *handlers.ObjectHandler
	multi      *handlers.MultipartHandler
	httpServer *http.Server
}

// HealthBody is the JSON body returned by the health check endpoint.
type HealthBody struct {
	Status string `json:"status" example:"ok" doc:"Health status"`
}

// HealthOutput is the Huma output struct for the health check endpoint.
type HealthOutput struct {
	Body HealthBody
}

// New creates a Server over the given backend and wires up all routes.
// creds may be nil when authentication is disabled.
func New(cfg *config.Config, store *storage.Backend, creds *auth.SimpleAuth) *Server {
	router := chi.NewMux()

	humaConfig := huma.DefaultConfig("Beggar S3 API", "1.0.0")
	humaConfig.DocsPath = "/docs"
	humaConfig.OpenAPIPath = "/openapi"
	api := humachi.New(router, humaConfig)

	s := &Server{
		cfg:    cfg,
		router: router,
		api:    api,
		creds:  creds,
		bucket: handlers.NewBucketHandler(store),
		object: handlers.NewObjectHandler(store),
		multi:  handlers.NewMultipartHandler(store, creds.Enabled()),
	}
	s.registerRoutes()
	return s
}

// Handler returns the fully wrapped HTTP handler. Middleware chain:
// metrics -> common headers -> transfer-encoding check -> auth ->
// metadata header rewrite -> router.
func (s *Server) Handler() http.Handler {
	var handler http.Handler = s.router
	// Rewrite x-amz-meta-* headers to lowercase (must be innermost wrapper).
	handler = metadataHeaderMiddleware(handler)
	handler = auth.Middleware(s.creds)(handler)
	handler = transferEncodingCheck(handler)
	handler = commonHeaders(handler)
	handler = metricsMiddleware(handler)
	return handler
}

// ListenAndServe starts the HTTP server on the given address.
func (s *Server) ListenAndServe(addr string) error {
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server, waiting for in-flight
// requests to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// registerRoutes configures all routes on the Chi router. Exact routes
// (health, docs, metrics, openapi) are matched before the S3 catch-all.
func (s *Server) registerRoutes() {
	if s.cfg.Observability.HealthCheck {
		huma.Register(s.api, huma.Operation{
			OperationID: "get-health",
			Method:      http.MethodGet,
			Path:        "/health",
			Summary:     "Health check",
			Description: "Returns the health status of the gateway.",
			Tags:        []string{"System"},
		}, func(ctx context.Context, input *struct{}) (*HealthOutput, error) {
			return &HealthOutput{Body: HealthBody{Status: "ok"}}, nil
		})
	}

	if s.cfg.Observability.Metrics {
		s.router.Handle("/metrics", promhttp.Handler())
	}

	s.router.HandleFunc("/*", s.dispatch)
}

// parsePath extracts bucket and object key from the request path.
// Returns ("", "") for root "/", ("bucket", "") for "/{bucket}",
// and ("bucket", "key/path") for "/{bucket}/{key...}".
func parsePath(path string) (bucket, key string) {
	if len(path) > 0 && path[0] == '/' {
		path = path[1:]
	}
	if path == "" {
		return "", ""
	}
	idx := -1
	for i := 0; i < len(path); i++ {
		if path[i] == '/' {
			idx = i
			break
		}
	}
	if idx < 0 {
		return path, ""
	}
	return path[:idx], path[idx+1:]
}

// dispatch is the main request dispatcher. It parses the path to extract
// bucket and object key, then routes by HTTP method and query parameters.
// Operations outside the supported surface answer NotImplemented.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request) {
	bucket, key := parsePath(r.URL.Path)
	q := r.URL.Query()

	// Service-level operations (no bucket in path).
	if bucket == "" {
		switch r.Method {
		case http.MethodGet:
			s.bucket.ListBuckets(w, r)
		default:
			xmlutil.WriteErrorResponse(w, r, s3err.ErrMethodNotAllowed)
		}
		return
	}

	// Object-level operations (bucket + key in path).
	if key != "" {
		switch r.Method {
		case http.MethodPut:
			if q.Has("partNumber") && q.Has("uploadId") {
				s.multi.UploadPart(w, r)
			} else {
				s.object.PutObject(w, r)
			}
		case http.MethodGet:
			if q.Has("uploadId") {
				s.multi.ListParts(w, r)
			} else {
				s.object.GetObject(w, r)
			}
		case http.MethodHead:
			s.object.HeadObject(w, r)
		case http.MethodDelete:
			if q.Has("uploadId") {
				s.multi.AbortMultipartUpload(w, r)
			} else {
				xmlutil.WriteErrorResponse(w, r, s3err.ErrNotImplemented)
			}
		case http.MethodPost:
			switch {
			case q.Has("uploadId"):
				s.multi.CompleteMultipartUpload(w, r)
			case q.Has("uploads"):
				s.multi.CreateMultipartUpload(w, r)
			default:
				xmlutil.WriteErrorResponse(w, r, s3err.ErrNotImplemented)
			}
		default:
			xmlutil.WriteErrorResponse(w, r, s3err.ErrMethodNotAllowed)
		}
		return
	}

	// Bucket-level operations (bucket in path, no key).
	switch r.Method {
	case http.MethodGet:
		switch {
		case q.Has("location"):
			s.bucket.GetBucketLocation(w, r)
		case q.Has("list-type"):
			s.object.ListObjectsV2(w, r)
		default:
			s.object.ListObjects(w, r)
		}
	case http.MethodHead:
		s.bucket.HeadBucket(w, r)
	default:
		xmlutil.WriteErrorResponse(w, r, s3err.ErrNotImplemented)
	}
}
