package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/gorillamux"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"nexaauth.io/provisioner/internal/api/openapi"
	"nexaauth.io/provisioner/internal/pkg/logger"
)

// Error codes written by the contract check.
const (
	CodeRouteInvalid    = "OPENAPI_ROUTE_INVALID"
	CodeRequestInvalid  = "OPENAPI_REQUEST_INVALID"
	CodeResponseInvalid = "OPENAPI_RESPONSE_INVALID"
)

// ValidatorOptions configure NewOpenAPIValidator.
type ValidatorOptions struct {
	// BasePath is a mount prefix to drop before matching, e.g. "/api".
	BasePath string
	// ValidateResponses holds each documented response back until it has
	// been checked. A response outside the contract becomes a 500.
	ValidateResponses bool
}

// MustOpenAPIValidator is NewOpenAPIValidator for router setup.
func MustOpenAPIValidator(opts ValidatorOptions) gin.HandlerFunc {
	mw, err := NewOpenAPIValidator(opts)
	if err != nil {
		panic(fmt.Sprintf("openapi validator: %v", err))
	}
	return mw
}

// NewOpenAPIValidator checks provisioning traffic against the embedded
// contract. Paths the contract does not list, such as /metrics, are not
// checked.
func NewOpenAPIValidator(opts ValidatorOptions) (gin.HandlerFunc, error) {
	doc, err := openapi.Load()
	if err != nil {
		return nil, err
	}
	router, err := gorillamux.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("build contract router: %w", err)
	}
	v := &contract{
		router: router,
		prefix: normalizeBasePath(opts.BasePath),
		filter: &openapi3filter.Options{
			AuthenticationFunc: func(context.Context, *openapi3filter.AuthenticationInput) error { return nil },
		},
		responses: opts.ValidateResponses,
	}
	return v.handle, nil
}

type contract struct {
	router    routers.Router
	prefix    string
	filter    *openapi3filter.Options
	responses bool
}

var errUndocumented = errors.New("path not in contract")

func (v *contract) handle(c *gin.Context) {
	in, err := v.match(c.Request)
	switch {
	case errors.Is(err, errUndocumented):
		c.Next()
		return
	case err != nil:
		reject(c, CodeRouteInvalid, err)
		return
	}

	err = openapi3filter.ValidateRequest(c.Request.Context(), in)
	// The filter drains the body and leaves a rewound copy on its request.
	c.Request.Body, c.Request.GetBody = in.Request.Body, in.Request.GetBody
	if err != nil {
		reject(c, CodeRequestInvalid, err)
		return
	}

	if !v.responses {
		c.Next()
		return
	}

	rec := &heldResponse{ResponseWriter: c.Writer, status: http.StatusOK}
	c.Writer = rec
	c.Next()
	c.Writer = rec.ResponseWriter

	v.checkResponse(c, in, rec)
	if err := rec.release(); err != nil {
		logger.FromContext(c.Request.Context()).Warn("Could not write checked response",
			zap.String("route", c.FullPath()), zap.Error(err))
	}
}

// match resolves the operation for req, trying the path as sent first and
// then with the mount prefix removed. req itself is left untouched.
func (v *contract) match(req *http.Request) (*openapi3filter.RequestValidationInput, error) {
	paths := []string{req.URL.Path}
	if stripped := normalizeValidationPath(v.prefix, req.URL.Path); stripped != req.URL.Path {
		paths = append(paths, stripped)
	}

	for _, p := range paths {
		u := *req.URL
		u.Path, u.RawPath = p, ""
		lookup := req.Clone(req.Context())
		lookup.URL = &u
		lookup.Body, lookup.GetBody = req.Body, req.GetBody

		route, params, err := v.router.FindRoute(lookup)
		if isPathNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return &openapi3filter.RequestValidationInput{
			Request:    lookup,
			PathParams: params,
			Route:      route,
			Options:    v.filter,
		}, nil
	}
	return nil, errUndocumented
}

func (v *contract) checkResponse(c *gin.Context, in *openapi3filter.RequestValidationInput, rec *heldResponse) {
	out := &openapi3filter.ResponseValidationInput{
		RequestValidationInput: in,
		Status:                 rec.status,
		Header:                 rec.Header().Clone(),
		Options:                v.filter,
	}
	if rec.buf.Len() > 0 {
		out.SetBodyBytes(rec.buf.Bytes())
	}
	err := openapi3filter.ValidateResponse(c.Request.Context(), out)
	if err == nil {
		return
	}
	logger.FromContext(c.Request.Context()).Error("Response breaks the API contract",
		zap.String("method", c.Request.Method),
		zap.String("route", c.FullPath()),
		zap.Int("status", rec.status),
		zap.Error(err),
	)
	rec.replace(http.StatusInternalServerError, gin.H{
		"code":    CodeResponseInvalid,
		"error":   "Internal server error",
		"message": "provisioner produced a response outside its API contract",
	})
}

// isPathNotFound reports whether the router found no operation for the
// path. gorillamux returns the sentinel itself, other routers wrap it or
// copy its reason.
func isPathNotFound(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, routers.ErrPathNotFound) {
		return true
	}
	var re *routers.RouteError
	return errors.As(err, &re) && re.Reason == routers.ErrPathNotFound.Error()
}

func reject(c *gin.Context, code string, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
		"code":    code,
		"error":   "Request does not match the provisioning API",
		"message": err.Error(),
	})
}

func normalizeBasePath(basePath string) string {
	basePath = strings.Trim(strings.TrimSpace(basePath), "/")
	if basePath == "" {
		return ""
	}
	return "/" + basePath
}

// normalizeValidationPath maps a mounted path onto the contract's paths.
func normalizeValidationPath(basePath, path string) string {
	if path == "" || path == basePath {
		return "/"
	}
	if basePath != "" {
		if rest, ok := strings.CutPrefix(path, basePath+"/"); ok {
			return "/" + rest
		}
	}
	return path
}

// heldResponse keeps the handler's status and body in memory so the
// contract check can run before anything reaches the client.
type heldResponse struct {
	gin.ResponseWriter
	buf    bytes.Buffer
	status int
	dirty  bool
}

func (w *heldResponse) WriteHeader(code int) {
	if !w.dirty {
		w.status, w.dirty = code, true
	}
}

func (w *heldResponse) WriteHeaderNow() { w.dirty = true }

func (w *heldResponse) Write(p []byte) (int, error) {
	w.dirty = true
	return w.buf.Write(p)
}

func (w *heldResponse) WriteString(s string) (int, error) {
	w.dirty = true
	return w.buf.WriteString(s)
}

func (w *heldResponse) Status() int   { return w.status }
func (w *heldResponse) Size() int     { return w.buf.Len() }
func (w *heldResponse) Written() bool { return w.dirty }

// replace discards what the handler wrote in favour of a JSON error.
func (w *heldResponse) replace(status int, body gin.H) {
	w.status, w.dirty = status, true
	w.buf.Reset()
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	data, _ := json.Marshal(body)
	w.buf.Write(data)
}

// release sends the held status and body to the real writer.
func (w *heldResponse) release() error {
	w.ResponseWriter.WriteHeader(w.status)
	if w.buf.Len() == 0 {
		return nil
	}
	_, err := w.ResponseWriter.Write(w.buf.Bytes())
	return err
}
