package adminapi

import (
	"embed"
	"fmt"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/gorillamux"

	"github.com/fdominguez1972/thumper-counter-sub002/internal/logging"
)

//go:embed openapi.yaml
var specFile embed.FS

// loadSpecRouter parses the embedded OpenAPI document and builds the
// request router kin-openapi uses to find the matching operation for
// validation. Failing to parse the document is a programmer error
// (the spec ships in the binary), so it panics rather than returning
// an error callers would have nowhere sensible to report.
func loadSpecRouter() routers.Router {
	data, err := specFile.ReadFile("openapi.yaml")
	if err != nil {
		panic(fmt.Sprintf("adminapi: embedded openapi.yaml missing: %v", err))
	}
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(data)
	if err != nil {
		panic(fmt.Sprintf("adminapi: openapi.yaml does not parse: %v", err))
	}
	if err := doc.Validate(loader.Context); err != nil {
		panic(fmt.Sprintf("adminapi: openapi.yaml fails its own schema: %v", err))
	}
	router, err := gorillamux.NewRouter(doc)
	if err != nil {
		panic(fmt.Sprintf("adminapi: building openapi router: %v", err))
	}
	return router
}

// validateAgainstSpec is chi middleware that rejects any request to a
// documented path that does not match the embedded OpenAPI contract
// (wrong method, missing required query parameter, and so on) before
// it reaches a handler. Requests to paths the spec does not document
// — /metrics — pass through unchecked.
func (s *Server) validateAgainstSpec(router routers.Router) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route, pathParams, err := router.FindRoute(r)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			input := &openapi3filter.RequestValidationInput{
				Request:    r,
				PathParams: pathParams,
				Route:      route,
			}
			if err := openapi3filter.ValidateRequest(r.Context(), input); err != nil {
				s.Logger.WithFields(logging.NewFields().Component("adminapi").Operation("openapi_validate").Error(err).Logrus()).
					Warn("request rejected by openapi contract")
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
