package testutil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/legacy"
)

// Contract checks API responses against the OpenAPI document.
type Contract struct {
	doc    *openapi3.T
	router routers.Router
}

// probes serve plain text and are outside the document.
var uncheckedPaths = map[string]bool{
	"/healthz": true,
	"/readyz":  true,
}

// LoadContract parses and validates the OpenAPI document at specPath.
func LoadContract(specPath string) (*Contract, error) {
	doc, err := openapi3.NewLoader().LoadFromFile(specPath)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", specPath, err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("invalid document %s: %w", specPath, err)
	}

	// no servers in the document, so routes match on the bare path
	router, err := legacy.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("build router: %w", err)
	}
	return &Contract{doc: doc, router: router}, nil
}

// HasPath reports whether the document declares the path template.
func (c *Contract) HasPath(path string) bool {
	return c.doc.Paths.Find(path) != nil
}

// CheckResponse returns an error describing every way the response deviates from
// the operation declared for method and path.
func (c *Contract) CheckResponse(method, path string, status int, header http.Header, body []byte) error {
	if uncheckedPaths[path] {
		return nil
	}

	req, err := http.NewRequest(method, path, nil)
	if err != nil {
		return err
	}
	route, params, err := c.router.FindRoute(req)
	if err != nil {
		return fmt.Errorf("%s %s is not declared: %w", method, path, err)
	}

	input := &openapi3filter.ResponseValidationInput{
		RequestValidationInput: &openapi3filter.RequestValidationInput{
			Request:    req,
			PathParams: params,
			Route:      route,
		},
		Status: status,
		Header: header,
		Body:   io.NopCloser(bytes.NewReader(body)),
		Options: &openapi3filter.Options{
			MultiError:            true,
			IncludeResponseStatus: true,
		},
	}
	if err := openapi3filter.ValidateResponse(context.Background(), input); err != nil {
		return fmt.Errorf("%s %s returned %d outside the contract: %s\nbody: %s",
			method, path, status, clip(err.Error(), 500), clip(string(body), 200))
	}
	return nil
}

func clip(s string, n int) string {
	s = string(bytes.TrimSpace([]byte(s)))
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
