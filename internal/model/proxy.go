// Package model defines shared types for the proxy.
package model

import (
	"context"
	"net/http"
)

// ProxyRequest represents a browser call to be relayed to the private backend.
type ProxyRequest struct {
	Ctx    context.Context
	Method string
	// Path is the suffix after /api/proxy/, segments already joined by "/".
	Path string
	// RawQuery is the original query string, forwarded unmodified.
	RawQuery string
	Header   http.Header
	// Body is nil for GET and HEAD.
	Body []byte
}

// HasBody reports whether the method carries a request body upstream.
func (r *ProxyRequest) HasBody() bool {
	return MethodHasBody(r.Method)
}

// MethodHasBody reports whether a request body is read and forwarded for method.
func MethodHasBody(method string) bool {
	return method != http.MethodGet && method != http.MethodHead
}

// ProxyResponse is the fully materialized upstream response relayed to the caller.
type ProxyResponse struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// OK reports whether the upstream answered with a 2xx status.
func (r *ProxyResponse) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}
