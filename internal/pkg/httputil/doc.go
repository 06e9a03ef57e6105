// Package httputil holds the JSON response helpers every handler uses, and
// the mapping from the domain error taxonomy to HTTP status codes.
package httputil
