// Package httputil provides the shared JSON response helpers for the API
// handlers: one error envelope, one request-body decoder, and status
// shortcuts so handlers never write to http.ResponseWriter directly.
package httputil
