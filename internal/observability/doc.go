// Package observability builds the process logger and owns the Prometheus
// collectors shared by the authentication, login and file paths.
package observability
