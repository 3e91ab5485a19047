// Package inbound declares the service boundary the HTTP handler consumes.
package inbound

import (
	"net/http"
)

// ObjectGatewayService serves the per-request object read pipeline
// (Component G). It is implemented by internal/application/gateway.
type ObjectGatewayService interface {
	// ServeObject runs the full read state machine for r (GET or HEAD
	// against a resolved bucket/key) and writes the result to w.
	ServeObject(w http.ResponseWriter, r *http.Request)
}
