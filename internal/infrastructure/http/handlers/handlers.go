// Package handlers wires the core's inbound entry points onto chi routes:
// the root identifier endpoint and the object read path.
package handlers

import (
	"fmt"
	"net/http"

	"github.com/alchemorsel/gateway/internal/ports/inbound"
)

// Root answers GET / with a fixed identifier string naming the running
// service and version.
func Root(appName, version string) http.HandlerFunc {
	body := fmt.Sprintf("%s %s\n", appName, version)
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, body)
	}
}

// Object adapts the gateway service onto an http.HandlerFunc; its
// ServeObject already matches the signature directly.
func Object(svc inbound.ObjectGatewayService) http.HandlerFunc {
	return svc.ServeObject
}
