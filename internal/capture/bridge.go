package capture

import (
	_ "embed"
	"fmt"
	"net/http"
)

// bridgePage moves the implicit-grant fragment into a POST body. Fragments
// never reach the server on their own.
//
//go:embed templates/bridge.html
var bridgePage []byte

const (
	msgSuccess        = "Sign-in complete. You can close this window."
	msgFailed         = "Sign-in failed. Return to the application for details."
	msgCancelled      = "Sign-in was cancelled."
	msgAlreadyHandled = "Callback already processed."
)

func setSecurityHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("X-Frame-Options", "DENY")
	h.Set("Referrer-Policy", "no-referrer")
	h.Set("Cache-Control", "no-store")
}

func writeBridge(w http.ResponseWriter) {
	setSecurityHeaders(w)
	w.Header().Set("Content-Security-Policy", "default-src 'none'; script-src 'unsafe-inline'; form-action 'self'")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(bridgePage)
}

func writeText(w http.ResponseWriter, status int, msg string) {
	setSecurityHeaders(w)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = fmt.Fprintln(w, msg)
}
