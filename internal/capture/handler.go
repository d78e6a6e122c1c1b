package capture

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/oauth2"

	"loopauth/pkg/logging"
)

// maxCallbackBody caps the POSTed form. Real fragments are a few hundred
// bytes.
const maxCallbackBody = 64 << 10

func (s *Session) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleBridge)
	mux.HandleFunc("POST /{$}", s.handleCallback)
	return s.guard(mux)
}

// guard runs in front of every route. Once the session has left the pending
// phase no request reaches a handler.
func (s *Session) guard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.phase.Load() != phasePending {
			s.writeSettled(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Session) writeSettled(w http.ResponseWriter) {
	if s.Cancelled() {
		writeText(w, http.StatusServiceUnavailable, msgCancelled)
		return
	}
	writeText(w, http.StatusBadRequest, msgAlreadyHandled)
}

func (s *Session) handleBridge(w http.ResponseWriter, r *http.Request) {
	writeBridge(w)
}

// handleCallback validates in a fixed order: secret, provider error, token.
// Nothing in the body is looked at before the secret matches.
func (s *Session) handleCallback(w http.ResponseWriter, r *http.Request) {
	if !secretsEqual(s.secret, r.URL.Query().Get("secret")) {
		logging.Warn(subsystem, "Session %s rejected a callback with a mismatched secret", s.id)
		s.reject(w, ErrSecretMismatch)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxCallbackBody)
	if err := r.ParseForm(); err != nil {
		s.reject(w, fmt.Errorf("%w: unreadable callback body: %w", ErrMissingToken, err))
		return
	}
	params, err := url.ParseQuery(r.PostFormValue("params"))
	if err != nil {
		s.reject(w, fmt.Errorf("%w: malformed callback parameters: %w", ErrMissingToken, err))
		return
	}

	if code := params.Get("error"); code != "" {
		s.reject(w, &ProviderError{Code: code, Description: params.Get("error_description")})
		return
	}

	if params.Get("access_token") == "" {
		s.reject(w, ErrMissingToken)
		return
	}

	token := tokenFromParams(params, time.Now())
	if s.opts.Verifier != nil {
		if err := s.opts.Verifier(r.Context(), token); err != nil {
			s.reject(w, fmt.Errorf("%w: %w", ErrVerification, err))
			return
		}
	}

	if !s.finish(token, nil) {
		s.writeSettled(w)
		return
	}
	writeText(w, http.StatusOK, msgSuccess)
}

func (s *Session) reject(w http.ResponseWriter, err error) {
	if !s.finish(nil, err) {
		s.writeSettled(w)
		return
	}
	writeText(w, http.StatusBadRequest, msgFailed)
}

// tokenFromParams converts implicit-grant fragment fields into a token. The
// state field is dropped because it carries the session secret.
func tokenFromParams(params url.Values, now time.Time) *oauth2.Token {
	token := &oauth2.Token{
		AccessToken: params.Get("access_token"),
		TokenType:   params.Get("token_type"),
	}
	if secs, err := strconv.ParseInt(params.Get("expires_in"), 10, 64); err == nil && secs > 0 {
		token.ExpiresIn = secs
		token.Expiry = now.Add(time.Duration(secs) * time.Second)
	}

	extra := url.Values{}
	for k, v := range params {
		if k == "state" || k == "access_token" {
			continue
		}
		extra[k] = v
	}
	return token.WithExtra(extra)
}
