package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"loopauth/internal/loopback"
	"loopauth/pkg/logging"
)

const subsystem = "CaptureSession"

// DefaultCallbackHost is the host name used in the redirect URI. The
// listener itself only ever binds 127.0.0.1.
const DefaultCallbackHost = "localhost"

// Verifier inspects a received token before the session reports success,
// for example to confirm the account is active.
type Verifier func(ctx context.Context, token *oauth2.Token) error

// Options configures a capture session.
type Options struct {
	// Provider is the identity provider host or base URL.
	Provider string
	// Scope is sent verbatim as the single requested scope.
	Scope string
	// Registrations are the candidate client/port pairs in priority order.
	Registrations Registrations
	// CallbackHost overrides DefaultCallbackHost in the redirect URI.
	CallbackHost string
	// Timeout ends the session with ErrTimedOut. Zero waits forever.
	Timeout time.Duration
	// Opener receives the authorization URL. Defaults to OpenBrowser.
	Opener Opener
	// Verifier is optional.
	Verifier Verifier
}

// Session phases. A session leaves phasePending exactly once.
const (
	phasePending int32 = iota
	phaseSettled
	phaseCancelled
)

type outcome struct {
	token *oauth2.Token
	err   error
}

// Session is a single run of the implicit-grant capture flow. All methods
// are safe for concurrent use.
type Session struct {
	id       string
	opts     Options
	secret   string
	listener *loopback.Listener

	phase  atomic.Int32
	openMu sync.Mutex
	out    outcome
	done   chan struct{}

	mu      sync.Mutex
	chosen  *Registration
	authURL string
}

// Start begins a capture session and returns its handle immediately. The
// port bind, the browser hand-off and serving all happen in the background;
// observe the result through Wait or Done. Cancelling ctx cancels the
// session.
func Start(ctx context.Context, opts Options) *Session {
	s := newSession(opts)
	go s.run(ctx)
	return s
}

func newSession(opts Options) *Session {
	if opts.CallbackHost == "" {
		opts.CallbackHost = DefaultCallbackHost
	}
	if opts.Opener == nil {
		opts.Opener = OpenBrowser
	}

	s := &Session{
		id:   uuid.NewString(),
		opts: opts,
		done: make(chan struct{}),
	}
	s.listener = loopback.New(s.routes())
	return s
}

func (s *Session) run(ctx context.Context) {
	go s.watch(ctx)

	endpoint, err := s.prepare()
	if err != nil {
		s.finish(nil, err)
		return
	}

	idx, err := s.listener.Bind(ctx, s.opts.Registrations.Ports())
	if err != nil {
		s.failBind(err)
		return
	}

	reg, _ := s.opts.Registrations.At(idx)
	authURL := BuildAuthURL(endpoint, reg, s.opts.CallbackHost, s.opts.Scope, s.secret)

	s.mu.Lock()
	s.chosen = &reg
	s.authURL = authURL
	s.mu.Unlock()

	logging.Info(subsystem, "Session %s listening on %s as client %s", s.id, s.listener.Addr(), reg.ClientID)
	s.open(authURL)
}

// open hands the URL to the Opener unless the session has already ended.
// openMu makes abort wait for an Opener call that is in progress.
func (s *Session) open(authURL string) {
	s.openMu.Lock()
	defer s.openMu.Unlock()
	if s.phase.Load() != phasePending {
		return
	}
	if err := s.opts.Opener(authURL); err != nil {
		logging.Warn(subsystem, "Session %s could not open the authorization URL: %v", s.id, err)
	}
}

// prepare validates the options and generates the session secret.
func (s *Session) prepare() (string, error) {
	if err := s.opts.Registrations.Validate(); err != nil {
		return "", err
	}
	endpoint, err := AuthorizeEndpoint(s.opts.Provider)
	if err != nil {
		return "", err
	}
	secret, err := generateSecret()
	if err != nil {
		return "", err
	}
	s.secret = secret
	return endpoint, nil
}

func (s *Session) failBind(err error) {
	switch {
	case errors.Is(err, loopback.ErrClosed):
		// Closed by cancellation or timeout, which already settled.
		return
	case errors.Is(err, loopback.ErrNoCandidates):
		s.finish(nil, fmt.Errorf("%w: %w", ErrConfiguration, err))
	case errors.Is(err, loopback.ErrPortsExhausted):
		s.finish(nil, fmt.Errorf("%w: %w", ErrBindExhausted, err))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		s.abort(fmt.Errorf("%w: %w", ErrCancelled, err))
	default:
		s.finish(nil, fmt.Errorf("%w: %w", ErrListener, err))
	}
}

// watch ends the session on context cancellation, timeout or a listener
// failure, whichever comes first.
func (s *Session) watch(ctx context.Context) {
	var timeout <-chan time.Time
	if s.opts.Timeout > 0 {
		t := time.NewTimer(s.opts.Timeout)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case <-s.done:
	case <-ctx.Done():
		s.abort(fmt.Errorf("%w: %w", ErrCancelled, ctx.Err()))
	case <-timeout:
		s.abort(fmt.Errorf("%w after %s", ErrTimedOut, s.opts.Timeout))
	case err := <-s.listener.Errors():
		s.finish(nil, fmt.Errorf("%w: %w", ErrListener, err))
	}
}

// finish settles the session unless it is already settled. It reports
// whether this call won.
func (s *Session) finish(token *oauth2.Token, err error) bool {
	if !s.phase.CompareAndSwap(phasePending, phaseSettled) {
		return false
	}
	s.complete(token, err)
	return true
}

// abort is finish for cancellation and timeout: it also makes every route
// answer 503.
func (s *Session) abort(err error) bool {
	s.openMu.Lock()
	defer s.openMu.Unlock()
	if !s.phase.CompareAndSwap(phasePending, phaseCancelled) {
		return false
	}
	s.complete(nil, err)
	return true
}

// complete runs once per session. The listener is closed before the
// outcome becomes visible.
func (s *Session) complete(token *oauth2.Token, err error) {
	if cerr := s.listener.Close(); cerr != nil {
		logging.Warn(subsystem, "Session %s failed to close listener: %v", s.id, cerr)
	}
	s.out = outcome{token: token, err: err}
	close(s.done)

	if err != nil {
		logging.Info(subsystem, "Session %s ended: %v", s.id, err)
		return
	}
	logging.Info(subsystem, "Session %s received an access token", s.id)
}

// Cancel ends the session with ErrCancelled. It is safe to call at any time
// and from any goroutine; after the session has settled it does nothing.
// A Cancel that overlaps the Opener waits for it to return, so an Opener
// must not call Cancel itself.
func (s *Session) Cancel() {
	s.abort(ErrCancelled)
}

// Cancelled reports whether the session was cancelled or timed out.
func (s *Session) Cancelled() bool {
	return s.phase.Load() == phaseCancelled
}

// Done is closed once the session has settled.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the session settles and returns the access token. If
// ctx ends first Wait returns ctx.Err() and the session keeps running.
func (s *Session) Wait(ctx context.Context) (string, error) {
	select {
	case <-s.done:
		if s.out.err != nil {
			return "", s.out.err
		}
		return s.out.token.AccessToken, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Drained is closed once the callback server has finished writing its last
// responses after settlement, bounded by loopback.DrainTimeout.
func (s *Session) Drained() <-chan struct{} {
	return s.listener.Drained()
}

// Token returns the full token after a successful settlement, nil otherwise.
func (s *Session) Token() *oauth2.Token {
	select {
	case <-s.done:
		return s.out.token
	default:
		return nil
	}
}

// Registration returns the registration whose port was bound.
func (s *Session) Registration() (Registration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.chosen == nil {
		return Registration{}, false
	}
	return *s.chosen, true
}

// AuthURL returns the authorization URL once the listener is bound. It
// embeds the session secret and must not be logged.
func (s *Session) AuthURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authURL
}

// ID returns the random id used to correlate log lines for this session.
func (s *Session) ID() string {
	return s.id
}
