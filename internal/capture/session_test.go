package capture

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

const testProvider = "https://id.example.com"

// testClient never reuses connections so every request observes the current
// listener state.
var testClient = &http.Client{
	Transport: &http.Transport{DisableKeepAlives: true},
	Timeout:   5 * time.Second,
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func occupiedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	return ln.Addr().(*net.TCPAddr).Port
}

// recordingOpener captures authorization URLs instead of opening a browser.
type recordingOpener struct {
	mu   sync.Mutex
	urls []string
	ch   chan string
}

func newRecordingOpener() *recordingOpener {
	return &recordingOpener{ch: make(chan string, 4)}
}

func (o *recordingOpener) Open(u string) error {
	o.mu.Lock()
	o.urls = append(o.urls, u)
	o.mu.Unlock()
	o.ch <- u
	return nil
}

func (o *recordingOpener) Calls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.urls)
}

func (o *recordingOpener) next(t *testing.T) *url.URL {
	t.Helper()
	select {
	case raw := <-o.ch:
		u, err := url.Parse(raw)
		require.NoError(t, err)
		return u
	case <-time.After(5 * time.Second):
		t.Fatal("authorization URL was never opened")
		return nil
	}
}

func testOptions(opener *recordingOpener, regs ...Registration) Options {
	return Options{
		Provider:      testProvider,
		Scope:         "read",
		Registrations: regs,
		Opener:        opener.Open,
	}
}

// postCallback plays the bridging page: it posts the fragment to the target
// carried in state.
func postCallback(t *testing.T, target, fragment string) *http.Response {
	t.Helper()
	resp, err := testClient.PostForm(target, url.Values{"params": {fragment}})
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func body(t *testing.T, resp *http.Response) string {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func waitResult(t *testing.T, s *Session) (string, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	token, err := s.Wait(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded, "session never settled")
	return token, err
}

func TestSession_Success(t *testing.T) {
	opener := newRecordingOpener()
	port := freePort(t)
	s := Start(context.Background(), testOptions(opener, Registration{ClientID: "client-a", Port: port}))
	defer s.Cancel()

	authURL := opener.next(t)
	state := authURL.Query().Get("state")
	assert.Equal(t, s.AuthURL(), authURL.String())

	resp, err := testClient.Get(authURL.Query().Get("redirect_uri"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/html; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.Contains(t, body(t, resp), "window.location.hash")

	fragment := "access_token=T&token_type=bearer&expires_in=3600&scope=read&state=" + url.QueryEscape(state)
	cb := postCallback(t, state, fragment)
	assert.Equal(t, http.StatusOK, cb.StatusCode)
	assert.Contains(t, body(t, cb), msgSuccess)

	token, err := waitResult(t, s)
	require.NoError(t, err)
	assert.Equal(t, "T", token)

	full := s.Token()
	require.NotNil(t, full)
	assert.Equal(t, "bearer", full.TokenType)
	assert.Equal(t, int64(3600), full.ExpiresIn)
	assert.Equal(t, "read", full.Extra("scope"))
	assert.False(t, s.Cancelled())

	// The listener is gone.
	_, err = testClient.Get(authURL.Query().Get("redirect_uri"))
	assert.Error(t, err)
}

func TestSession_SecondCallbackHasNoEffect(t *testing.T) {
	opener := newRecordingOpener()
	s := Start(context.Background(), testOptions(opener, Registration{ClientID: "client-a", Port: freePort(t)}))

	state := opener.next(t).Query().Get("state")
	postCallback(t, state, "access_token=first")

	token, err := waitResult(t, s)
	require.NoError(t, err)
	require.Equal(t, "first", token)

	// Replay directly against the routes since the socket is closed.
	req := httptest.NewRequest(http.MethodPost, state, strings.NewReader(url.Values{"params": {"access_token=second"}}.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), msgAlreadyHandled)

	token, err = waitResult(t, s)
	require.NoError(t, err)
	assert.Equal(t, "first", token)
}

func TestSession_CallbackValidation(t *testing.T) {
	tests := []struct {
		name     string
		secret   func(actual string) string
		fragment string
		check    func(t *testing.T, err error)
		wantCode int
	}{
		{
			name:     "wrong secret with a well-formed token",
			secret:   func(string) string { return "not-the-secret" },
			fragment: "access_token=T&token_type=bearer",
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrSecretMismatch)
			},
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "missing secret",
			secret:   func(string) string { return "" },
			fragment: "access_token=T",
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrSecretMismatch)
			},
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "wrong secret wins over provider error",
			secret:   func(actual string) string { return actual + "x" },
			fragment: "error=access_denied&error_description=User+denied",
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrSecretMismatch)
				var providerErr *ProviderError
				assert.False(t, errors.As(err, &providerErr))
			},
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "provider error",
			secret:   func(actual string) string { return actual },
			fragment: "error=access_denied&error_description=User+denied",
			check: func(t *testing.T, err error) {
				var providerErr *ProviderError
				require.True(t, errors.As(err, &providerErr), "got %v", err)
				assert.Equal(t, "access_denied", providerErr.Code)
				assert.Equal(t, "User denied", providerErr.Description)
			},
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "provider error wins over token",
			secret:   func(actual string) string { return actual },
			fragment: "access_token=T&error=server_error",
			check: func(t *testing.T, err error) {
				var providerErr *ProviderError
				require.True(t, errors.As(err, &providerErr), "got %v", err)
				assert.Equal(t, "server_error", providerErr.Code)
			},
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "missing token",
			secret:   func(actual string) string { return actual },
			fragment: "token_type=bearer",
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrMissingToken)
			},
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "malformed fragment",
			secret:   func(actual string) string { return actual },
			fragment: "access_token=%zz",
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrMissingToken)
			},
			wantCode: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opener := newRecordingOpener()
			s := Start(context.Background(), testOptions(opener, Registration{ClientID: "client-a", Port: freePort(t)}))
			defer s.Cancel()

			authURL := opener.next(t)
			state, err := url.Parse(authURL.Query().Get("state"))
			require.NoError(t, err)
			actual := state.Query().Get("secret")
			require.NotEmpty(t, actual)

			target := *state
			target.RawQuery = url.Values{"secret": {tt.secret(actual)}}.Encode()

			resp := postCallback(t, target.String(), tt.fragment)
			assert.Equal(t, tt.wantCode, resp.StatusCode)
			assert.Contains(t, body(t, resp), msgFailed)

			token, err := waitResult(t, s)
			assert.Empty(t, token)
			require.Error(t, err)
			tt.check(t, err)
			assert.Nil(t, s.Token())
		})
	}
}

func TestSession_FallsBackToNextRegistration(t *testing.T) {
	busy := occupiedPort(t)
	free := freePort(t)
	opener := newRecordingOpener()

	s := Start(context.Background(), testOptions(opener,
		Registration{ClientID: "client-first", Port: busy},
		Registration{ClientID: "client-second", Port: free},
	))
	defer s.Cancel()

	authURL := opener.next(t)
	q := authURL.Query()
	assert.Equal(t, "client-second", q.Get("client_id"))
	assert.NotContains(t, authURL.String(), "client-first")
	assert.Equal(t, Registration{ClientID: "client-second", Port: free}.RedirectURI("localhost"), q.Get("redirect_uri"))

	reg, ok := s.Registration()
	require.True(t, ok)
	assert.Equal(t, free, reg.Port)
}

func TestSession_AllPortsBusy(t *testing.T) {
	opener := newRecordingOpener()
	s := Start(context.Background(), testOptions(opener,
		Registration{ClientID: "a", Port: occupiedPort(t)},
		Registration{ClientID: "b", Port: occupiedPort(t)},
	))

	_, err := waitResult(t, s)
	require.ErrorIs(t, err, ErrBindExhausted)
	assert.Equal(t, 0, opener.Calls())
	assert.Empty(t, s.AuthURL())
	_, ok := s.Registration()
	assert.False(t, ok)
}

func TestSession_ConfigurationErrors(t *testing.T) {
	t.Run("no registrations", func(t *testing.T) {
		opener := newRecordingOpener()
		s := Start(context.Background(), testOptions(opener))

		_, err := waitResult(t, s)
		require.ErrorIs(t, err, ErrConfiguration)
		assert.NotErrorIs(t, err, ErrBindExhausted)
		assert.Equal(t, 0, opener.Calls())
	})

	t.Run("no provider", func(t *testing.T) {
		opener := newRecordingOpener()
		opts := testOptions(opener, Registration{ClientID: "a", Port: freePort(t)})
		opts.Provider = ""
		s := Start(context.Background(), opts)

		_, err := waitResult(t, s)
		require.ErrorIs(t, err, ErrConfiguration)
		assert.Equal(t, 0, opener.Calls())
	})
}

func TestSession_CancelBeforeBind(t *testing.T) {
	port := freePort(t)
	opener := newRecordingOpener()
	s := newSession(testOptions(opener, Registration{ClientID: "a", Port: port}))

	s.Cancel()
	s.run(context.Background())

	_, err := waitResult(t, s)
	require.ErrorIs(t, err, ErrCancelled)
	assert.True(t, s.Cancelled())
	assert.Equal(t, 0, opener.Calls())
	assert.Empty(t, s.AuthURL())

	// The port was never held.
	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)
	_ = ln.Close()
}

func TestSession_CancelWhileWaiting(t *testing.T) {
	opener := newRecordingOpener()
	s := Start(context.Background(), testOptions(opener, Registration{ClientID: "a", Port: freePort(t)}))

	authURL := opener.next(t)
	s.Cancel()
	s.Cancel()

	_, err := waitResult(t, s)
	require.ErrorIs(t, err, ErrCancelled)
	assert.True(t, s.Cancelled())

	// Socket is released, and the routes refuse work if a request slips in.
	_, err = testClient.Get(authURL.Query().Get("redirect_uri"))
	assert.Error(t, err)

	for _, method := range []string{http.MethodGet, http.MethodPost} {
		rec := httptest.NewRecorder()
		s.routes().ServeHTTP(rec, httptest.NewRequest(method, "/", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, method)
		assert.Contains(t, rec.Body.String(), msgCancelled)
	}
}

func TestSession_DrainedAfterSettlement(t *testing.T) {
	t.Run("after a callback", func(t *testing.T) {
		opener := newRecordingOpener()
		s := Start(context.Background(), testOptions(opener, Registration{ClientID: "a", Port: freePort(t)}))
		state := opener.next(t).Query().Get("state")

		resp := postCallback(t, state, "access_token=tok")
		resp.Body.Close()
		_, err := waitResult(t, s)
		require.NoError(t, err)

		select {
		case <-s.Drained():
		case <-time.After(10 * time.Second):
			t.Fatal("server did not drain")
		}
	})

	t.Run("when no port was bound", func(t *testing.T) {
		s := Start(context.Background(), testOptions(newRecordingOpener(), Registration{ClientID: "a", Port: occupiedPort(t)}))
		_, err := waitResult(t, s)
		require.ErrorIs(t, err, ErrBindExhausted)

		select {
		case <-s.Drained():
		case <-time.After(time.Second):
			t.Fatal("unbound session should report drained immediately")
		}
	})
}

func TestSession_CancelWaitsForOpener(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	opts := testOptions(newRecordingOpener(), Registration{ClientID: "a", Port: freePort(t)})
	opts.Opener = func(string) error {
		close(entered)
		<-release
		return nil
	}
	s := Start(context.Background(), opts)

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("opener was never called")
	}

	cancelled := make(chan struct{})
	go func() {
		s.Cancel()
		close(cancelled)
	}()

	select {
	case <-cancelled:
		t.Fatal("Cancel returned while the opener was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-cancelled:
	case <-time.After(5 * time.Second):
		t.Fatal("Cancel did not return after the opener finished")
	}

	_, err := waitResult(t, s)
	require.ErrorIs(t, err, ErrCancelled)
}

func TestSession_CancelledSessionNeverOpens(t *testing.T) {
	for i := 0; i < 20; i++ {
		opener := newRecordingOpener()
		s := Start(context.Background(), testOptions(opener, Registration{ClientID: "a", Port: freePort(t)}))
		s.Cancel()

		_, err := waitResult(t, s)
		require.ErrorIs(t, err, ErrCancelled)

		// Whatever the interleaving, an open never follows a completed Cancel.
		calls := opener.Calls()
		time.Sleep(5 * time.Millisecond)
		assert.Equal(t, calls, opener.Calls())
	}
}

func TestSession_CancelAfterSuccessIsNoop(t *testing.T) {
	opener := newRecordingOpener()
	s := Start(context.Background(), testOptions(opener, Registration{ClientID: "a", Port: freePort(t)}))

	state := opener.next(t).Query().Get("state")
	postCallback(t, state, "access_token=keep-me")
	_, err := waitResult(t, s)
	require.NoError(t, err)

	s.Cancel()

	token, err := waitResult(t, s)
	require.NoError(t, err)
	assert.Equal(t, "keep-me", token)
	assert.False(t, s.Cancelled())
}

func TestSession_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	opener := newRecordingOpener()
	s := Start(ctx, testOptions(opener, Registration{ClientID: "a", Port: freePort(t)}))

	opener.next(t)
	cancel()

	_, err := waitResult(t, s)
	require.ErrorIs(t, err, ErrCancelled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, s.Cancelled())
}

func TestSession_Timeout(t *testing.T) {
	opener := newRecordingOpener()
	opts := testOptions(opener, Registration{ClientID: "a", Port: freePort(t)})
	opts.Timeout = 100 * time.Millisecond
	s := Start(context.Background(), opts)

	_, err := waitResult(t, s)
	require.ErrorIs(t, err, ErrTimedOut)
	assert.True(t, IsAborted(err))
	assert.True(t, s.Cancelled())
}

func TestSession_Verifier(t *testing.T) {
	t.Run("rejects inactive account", func(t *testing.T) {
		opener := newRecordingOpener()
		opts := testOptions(opener, Registration{ClientID: "a", Port: freePort(t)})
		opts.Verifier = func(ctx context.Context, token *oauth2.Token) error {
			return errors.New("account suspended")
		}
		s := Start(context.Background(), opts)

		resp := postCallback(t, opener.next(t).Query().Get("state"), "access_token=T")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

		_, err := waitResult(t, s)
		require.ErrorIs(t, err, ErrVerification)
		assert.Contains(t, err.Error(), "account suspended")
	})

	t.Run("accepts active account", func(t *testing.T) {
		opener := newRecordingOpener()
		opts := testOptions(opener, Registration{ClientID: "a", Port: freePort(t)})
		var seen string
		opts.Verifier = func(ctx context.Context, token *oauth2.Token) error {
			seen = token.AccessToken
			return nil
		}
		s := Start(context.Background(), opts)

		postCallback(t, opener.next(t).Query().Get("state"), "access_token=T")

		token, err := waitResult(t, s)
		require.NoError(t, err)
		assert.Equal(t, "T", token)
		assert.Equal(t, "T", seen)
	})
}

func TestSession_CancelRacesCallback(t *testing.T) {
	for i := 0; i < 10; i++ {
		opener := newRecordingOpener()
		s := Start(context.Background(), testOptions(opener, Registration{ClientID: "a", Port: freePort(t)}))
		state := opener.next(t).Query().Get("state")

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.Cancel()
		}()
		go func() {
			defer wg.Done()
			resp, err := testClient.PostForm(state, url.Values{"params": {"access_token=T"}})
			if err == nil {
				resp.Body.Close()
			}
		}()
		wg.Wait()

		token, err := waitResult(t, s)
		if err != nil {
			require.ErrorIs(t, err, ErrCancelled)
			assert.True(t, s.Cancelled())
			continue
		}
		assert.Equal(t, "T", token)
		assert.False(t, s.Cancelled())
	}
}

func TestSession_WaitContextDoesNotSettle(t *testing.T) {
	opener := newRecordingOpener()
	s := Start(context.Background(), testOptions(opener, Registration{ClientID: "a", Port: freePort(t)}))
	defer s.Cancel()
	opener.next(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := s.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	select {
	case <-s.Done():
		t.Fatal("session settled when only the wait context ended")
	default:
	}
	assert.NotEmpty(t, s.ID())
}

func TestRoutes_UnknownPathAndMethod(t *testing.T) {
	s := newSession(testOptions(newRecordingOpener(), Registration{ClientID: "a", Port: 1}))

	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/favicon.ico", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	s.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	s.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Security-Policy"), "form-action 'self'")
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}

func TestTokenFromParams(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	params, err := url.ParseQuery("access_token=abc&token_type=Bearer&expires_in=60&scope=read&state=http%3A%2F%2Flocalhost%2F%3Fsecret%3Dx")
	require.NoError(t, err)

	token := tokenFromParams(params, now)
	assert.Equal(t, "abc", token.AccessToken)
	assert.Equal(t, "Bearer", token.TokenType)
	assert.Equal(t, now.Add(time.Minute), token.Expiry)
	assert.Equal(t, "read", token.Extra("scope"))

	t.Run("ignores bad expires_in", func(t *testing.T) {
		token := tokenFromParams(url.Values{"access_token": {"a"}, "expires_in": {"soon"}}, now)
		assert.True(t, token.Expiry.IsZero())
		assert.Zero(t, token.ExpiresIn)
	})
}
