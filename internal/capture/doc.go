// Package capture runs a local OAuth2 implicit-grant capture session.
//
// The identity provider delivers the access token in the fragment of a
// redirect to a loopback address. Fragments never reach a server, so the
// session serves a small bridging page at the redirect URI whose script posts
// the fragment back to the session. The POST target travels to the provider
// and back inside the state parameter, together with a per-session secret.
//
// # Flow
//
//  1. Start generates the secret and binds the first free port out of the
//     registration table (see package loopback).
//  2. The authorization URL for the matching client id is handed to the
//     Opener, normally the user's browser.
//  3. GET / serves the bridging page; POST /?secret=... carries the fragment
//     in the form field "params".
//  4. The callback is checked in order: secret, provider error, token. The
//     first terminal event closes the listener and settles the session.
//
// # Settlement
//
// A session settles exactly once. The first of a valid callback, an invalid
// callback, Cancel, the timeout, context cancellation or a listener failure
// wins; everything after that is ignored. Requests arriving after settlement
// get 503 if the session was cancelled and 400 otherwise.
//
// # Usage
//
//	session := capture.Start(ctx, capture.Options{
//	    Provider:      "id.example.com",
//	    Scope:         "read",
//	    Registrations: regs,
//	    Timeout:       5 * time.Minute,
//	})
//	token, err := session.Wait(ctx)
//	switch {
//	case errors.Is(err, capture.ErrBindExhausted):
//	    // every registered port is taken
//	case capture.IsAborted(err):
//	    // cancelled or timed out
//	}
package capture
