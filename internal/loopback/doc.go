// Package loopback binds a short-lived HTTP server to the first free port of
// an ordered candidate list.
//
// Binding is restricted to 127.0.0.1 and is exclusive. Only an
// "address in use" failure advances to the next candidate; every other bind
// error is terminal. A Listener can be closed at any point, including while
// Bind is still working through the candidates, in which case Bind reports
// ErrClosed and no port stays bound.
//
//	ln := loopback.New(mux)
//	idx, err := ln.Bind(ctx, []int{55189, 60434})
//	if err != nil {
//	    return err
//	}
//	defer ln.Close()
package loopback
