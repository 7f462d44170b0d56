// Package server accepts TLS connections and drives each one through the
// measured session pipeline.
//
// A [Listener] owns the listening socket and the shared *tls.Config. Every
// accepted connection becomes a [Session], handed to a [Dispatcher]. The default
// dispatcher starts one unsupervised goroutine per connection with no upper
// bound, so a flood of slow peers can exhaust memory or file descriptors;
// [Bounded] and [Paced] exist for deployments that need admission control.
//
// A session walks Created, Handshaking, Serving, Closing and Closed exactly once.
// Handshake, read and write durations go to a [Recorder]; failures stay local to
// the session that hit them.
package server
