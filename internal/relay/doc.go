// Package relay implements the session core of the springsandpucks relay:
// the identity registry, room directory, message router, and idle lifecycle
// monitor. It depends on a transport only through the narrow Transport
// interface, so the whole package is testable without sockets.
package relay
