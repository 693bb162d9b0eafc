// Package transport carries relay traffic over WebSockets: one Hub owns all
// connections and room groups, each connection runs a read pump and a write
// pump, and every frame is a JSON event envelope. The relay core drives it
// only through the relay.Transport and relay.Handler interfaces.
package transport
