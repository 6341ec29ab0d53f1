// Package protocol concerns itself primarily with DNS protocol-specific business logic. It contains
// the relay engine, which classifies each datagram as a client query or an upstream response,
// translates transaction IDs between the two, and rewrites responses before they reach the client.
package protocol
