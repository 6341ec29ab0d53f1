// Package dns models name-resolution protocol messages as immutable values and converts them to
// and from their wire representation. Every mutation derives a modified copy; no method edits its
// receiver, so a Message may be shared across goroutines without locking.
package dns
