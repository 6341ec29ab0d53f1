// Package network owns the relay's single UDP socket. It drives the receive loop, hands each
// datagram to a bounded pool of workers, and selects the upstream resolver for forwarded queries.
package network
