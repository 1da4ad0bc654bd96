// Package session manages active stream sessions between transports and the
// workflow dispatcher, including buffered event delivery and stale cleanup.
package session
