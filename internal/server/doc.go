// Package server implements the core of the LAN relay: room membership
// tracking, message routing, and the HTTP surface around them.
//
// The implementation is organized into specialized files for configuration,
// the hub, the room registry and index, the message router, clients, and
// HTTP handlers to keep the codebase maintainable and testable as the
// project grows.
package server
