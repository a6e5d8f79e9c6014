// Package client resolves the visitor behind a request from the signed
// auth cookie and exposes it to handlers.
package client
