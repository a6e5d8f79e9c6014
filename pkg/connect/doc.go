// Package connect drives the Citizen OS login handshake.
//
// A login moves through Start, AwaitingCallback, Validated, UserResolved and
// SessionEstablished. Any step may fail with a typed error from pkg/errors;
// the first failure stops the pipeline before anything is persisted, and
// ErrorRedirectURL turns it into a redirect to the login page.
//
// The Service also composes the end-session redirect used on logout.
package connect
