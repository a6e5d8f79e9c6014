// Package errors provides the typed error values used across the Citizen OS
// login flow and API client.
//
// Every failure in the login pipeline is an *Error carrying a Code, a human
// readable Message and, optionally, the wrapped cause. The code is what the
// login page receives as `login-error`:
//
//	err := errors.New(errors.ErrCodeNoSubjectIdentity, "No subject identity")
//	if errors.IsCode(err, errors.ErrCodeNoSubjectIdentity) { ... }
//
// Errors reported by the identity provider itself are built with
// ProviderError and carry the provider's code as a suffix of
// "invalid-user-claim-".
package errors
