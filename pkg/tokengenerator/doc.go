// Package tokengenerator signs the auth cookie and manages the cookies the
// login flow relies on.
package tokengenerator
