// Package user holds the local mirror of Citizen OS accounts and the stores
// that persist it.
package user
