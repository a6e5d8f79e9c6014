// Package citizenos is a small client for the Citizen OS REST API used by
// the widget endpoints: the signed-in user's profile, groups and topics, and
// the partner's public topics.
package citizenos
