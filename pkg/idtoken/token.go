package idtoken

import (
	"net/url"
)

// TokenResponse is the implicit-flow payload returned by the provider in the
// redirect fragment and re-submitted to the callback as query parameters.
type TokenResponse struct {
	IDToken          string `json:"id_token,omitempty"`
	AccessToken      string `json:"access_token,omitempty"`
	TokenType        string `json:"token_type,omitempty"`
	ExpiresIn        string `json:"expires_in,omitempty"`
	State            string `json:"state,omitempty"`
	Error            string `json:"error,omitempty"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// FromValues builds a TokenResponse from callback query parameters
func FromValues(values url.Values) TokenResponse {
	return TokenResponse{
		IDToken:          values.Get("id_token"),
		AccessToken:      values.Get("access_token"),
		TokenType:        values.Get("token_type"),
		ExpiresIn:        values.Get("expires_in"),
		State:            values.Get("state"),
		Error:            values.Get("error"),
		ErrorDescription: values.Get("error_description"),
	}
}

// HasError reports whether the provider answered with an error
func (t TokenResponse) HasError() bool {
	return t.Error != ""
}
