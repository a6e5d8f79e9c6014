package idtoken

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/tendant/citizenos-connect/pkg/errors"
)

// LoginTest decides whether a validated user claim may log in
type LoginTest func(userClaim Claim) bool

// ValidateTokenResponse ensures the response carries an identity token
func ValidateTokenResponse(tr TokenResponse) error {
	if tr.IDToken == "" {
		return errors.New(errors.ErrCodeInvalidTokenResponse, "Invalid token response")
	}
	return nil
}

// DecodeIDToken extracts the payload of the identity token without checking
// its signature.
func DecodeIDToken(tr TokenResponse) (Claim, error) {
	if tr.IDToken == "" {
		return nil, errors.New(errors.ErrCodeMissingToken, "No identity token")
	}

	parts := strings.Split(tr.IDToken, ".")
	if len(parts) < 2 {
		return nil, errors.New(errors.ErrCodeMalformedToken, "Missing identity token")
	}

	payload, err := decodeSegment(parts[1])
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeMalformedToken, "Missing identity token")
	}

	claim, err := DecodeClaim(payload)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeBadClaim, "Bad ID token claim")
	}
	if claim == nil {
		return nil, errors.New(errors.ErrCodeBadClaim, "Bad ID token claim")
	}
	return claim, nil
}

// ValidateIDTokenClaim ensures the claim carries a subject identity
func ValidateIDTokenClaim(claim Claim) error {
	if claim == nil {
		return errors.New(errors.ErrCodeBadClaim, "Bad ID token claim")
	}
	if claim.Subject() == "" {
		return errors.New(errors.ErrCodeNoSubjectIdentity, "No subject identity")
	}
	return nil
}

// ValidateUserClaim surfaces provider reported errors and lets the login test
// veto the login. A nil test allows every claim.
func ValidateUserClaim(userClaim, idTokenClaim Claim, test LoginTest) error {
	if userClaim == nil {
		return errors.New(errors.ErrCodeInvalidClaim, "Invalid user claim")
	}

	if userClaim.Has("error") {
		return errors.ProviderError(userClaim.String("error"), userClaim.String("error_description")).
			WithDetail("user_claim", map[string]interface{}(userClaim))
	}

	if test != nil && !test(userClaim) {
		return errors.New(errors.ErrCodeUnauthorized, "Unauthorized access")
	}
	return nil
}

// EncodeSegment renders a claim as a base64url JWT segment. It is the inverse
// of the payload decoding done by DecodeIDToken.
func EncodeSegment(claim Claim) (string, error) {
	data, err := json.Marshal(claim)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// decodeSegment accepts base64url with or without padding
func decodeSegment(segment string) ([]byte, error) {
	s := strings.NewReplacer("-", "+", "_", "/").Replace(segment)
	if m := len(s) % 4; m != 0 {
		s += strings.Repeat("=", 4-m)
	}
	return base64.StdEncoding.DecodeString(s)
}
