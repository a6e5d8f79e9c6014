package idtoken

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Claim is a decoded set of profile attributes, either from the identity
// token or from the user-info endpoint.
type Claim map[string]interface{}

// DecodeClaim parses a JSON object into a Claim. Numbers are kept as
// json.Number so large numeric ids keep every digit.
func DecodeClaim(data []byte) (Claim, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var claim Claim
	if err := dec.Decode(&claim); err != nil {
		return nil, err
	}
	return claim, nil
}

// Has reports whether key is present with a non-nil value
func (c Claim) Has(key string) bool {
	v, ok := c[key]
	return ok && v != nil
}

// String returns the value of key rendered as a string. Numbers are rendered
// without exponent so numeric ids survive.
func (c Claim) String(key string) string {
	v, ok := c[key]
	if !ok || v == nil {
		return ""
	}
	switch val := v.(type) {
	case string:
		return val
	case json.Number:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// Subject returns the subject identity (`sub`)
func (c Claim) Subject() string {
	return c.String("sub")
}

// Issuer returns the issuer (`iss`)
func (c Claim) Issuer() string {
	return c.String("iss")
}
