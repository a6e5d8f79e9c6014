package resolver

import (
	"regexp"

	"github.com/tendant/citizenos-connect/pkg/errors"
	"github.com/tendant/citizenos-connect/pkg/idtoken"
)

var placeholder = regexp.MustCompile(`\{[^}]*\}`)

// Format renders a template such as "{given_name} {family_name}" from the
// claim. A placeholder whose key is absent renders empty, or fails with
// incomplete-user-claim when errorOnMissingKey is set.
func Format(template string, claim idtoken.Claim, errorOnMissingKey bool) (string, error) {
	var out []byte
	last := 0
	for _, loc := range placeholder.FindAllStringIndex(template, -1) {
		out = append(out, template[last:loc[0]]...)
		key := template[loc[0]+1 : loc[1]-1]
		if claim.Has(key) {
			out = append(out, claim.String(key)...)
		} else if errorOnMissingKey {
			return "", errors.New(errors.ErrCodeIncompleteClaim, "User claim incomplete").
				WithDetail("key", key)
		}
		last = loc[1]
	}
	out = append(out, template[last:]...)
	return string(out), nil
}
