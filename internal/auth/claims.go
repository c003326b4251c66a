package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the decoded token body. Registered claims are validated by the
// jwt parser; Validate adds the fields this service insists on.
//
// permissions is kept raw while parsing: a wrongly typed value must fail
// claim validation, not decoding, which the parser reports as malformed.
type Claims struct {
	Permissions    []string        `json:"-"`
	RawPermissions json.RawMessage `json:"permissions,omitempty"`
	jwt.RegisteredClaims
}

var (
	errMissingSubject     = errors.New("token has no subject")
	errMissingPermissions = errors.New("token has no permissions claim")
	errBadPermissions     = errors.New("permissions claim must be an array of strings")
)

// Validate is called by the jwt parser after the signature and standard
// checks. It fills Permissions.
func (c *Claims) Validate() error {
	if c.Subject == "" {
		return errMissingSubject
	}
	if len(c.RawPermissions) == 0 || string(c.RawPermissions) == "null" {
		return errMissingPermissions
	}
	var perms []string
	if err := json.Unmarshal(c.RawPermissions, &perms); err != nil {
		return fmt.Errorf("%w: %v", errBadPermissions, err)
	}
	c.Permissions = perms
	return nil
}

// HasPermission reports whether perm was granted.
func (c *Claims) HasPermission(perm string) bool {
	return c != nil && slices.Contains(c.Permissions, perm)
}
