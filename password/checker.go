package password

import "crypto/subtle"

// Outcome is the result of checking a password against a stored credential.
type Outcome struct {
	Match bool
	// Rehash is set when the stored value should be replaced with a fresh
	// hash: a legacy plaintext value or an Argon2 hash with weaker parameters.
	Rehash bool
}

// Checker verifies stored credentials, optionally tolerating legacy
// plaintext values left over from before hashing was introduced.
type Checker struct {
	hasher      *Argon2
	allowLegacy bool
}

// NewChecker returns a Checker over hasher.
func NewChecker(hasher *Argon2, allowLegacy bool) *Checker {
	return &Checker{hasher: hasher, allowLegacy: allowLegacy}
}

// Hasher returns the underlying hasher.
func (c *Checker) Hasher() *Argon2 {
	return c.hasher
}

// Check compares password with stored. A stored value that is neither a PHC
// string nor an accepted legacy value never matches.
func (c *Checker) Check(password, stored string) (Outcome, error) {
	if stored == "" || password == "" {
		return Outcome{}, nil
	}

	if !IsEncoded(stored) {
		if !c.allowLegacy {
			return Outcome{}, nil
		}
		match := subtle.ConstantTimeCompare([]byte(password), []byte(stored)) == 1
		return Outcome{Match: match, Rehash: match}, nil
	}

	ok, err := c.hasher.Verify(password, stored)
	if err != nil || !ok {
		return Outcome{}, err
	}
	upgrade, err := c.hasher.NeedsUpgrade(stored)
	if err != nil {
		return Outcome{Match: true}, nil
	}
	return Outcome{Match: true, Rehash: upgrade}, nil
}
