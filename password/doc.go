// Package password hashes and verifies user passwords with Argon2id.
//
// Hashes use the PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Checker] verifies a stored credential that may still be a legacy
// plaintext value and reports when it should be rewritten as a hash.
package password
