// Package password verifies principal passwords and produces new hashes.
//
// Stored hashes are accepted in two formats:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//	$2a$<cost>$<salt+hash>   (also $2b$ and $2y$)
//
// New hashes are always Argon2id. [Verifier.NeedsUpgrade] flags bcrypt hashes and
// Argon2id hashes made with weaker parameters so callers can re-hash after a
// successful login.
//
// This package never stores passwords and never logs plaintext or hash material.
package password
