// Package password hashes and verifies account passwords.
//
// New hashes use Argon2id in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<key>
//
// Accounts carried over from the earlier system hold bcrypt hashes. [Multi]
// verifies either kind and always hashes with the primary scheme, and
// [Multi.NeedsRehash] tells the caller when a stored hash should be replaced
// after a successful login.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords.
//   - Log plaintext or hash parameters.
package password
