package trd

import "io"

// Encryptor seals artifacts before they leave through the outbound channel.
// Sealing needs only the public key; reading a sealed artifact back needs the
// passphrase-protected private key.
type Encryptor interface {
	// Setup generates the key pair. Called by `trd keys init`.
	Setup(passphrase string) error

	// Encrypt writes the sealed form of r to w.
	Encrypt(r io.Reader, w io.Writer) error

	// Unlock opens the private key for the duration of an outbox session.
	Unlock(passphrase string) (DecryptionContext, error)

	// IsConfigured returns true if both key files exist.
	IsConfigured() bool
}

// DecryptionContext holds an unlocked private key in memory only.
type DecryptionContext interface {
	Decrypt(r io.Reader, w io.Writer) error
}
