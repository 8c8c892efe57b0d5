package core

import "errors"

var (
	ErrChainUnavailable   = errors.New("chain unavailable")
	ErrSDKLoadFailed      = errors.New("failed to load FHE SDK")
	ErrSDKInitFailed      = errors.New("failed to initialize FHE SDK")
	ErrValueOutOfRange    = errors.New("value out of range")
	ErrEncryptionFailed   = errors.New("encryption failed")
	ErrGrantDenied        = errors.New("decryption grant denied")
	ErrGrantScopeMismatch = errors.New("decryption grant does not cover contract")
	ErrDecryptionFailed   = errors.New("decryption failed")
	ErrStaleSession       = errors.New("chain changed while operation was in flight")
	ErrNotFound           = errors.New("not found")
)

var messages = []struct {
	err error
	msg string
}{
	{ErrChainUnavailable, "The connected chain could not be reached or identified."},
	{ErrSDKLoadFailed, "The encryption SDK could not be downloaded."},
	{ErrSDKInitFailed, "The encryption SDK could not be started."},
	{ErrValueOutOfRange, "The value does not fit the selected encrypted type."},
	{ErrEncryptionFailed, "The value could not be encrypted."},
	{ErrGrantDenied, "The decryption permission was not signed."},
	{ErrGrantScopeMismatch, "The decryption permission does not cover this contract."},
	{ErrDecryptionFailed, "The value could not be decrypted."},
	{ErrStaleSession, "The network changed, please retry."},
}

// Message returns the user facing text for an error kind.
func Message(err error) string {
	for _, m := range messages {
		if errors.Is(err, m.err) {
			return m.msg
		}
	}
	return "Unexpected error."
}
