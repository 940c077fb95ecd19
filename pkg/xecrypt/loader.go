package xecrypt

import (
	"bytes"
	"errors"
	"fmt"
)

// Bootloader wire layout: a 0x10 byte plain header, a 16-byte field at 0x10
// holding the key seed (nonce) in encrypted form and the working key in
// decrypted form, then the RC4-encrypted body.
const (
	loaderSeedOff = 0x10
	loaderBodyOff = 0x20
)

// ErrIntegrityMismatch means a decrypted sector failed its embedded
// integrity check: the supplied CPU key does not match the image, or the
// sector is corrupt. The run must abort rather than emit a half-converted
// image.
var ErrIntegrityMismatch = errors.New("integrity mismatch (wrong CPU key or corrupt sector)")

// LoaderSeed extracts the 16-byte key seed of an encrypted loader.
func LoaderSeed(raw []byte) ([]byte, error) {
	if len(raw) < loaderBodyOff {
		return nil, fmt.Errorf("loader too short (0x%x bytes)", len(raw))
	}
	return raw[loaderSeedOff:loaderBodyOff], nil
}

// DecryptLoader decrypts a loader with an already-derived working key. The
// seed field is replaced by the working key, matching the in-memory form the
// boot ROM leaves behind.
func DecryptLoader(raw []byte, key WorkingKey) ([]byte, error) {
	if len(raw) < loaderBodyOff {
		return nil, fmt.Errorf("loader too short (0x%x bytes)", len(raw))
	}
	out := make([]byte, len(raw))
	copy(out, raw[:loaderSeedOff])
	copy(out[loaderSeedOff:], key[:])
	copy(out[loaderBodyOff:], Crypt(key, raw[loaderBodyOff:]))
	return out, nil
}

// EncryptLoader is the inverse of DecryptLoader: the caller supplies the
// seed to store and the working key derived from it.
func EncryptLoader(plain []byte, key WorkingKey, seed [16]byte) ([]byte, error) {
	if len(plain) < loaderBodyOff {
		return nil, fmt.Errorf("loader too short (0x%x bytes)", len(plain))
	}
	out := make([]byte, len(plain))
	copy(out, plain[:loaderSeedOff])
	copy(out[loaderSeedOff:], seed[:])
	copy(out[loaderBodyOff:], Crypt(key, plain[loaderBodyOff:]))
	return out, nil
}

// DecryptCBA decrypts a first-stage CB and returns its working key, which
// chains into the CB_B derivation.
func DecryptCBA(raw []byte) ([]byte, WorkingKey, error) {
	seed, err := LoaderSeed(raw)
	if err != nil {
		return nil, WorkingKey{}, err
	}
	key, err := DeriveKey(RoleCBA, CPUKey{}, WorkingKey{}, seed)
	if err != nil {
		return nil, WorkingKey{}, err
	}
	plain, err := DecryptLoader(raw, key)
	return plain, key, err
}

// DecryptCBB decrypts a second-stage CB using the CB_A working key and the
// console CPU key.
func DecryptCBB(raw []byte, cbaKey WorkingKey, cpu CPUKey) ([]byte, error) {
	seed, err := LoaderSeed(raw)
	if err != nil {
		return nil, err
	}
	key, err := DeriveKey(RoleCBB, cpu, cbaKey, seed)
	if err != nil {
		return nil, err
	}
	return DecryptLoader(raw, key)
}

const cbbMagicOff = 0x392

var (
	cbbMagic = []byte("XBOX_ROM")
	cbbZero  = make([]byte, len(cbbMagic))
)

// VerifyCBB checks the plaintext marker a correctly decrypted CB_B carries.
// Development images carry zeros instead of the marker; both are accepted.
// Anything else means the wrong CPU key was used.
func VerifyCBB(plain []byte) error {
	if len(plain) < cbbMagicOff+len(cbbMagic) {
		return fmt.Errorf("%w: CB_B too short to carry marker", ErrIntegrityMismatch)
	}
	got := plain[cbbMagicOff : cbbMagicOff+len(cbbMagic)]
	if bytes.Equal(got, cbbMagic) || bytes.Equal(got, cbbZero) {
		return nil
	}
	return ErrIntegrityMismatch
}
