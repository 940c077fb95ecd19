// Package xecrypt implements the key derivation and sector ciphers used by
// the encrypted metadata regions of Xbox 360 flash images: the RC4-encrypted
// bootloaders (keyed per sector role off the CPU key and the fixed 1BL key)
// and the SMC region (a fixed rolling cipher, not key-derived).
//
// No key state is ambient: every operation takes its keys explicitly, and
// nothing in this package retains or logs key material.
package xecrypt

import (
	"crypto/hmac"
	"crypto/rc4"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
)

// oneBLKey is the public 1BL RC4 key burned into every console revision.
var oneBLKey = [16]byte{
	0xDD, 0x88, 0xAD, 0x0C, 0x9E, 0xD6, 0x69, 0xE7,
	0xB5, 0x67, 0x94, 0xFB, 0x68, 0x56, 0x3E, 0xFA,
}

// CPUKey is the per-console master secret. It is only ever used to derive
// working keys and must not outlive a conversion run.
type CPUKey [16]byte

var cpuKeyExp = regexp.MustCompile(`^[0-9a-fA-F]{32}$`)

// ParseCPUKey decodes a 32-character hex string.
func ParseCPUKey(s string) (CPUKey, error) {
	var k CPUKey
	if !cpuKeyExp.MatchString(s) {
		return k, errors.New("CPU key must be a 32 character hex string")
	}
	b, _ := hex.DecodeString(s)
	copy(k[:], b)
	return k, nil
}

// IsZero reports whether the key is the all-zero key, the documented
// convention for unencrypted manufacturing/reference images.
func (k CPUKey) IsZero() bool {
	return k == CPUKey{}
}

// String never exposes key material.
func (k CPUKey) String() string {
	return "cpukey(redacted)"
}

// WorkingKey is a derived per-sector key. The all-zero working key is a
// recognized value under which Crypt degrades to the identity transform.
type WorkingKey [16]byte

func (k WorkingKey) IsZero() bool {
	return k == WorkingKey{}
}

func (k WorkingKey) String() string {
	return "workingkey(redacted)"
}

// Role identifies which encrypted sector a working key is derived for. The
// set is closed; derivation parameters live in one table rather than being
// scattered across call sites.
type Role int

const (
	// RoleCBA: first-stage CB, keyed off the fixed 1BL key.
	RoleCBA Role = iota
	// RoleCBB: second-stage CB, keyed off the CB_A key with the CPU key
	// mixed into the nonce.
	RoleCBB
	// RoleKeyvault: the keyvault sector, keyed directly off the CPU key.
	RoleKeyvault
)

func (r Role) String() string {
	switch r {
	case RoleCBA:
		return "CB_A"
	case RoleCBB:
		return "CB_B"
	case RoleKeyvault:
		return "keyvault"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

type derivation struct {
	// base selects the HMAC key for this role.
	base func(cpu CPUKey, chain WorkingKey) []byte
	// mixCPU appends the CPU key to the nonce before hashing.
	mixCPU bool
}

var derivations = map[Role]derivation{
	RoleCBA:      {base: func(CPUKey, WorkingKey) []byte { return oneBLKey[:] }},
	RoleCBB:      {base: func(_ CPUKey, chain WorkingKey) []byte { return chain[:] }, mixCPU: true},
	RoleKeyvault: {base: func(cpu CPUKey, _ WorkingKey) []byte { return cpu[:] }},
}

// DeriveKey produces the working key for a sector role. cpu is the console
// master key, chain the working key of the previous stage (only consulted
// for RoleCBB), nonce the per-sector 16-byte seed stored alongside the
// ciphertext. Pure and deterministic.
func DeriveKey(role Role, cpu CPUKey, chain WorkingKey, nonce []byte) (WorkingKey, error) {
	d, ok := derivations[role]
	if !ok {
		return WorkingKey{}, fmt.Errorf("unknown sector role %v", role)
	}
	mac := hmac.New(sha1.New, d.base(cpu, chain))
	mac.Write(nonce)
	if d.mixCPU {
		mac.Write(cpu[:])
	}
	var wk WorkingKey
	copy(wk[:], mac.Sum(nil)[:16])
	return wk, nil
}

// Crypt applies the RC4 sector cipher. RC4 is symmetric, so this is both
// encrypt and decrypt. The zero working key is the identity transform.
func Crypt(key WorkingKey, data []byte) []byte {
	out := make([]byte, len(data))
	if key.IsZero() {
		copy(out, data)
		return out
	}
	c, err := rc4.NewCipher(key[:])
	if err != nil {
		// Only reachable with an invalid key length, which the type rules
		// out.
		panic(err)
	}
	c.XORKeyStream(out, data)
	return out
}
