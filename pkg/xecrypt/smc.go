package xecrypt

// The SMC region is obfuscated with a fixed rolling cipher rather than a
// derived key: a 4-byte key schedule advanced by the ciphertext byte stream.
// Both directions advance the schedule from the ciphertext, which is what
// makes the pair inverse.

var smcSeed = [4]byte{0x42, 0x75, 0x4E, 0x79}

// DecryptSMC decrypts an SMC region.
func DecryptSMC(data []byte) []byte {
	key := smcSeed
	out := make([]byte, len(data))
	for i, c := range data {
		out[i] = c ^ key[i&3]
		mod := int(c) * 0xFB
		key[(i+1)&3] += byte(mod)
		key[(i+2)&3] += byte(mod >> 8)
	}
	return out
}

// EncryptSMC encrypts an SMC region.
func EncryptSMC(plain []byte) []byte {
	key := smcSeed
	out := make([]byte, len(plain))
	for i, p := range plain {
		c := p ^ key[i&3]
		out[i] = c
		mod := int(c) * 0xFB
		key[(i+1)&3] += byte(mod)
		key[(i+2)&3] += byte(mod >> 8)
	}
	return out
}
