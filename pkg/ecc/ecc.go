// Package ecc implements the per-page error correction code used by the
// Xbox 360 NAND controller. The code is a 26-bit LFSR parity computed over
// the first 0x1066 bits of the 528-byte page (512 data bytes plus the
// metadata portion of the spare area) and stored, shifted left by 6, in the
// last four spare bytes.
//
// The code is affine over GF(2), which makes single-bit faults locatable: a
// precomputed syndrome table maps the XOR of stored and recomputed code back
// to the flipped bit position.
package ecc

import (
	"encoding/binary"
	"fmt"
	"math/bits"
	"sync"
)

const (
	// PageBytes is the full page stride the codec operates on.
	PageBytes = 528
	// codeOffset is where the stored code lives within the page.
	codeOffset = PageBytes - 4
	// coveredBits is how many leading bits of the page the code covers.
	coveredBits = 0x1066
	// poly is the LFSR feedback polynomial.
	poly = 0x6954559
)

// Compute returns the code word for a page, in stored (shifted) form. The
// four bytes at codeOffset are treated as zero regardless of their content,
// so Compute is safe to call on pages that already carry a code.
func Compute(page []byte) uint32 {
	if len(page) != PageBytes {
		panic(fmt.Sprintf("ecc: page must be %d bytes, got %d", PageBytes, len(page)))
	}
	var val, v uint32
	for i := 0; i < coveredBits; i++ {
		if i&31 == 0 {
			off := i / 8
			if off == codeOffset {
				v = ^uint32(0)
			} else {
				v = ^binary.LittleEndian.Uint32(page[off:])
			}
		}
		val ^= v & 1
		v >>= 1
		if val&1 != 0 {
			val ^= poly
		}
		val >>= 1
	}
	return (^val) << 6
}

// Encode recomputes the code and writes it into the page in place.
func Encode(page []byte) {
	binary.LittleEndian.PutUint32(page[codeOffset:], Compute(page))
}

// Stored reads the code currently embedded in the page.
func Stored(page []byte) uint32 {
	return binary.LittleEndian.Uint32(page[codeOffset:])
}

// Status classifies the outcome of validating a page.
type Status int

const (
	// Valid: stored and recomputed codes match.
	Valid Status = iota
	// Correctable: a single bit flip explains the mismatch.
	Correctable
	// Uncorrectable: more than one bit is wrong, or the syndrome matches no
	// known single-bit fault.
	Uncorrectable
)

func (s Status) String() string {
	switch s {
	case Valid:
		return "valid"
	case Correctable:
		return "correctable"
	case Uncorrectable:
		return "uncorrectable"
	default:
		return "invalid"
	}
}

// Result of validating one page. BitOffset is only meaningful for
// Correctable results and counts bits from the start of the page, LSB first
// within each byte.
type Result struct {
	Status    Status
	BitOffset int
}

// syndromes maps the XOR of stored and recomputed code words to the covered
// bit position whose flip produces it. Built once, on first use: the code is
// affine, so the syndrome of bit i is Compute(only bit i set) XOR
// Compute(all zero), independent of page content.
var (
	syndromeOnce  sync.Once
	syndromeTable map[uint32]int
)

func buildSyndromes() {
	syndromeTable = make(map[uint32]int, coveredBits)
	var page [PageBytes]byte
	zero := Compute(page[:])
	for i := 0; i < coveredBits; i++ {
		page[i/8] = 1 << (i % 8)
		syndromeTable[Compute(page[:])^zero] = i
		page[i/8] = 0
	}
}

// Validate compares the stored code against a recomputed one and classifies
// the page.
func Validate(page []byte) Result {
	stored := Stored(page)
	computed := Compute(page)
	syndrome := stored ^ computed
	if syndrome == 0 {
		return Result{Status: Valid}
	}
	syndromeOnce.Do(buildSyndromes)
	if bit, ok := syndromeTable[syndrome]; ok {
		return Result{Status: Correctable, BitOffset: bit}
	}
	// A single flipped bit inside the stored code itself leaves the
	// recomputed code untouched, so the syndrome is the flip.
	if syndrome&(syndrome-1) == 0 {
		return Result{Status: Correctable, BitOffset: codeOffset*8 + bits.TrailingZeros32(syndrome)}
	}
	return Result{Status: Uncorrectable}
}

// Fix flips the bit reported by a Correctable result. Returns false if the
// result is not Correctable.
func Fix(page []byte, r Result) bool {
	if r.Status != Correctable {
		return false
	}
	page[r.BitOffset/8] ^= 1 << (r.BitOffset % 8)
	return true
}
