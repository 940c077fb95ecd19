package bootcfg

import (
	"encoding/binary"
	"fmt"

	"github.com/xenomit/rgh3x/pkg/xecrypt"
)

// HackMode is the reset-hack variant the SMC is configured to drive.
type HackMode byte

const (
	ModeUnknown HackMode = 0x00
	// ModeGlitch: PLL-glitch based reset hack (RGH1/RGH2 family).
	ModeGlitch HackMode = 0x01
	// ModeNandTiming: NAND-timing based reset hack (RGH3).
	ModeNandTiming HackMode = 0x03
)

func (m HackMode) String() string {
	switch m {
	case ModeGlitch:
		return "glitch"
	case ModeNandTiming:
		return "NAND-timing"
	default:
		return fmt.Sprintf("unknown(0x%02x)", byte(m))
	}
}

// The glitch configuration block inside the decrypted SMC. 16 bytes at a
// fixed offset: a two byte magic, the hack mode, the PLL select, a 16-bit
// timing value, reserved padding, and an additive 16-bit checksum over
// everything before it.
const (
	configBlockOff = 0x100
	configBlockLen = 16

	cfgModeOff     = 2
	cfgPLLOff      = 3
	cfgTimingOff   = 4
	cfgChecksumOff = 14
)

var configMagic = [2]byte{'G', 'C'}

// ConfigBlock is the decoded glitch configuration.
type ConfigBlock struct {
	Mode   HackMode
	PLL    byte
	Timing uint16
}

func configChecksum(block []byte) uint16 {
	var sum uint16
	for _, b := range block[:cfgChecksumOff] {
		sum += uint16(b)
	}
	return sum
}

// ParseConfigBlock decodes the configuration block of a decrypted SMC.
// Missing magic means this is not an SMC this tool understands; a bad
// checksum means the region decrypted to garbage.
func ParseConfigBlock(smcPlain []byte) (*ConfigBlock, error) {
	if len(smcPlain) < configBlockOff+configBlockLen {
		return nil, fmt.Errorf("%w: SMC too short for a config block", ErrSectorNotFound)
	}
	block := smcPlain[configBlockOff : configBlockOff+configBlockLen]
	if block[0] != configMagic[0] || block[1] != configMagic[1] {
		return nil, fmt.Errorf("%w: no config block magic in SMC", ErrSectorNotFound)
	}
	if got, want := binary.LittleEndian.Uint16(block[cfgChecksumOff:]), configChecksum(block); got != want {
		return nil, fmt.Errorf("%w: SMC config checksum 0x%04x, computed 0x%04x", xecrypt.ErrIntegrityMismatch, got, want)
	}
	return &ConfigBlock{
		Mode:   HackMode(block[cfgModeOff]),
		PLL:    block[cfgPLLOff],
		Timing: binary.LittleEndian.Uint16(block[cfgTimingOff:]),
	}, nil
}

// EncodeInto writes the configuration block (magic, fields, recomputed
// checksum) into a decrypted SMC in place. Reserved bytes are preserved.
func (c *ConfigBlock) EncodeInto(smcPlain []byte) error {
	if len(smcPlain) < configBlockOff+configBlockLen {
		return fmt.Errorf("%w: SMC too short for a config block", ErrSectorNotFound)
	}
	block := smcPlain[configBlockOff : configBlockOff+configBlockLen]
	block[0], block[1] = configMagic[0], configMagic[1]
	block[cfgModeOff] = byte(c.Mode)
	block[cfgPLLOff] = c.PLL
	binary.LittleEndian.PutUint16(block[cfgTimingOff:], c.Timing)
	binary.LittleEndian.PutUint16(block[cfgChecksumOff:], configChecksum(block))
	return nil
}
