package bootcfg

import (
	"encoding/binary"
	"fmt"

	"github.com/golang/glog"
)

// The image header stores the SMC region as a big-endian (length, offset)
// pair.
const (
	smcLengthOff = 0x78
	smcOffsetOff = 0x7C
)

// Layout is the boot-relevant structure of a plain image body: where the SMC
// lives and the leading bootloader stages.
type Layout struct {
	SMCOffset int
	SMCLength int
	Loaders   []*Loader
}

// ParseLayout reads the SMC pointer pair and walks the first nLoaders stages.
func ParseLayout(body []byte, nLoaders int) (*Layout, error) {
	if len(body) < smcOffsetOff+4 {
		return nil, fmt.Errorf("%w: image too short for a header", ErrSectorNotFound)
	}
	smcLen := int(binary.BigEndian.Uint32(body[smcLengthOff:]))
	smcOff := int(binary.BigEndian.Uint32(body[smcOffsetOff:]))
	if smcLen <= 0 || smcOff <= 0 || smcOff+smcLen > len(body) {
		return nil, fmt.Errorf("%w: SMC region 0x%x+0x%x out of bounds", ErrSectorNotFound, smcOff, smcLen)
	}
	loaders, err := WalkChain(body, nLoaders)
	if err != nil {
		return nil, err
	}
	for _, l := range loaders {
		glog.Infof("Found %s at 0x%08x", l.Header.String(), l.Offset)
	}
	return &Layout{SMCOffset: smcOff, SMCLength: smcLen, Loaders: loaders}, nil
}

// Reference is the parsed RGH3 donor material from the ECC reference file:
// its SMC (still SMC-encrypted), the RGH3 CB_A and the glitch payload that
// gets spliced ahead of the target's CB_B.
type Reference struct {
	Layout
	SMC     []byte
	CBA     *Loader
	Payload *Loader
}

// ParseReference parses a plain (spare-stripped) ECC reference body.
func ParseReference(body []byte) (*Reference, error) {
	l, err := ParseLayout(body, 2)
	if err != nil {
		return nil, err
	}
	return &Reference{
		Layout:  *l,
		SMC:     body[l.SMCOffset : l.SMCOffset+l.SMCLength],
		CBA:     l.Loaders[0],
		Payload: l.Loaders[1],
	}, nil
}
