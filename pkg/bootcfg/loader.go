// Package bootcfg locates and rewrites the boot configuration of an Xbox 360
// flash image: the bootloader chain (CB_A/CB_B) and the SMC-resident glitch
// configuration block. All offsets here are in plain (spare-stripped) image
// coordinates.
package bootcfg

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrSectorNotFound means the boot-config markers (loader tags, config block
// magic, XeLL header) are absent or inconsistent; the image is not one this
// tool can convert.
var ErrSectorNotFound = errors.New("boot-config sector not found")

// LoaderHeader is the 16-byte big-endian header at the start of every
// bootloader stage.
type LoaderHeader struct {
	Name       [2]byte
	Version    uint16
	Flags      uint32
	Entrypoint uint32
	Size       uint32
}

func (h *LoaderHeader) String() string {
	return fmt.Sprintf("%s %d (size 0x%08x, entrypoint 0x%08x)", h.Name, h.Version, h.Size, h.Entrypoint)
}

// valid is a light sanity check on a parsed header: loader tags are two
// uppercase ASCII characters ("CB", "CD", ...) and every stage is at least
// header plus key seed.
func (h *LoaderHeader) valid() bool {
	for _, c := range h.Name {
		if c < 'A' || c > 'Z' {
			return false
		}
	}
	return h.Size >= 0x20
}

// Loader is one stage of the chain, raw bytes (header included) plus its
// offset within the image body.
type Loader struct {
	Header LoaderHeader
	Offset int
	Data   []byte
}

func parseLoader(body []byte, off int) (*Loader, error) {
	if off < 0 || off+16 > len(body) {
		return nil, fmt.Errorf("%w: loader offset 0x%x out of bounds", ErrSectorNotFound, off)
	}
	var hdr LoaderHeader
	if err := binary.Read(bytes.NewReader(body[off:]), binary.BigEndian, &hdr); err != nil {
		return nil, fmt.Errorf("failed to read loader header: %w", err)
	}
	if !hdr.valid() {
		return nil, fmt.Errorf("%w: no loader at 0x%x (tag %x)", ErrSectorNotFound, off, hdr.Name)
	}
	end := off + int(hdr.Size)
	if end > len(body) {
		return nil, fmt.Errorf("%w: loader %s at 0x%x runs past the image", ErrSectorNotFound, hdr.Name, off)
	}
	return &Loader{Header: hdr, Offset: off, Data: body[off:end]}, nil
}

// chainPointerOff is where the image header stores the big-endian offset of
// the first bootloader stage.
const chainPointerOff = 8

// WalkChain parses the first n stages of the bootloader chain.
func WalkChain(body []byte, n int) ([]*Loader, error) {
	if len(body) < chainPointerOff+4 {
		return nil, fmt.Errorf("%w: image too short for a header", ErrSectorNotFound)
	}
	off := int(binary.BigEndian.Uint32(body[chainPointerOff:]))
	var out []*Loader
	for i := 0; i < n; i++ {
		l, err := parseLoader(body, off)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
		off += int(l.Header.Size)
	}
	return out, nil
}
