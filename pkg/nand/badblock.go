package nand

import (
	"github.com/golang/glog"
)

// BlockStatus is the state of an erase block as recorded by the factory
// bad-block markers in its spare area.
type BlockStatus int

const (
	StatusUnknown BlockStatus = iota
	StatusGood
	StatusBad
)

// BadBlockTable maps erase block indices to their factory status. Blocks are
// never remapped here; the table only reports, and its consumers decide what
// bad blocks exempt (ECC validation) or require (manual remapping).
type BadBlockTable struct {
	status        []BlockStatus
	pagesPerBlock int
	stride        int
}

// BuildBadBlockTable scans the first page of every erase block for the
// factory marker. On small-block parts the marker is spare byte 5, on big
// block parts spare byte 0; anything other than 0xFF there means the block
// was marked unusable. Spare-less images yield a table of unknowns.
func BuildBadBlockTable(img *Image, kind FlashKind) *BadBlockTable {
	ppb := kind.PagesPerBlock()
	blocks := img.PageCount() / ppb
	t := &BadBlockTable{
		status:        make([]BlockStatus, blocks),
		pagesPerBlock: ppb,
		stride:        img.Geometry().PageStride(),
	}
	if !img.Geometry().HasSpare() {
		return t
	}
	markerByte := 5
	if kind == KindBigBlock {
		markerByte = 0
	}
	for b := 0; b < blocks; b++ {
		_, spare := img.Page(b * ppb)
		if spare[markerByte] == 0xFF {
			t.status[b] = StatusGood
		} else {
			t.status[b] = StatusBad
			glog.Infof("Block 0x%x marked bad (spare byte %d = 0x%02x)", b, markerByte, spare[markerByte])
		}
	}
	return t
}

// Blocks is the number of erase blocks covered by the table.
func (t *BadBlockTable) Blocks() int {
	return len(t.status)
}

// Status returns the recorded state of a block.
func (t *BadBlockTable) Status(block int) BlockStatus {
	if block < 0 || block >= len(t.status) {
		return StatusUnknown
	}
	return t.status[block]
}

// IsBad reports whether a block carries a factory bad marker.
func (t *BadBlockTable) IsBad(block int) bool {
	return t.Status(block) == StatusBad
}

// ContainsPage reports whether the given page index lies in a bad block.
func (t *BadBlockTable) ContainsPage(page int) bool {
	return t.IsBad(page / t.pagesPerBlock)
}

// BadBefore lists the bad blocks that start below the given raw byte offset.
// These are the blocks a user has to remap by hand before an image patched
// in that region can boot.
func (t *BadBlockTable) BadBefore(rawOff int) []int {
	blockBytes := t.pagesPerBlock * t.stride
	var out []int
	for b, s := range t.status {
		if b*blockBytes >= rawOff {
			break
		}
		if s == StatusBad {
			out = append(out, b)
		}
	}
	return out
}
