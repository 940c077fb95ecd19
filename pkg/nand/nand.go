// Package nand models how raw Xbox 360 flash dumps decompose into pages,
// blocks and per-page spare data. It is a pure coordinate-mapping service:
// nothing here mutates image contents except the spare rebuilding helpers,
// which operate on buffers they allocate themselves.
//
// Two classes of buffers are handled: full flash dumps (16MB/64MB with spare
// data, or the 48MB patchable prefix of a 4GB flash, without) and the much
// smaller RGH3 reference images distributed as "ECC files".
package nand

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/golang/glog"
)

const (
	// PageSize is the data portion of a page, in bytes.
	PageSize = 512
	// SpareSize is the out-of-band metadata portion of a page, in bytes.
	SpareSize = 16
)

var ErrUnsupportedGeometry = errors.New("unsupported NAND geometry")

// Geometry describes how a buffer of a given total length splits into pages.
// It is resolved exactly once per buffer, from its length alone.
type Geometry struct {
	PageSize  int
	SpareSize int
	TotalSize int
}

// Known buffer lengths. Anything else is rejected outright rather than
// guessed at: a wrong stride silently corrupts every page boundary.
var geometries = map[int]Geometry{
	17301504: {PageSize: PageSize, SpareSize: SpareSize, TotalSize: 17301504}, // 16MB flash, spare included
	69206016: {PageSize: PageSize, SpareSize: SpareSize, TotalSize: 69206016}, // 64MB flash, spare included
	50331648: {PageSize: PageSize, SpareSize: 0, TotalSize: 50331648},         // 4GB flash prefix, no spare
	1351680:  {PageSize: PageSize, SpareSize: SpareSize, TotalSize: 1351680},  // ECC reference, spare included
	1310720:  {PageSize: PageSize, SpareSize: 0, TotalSize: 1310720},          // ECC reference, no spare
}

// Detect resolves the geometry for a buffer of the given length.
func Detect(length int) (Geometry, error) {
	g, ok := geometries[length]
	if !ok {
		return Geometry{}, fmt.Errorf("%w: no known layout is %d bytes long", ErrUnsupportedGeometry, length)
	}
	return g, nil
}

// HasSpare reports whether pages carry out-of-band spare data.
func (g Geometry) HasSpare() bool {
	return g.SpareSize != 0
}

// PageStride is the raw byte distance between consecutive page starts.
func (g Geometry) PageStride() int {
	return g.PageSize + g.SpareSize
}

// Pages is the total page count of the buffer.
func (g Geometry) Pages() int {
	return g.TotalSize / g.PageStride()
}

// FlashKind identifies the spare-area addressing convention of the flash
// part an image was dumped from. Resolved once per run from the spare probe,
// then used for all spare rebuilding and block arithmetic.
type FlashKind int

const (
	KindUnknown FlashKind = iota
	// KindSmallBlock: 16/64MB parts, 32 pages per block, block address in
	// spare bytes 0-3.
	KindSmallBlock
	// KindBigOnSmall: 16/64MB parts using big-block style addressing, block
	// address in spare bytes 1-4.
	KindBigOnSmall
	// KindBigBlock: 256/512MB parts, 256 small pages per block.
	KindBigBlock
	// KindNoSpare4G: 4GB parts; dumps carry no spare data at all.
	KindNoSpare4G
)

func (k FlashKind) String() string {
	switch k {
	case KindSmallBlock:
		return "16/64MB small block"
	case KindBigOnSmall:
		return "16/64MB big on small"
	case KindBigBlock:
		return "256/512MB big block"
	case KindNoSpare4G:
		return "4GB"
	default:
		return "unknown"
	}
}

// PagesPerBlock is the number of 512-byte pages per erase block.
func (k FlashKind) PagesPerBlock() int {
	if k == KindBigBlock {
		return 256
	}
	return 32
}

// Image is a raw flash buffer with a resolved geometry. Slicing operations
// alias the underlying buffer and never copy.
type Image struct {
	raw []byte
	geo Geometry
}

// NewImage wraps a raw buffer, resolving its geometry from its length.
func NewImage(raw []byte) (*Image, error) {
	geo, err := Detect(len(raw))
	if err != nil {
		return nil, err
	}
	return &Image{raw: raw, geo: geo}, nil
}

func (i *Image) Geometry() Geometry { return i.geo }
func (i *Image) Raw() []byte        { return i.raw }
func (i *Image) PageCount() int     { return i.geo.Pages() }

// Page returns the data and spare slices of page n. The spare slice is nil
// for spare-less geometries.
func (i *Image) Page(n int) (data, spare []byte) {
	off := n * i.geo.PageStride()
	data = i.raw[off : off+i.geo.PageSize]
	if i.geo.HasSpare() {
		spare = i.raw[off+i.geo.PageSize : off+i.geo.PageStride()]
	}
	return data, spare
}

// RawPage returns the full stride (data plus spare) of page n.
func (i *Image) RawPage(n int) []byte {
	off := n * i.geo.PageStride()
	return i.raw[off : off+i.geo.PageStride()]
}

// BlockOf maps a page index to its erase block index under the given kind.
func BlockOf(page int, kind FlashKind) int {
	return page / kind.PagesPerBlock()
}

// spareProbeOffset is the raw offset of the spare area of page 32, the first
// page of block 1 on small-block parts. Its block-address bytes disambiguate
// the three spare conventions.
const spareProbeOffset = 33 * PageSize + 32*SpareSize // 0x4400

// DetectKind probes the spare area to identify the flash part convention.
func DetectKind(img *Image) (FlashKind, error) {
	if !img.Geometry().HasSpare() {
		return KindNoSpare4G, nil
	}
	_, spare := img.Page(32)
	switch {
	case spare[0] == 0xFF:
		glog.V(1).Infof("Spare probe %x: big block", spare[:6])
		return KindBigBlock, nil
	case spare[5] == 0xFF && spare[0] == 0x01 && spare[1] == 0x00:
		glog.V(1).Infof("Spare probe %x: small block", spare[:6])
		return KindSmallBlock, nil
	case spare[5] == 0xFF && spare[0] == 0x00 && spare[1] == 0x01:
		glog.V(1).Infof("Spare probe %x: big on small", spare[:6])
		return KindBigOnSmall, nil
	default:
		return KindUnknown, fmt.Errorf("%w: spare probe %x matches no flash kind", ErrUnsupportedGeometry, spare[:6])
	}
}

// StripSpare drops the spare area from every page, yielding the plain data
// stream. The input length must be a multiple of the page stride.
func StripSpare(raw []byte) ([]byte, error) {
	stride := PageSize + SpareSize
	if len(raw)%stride != 0 {
		return nil, fmt.Errorf("%w: length 0x%x is not a multiple of 0x%x", ErrUnsupportedGeometry, len(raw), stride)
	}
	out := make([]byte, 0, len(raw)/stride*PageSize)
	for off := 0; off < len(raw); off += stride {
		out = append(out, raw[off:off+PageSize]...)
	}
	return out, nil
}

// FillSpare writes the spare metadata for page index n under the given flash
// kind. The four ECC bytes at the end are left zero for the codec to fill.
func FillSpare(spare []byte, n int, kind FlashKind) error {
	for i := range spare {
		spare[i] = 0
	}
	switch kind {
	case KindSmallBlock:
		binary.LittleEndian.PutUint32(spare[0:], uint32(n/32))
		spare[5] = 0xFF
	case KindBigOnSmall:
		binary.LittleEndian.PutUint32(spare[1:], uint32(n/32))
		spare[5] = 0xFF
	case KindBigBlock:
		spare[0] = 0xFF
		binary.LittleEndian.PutUint32(spare[1:], uint32(n/256))
	default:
		return fmt.Errorf("%w: cannot build spare data for %s flash", ErrUnsupportedGeometry, kind)
	}
	return nil
}

// Interleave rebuilds the raw page stream from plain data, inserting freshly
// generated spare areas. The ECC bytes of each page are zero; callers are
// expected to run the codec over the result. Input length must be a multiple
// of the page size.
func Interleave(plain []byte, kind FlashKind) ([]byte, error) {
	if len(plain)%PageSize != 0 {
		return nil, fmt.Errorf("%w: length 0x%x is not a multiple of 0x%x", ErrUnsupportedGeometry, len(plain), PageSize)
	}
	pages := len(plain) / PageSize
	stride := PageSize + SpareSize
	out := make([]byte, pages*stride)
	for n := 0; n < pages; n++ {
		copy(out[n*stride:], plain[n*PageSize:(n+1)*PageSize])
		if err := FillSpare(out[n*stride+PageSize:(n+1)*stride], n, kind); err != nil {
			return nil, err
		}
	}
	return out, nil
}
