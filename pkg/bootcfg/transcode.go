package bootcfg

import (
	"bytes"
	"fmt"

	"github.com/golang/glog"

	"github.com/xenomit/rgh3x/pkg/nand"
	"github.com/xenomit/rgh3x/pkg/xecrypt"
)

// xellMarker is the branch stub at the start of the XeLL region, directly
// after the patchable prefix. Its absence means the image layout is not what
// the reference material describes.
var xellMarker = []byte{
	0x48, 0x00, 0x00, 0x20,
	0x48, 0x00, 0x00, 0xEC,
	0x48, 0x00, 0x00, 0x00,
	0x48, 0x00, 0x00, 0x00,
}

// ValidateXeLL checks the XeLL marker at the given raw offset.
func ValidateXeLL(raw []byte, off int) error {
	if off+len(xellMarker) > len(raw) {
		return fmt.Errorf("%w: image too short for XeLL header", ErrSectorNotFound)
	}
	if !bytes.Equal(raw[off:off+len(xellMarker)], xellMarker) {
		return fmt.Errorf("%w: XeLL header missing", ErrSectorNotFound)
	}
	return nil
}

// Range is a half-open byte range, in plain image coordinates.
type Range struct {
	Start, End int
}

// Result of a transcode.
type Result struct {
	// Body is the rewritten plain image body. Aliases the input when NoOp.
	Body []byte
	// Changed lists the byte ranges that differ from the input.
	Changed []Range
	// NoOp is set when the image was already in NAND-timing mode.
	NoOp bool
	// PreviousMode is the hack mode the image arrived in.
	PreviousMode HackMode
}

// Transcode rewrites the boot configuration of a plain image body from
// glitch mode to NAND-timing mode:
//
//   - the SMC region is replaced with the reference RGH3 SMC, its config
//     block set to NAND-timing with the known-good parameters for the flash
//     kind, checksummed and re-encrypted;
//   - CB_A is replaced with the reference RGH3 CB_A;
//   - the glitch payload is spliced ahead of the target's CB_B, which is
//     stored decrypted, as the RGH3 chain expects.
//
// An image already in NAND-timing mode with the reference CB_A in place is
// returned untouched. A CPU key that fails the CB_B integrity check aborts
// before any byte is rewritten.
func Transcode(body []byte, ref *Reference, cpu xecrypt.CPUKey, kind nand.FlashKind) (*Result, error) {
	layout, err := ParseLayout(body, 2)
	if err != nil {
		return nil, err
	}
	cba, cbb := layout.Loaders[0], layout.Loaders[1]

	curSMC := xecrypt.DecryptSMC(body[layout.SMCOffset : layout.SMCOffset+layout.SMCLength])
	cfg, err := ParseConfigBlock(curSMC)
	if err != nil {
		return nil, fmt.Errorf("image SMC: %w", err)
	}
	if cfg.Mode == ModeNandTiming && bytes.Equal(cba.Data, ref.CBA.Data) {
		glog.Infof("Image already in NAND-timing mode, nothing to do")
		return &Result{Body: body, NoOp: true, PreviousMode: cfg.Mode}, nil
	}

	glog.Infof("Decrypting CB...")
	_, cbaKey, err := xecrypt.DecryptCBA(cba.Data)
	if err != nil {
		return nil, fmt.Errorf("CB_A: %w", err)
	}
	cbbPlain, err := xecrypt.DecryptCBB(cbb.Data, cbaKey, cpu)
	if err != nil {
		return nil, fmt.Errorf("CB_B: %w", err)
	}
	if err := xecrypt.VerifyCBB(cbbPlain); err != nil {
		return nil, fmt.Errorf("CB_B: %w", err)
	}

	timing, ok := nandTimings[kind]
	if !ok {
		return nil, fmt.Errorf("no NAND-timing parameters for %s flash", kind)
	}

	// Build the replacement SMC from the reference, with the timing block
	// set for this flash kind.
	refSMC := xecrypt.DecryptSMC(ref.SMC)
	refCfg, err := ParseConfigBlock(refSMC)
	if err != nil {
		return nil, fmt.Errorf("reference SMC: %w", err)
	}
	refCfg.Mode = ModeNandTiming
	refCfg.PLL = timing.PLL
	refCfg.Timing = timing.Value
	if err := refCfg.EncodeInto(refSMC); err != nil {
		return nil, err
	}

	if len(ref.SMC) != layout.SMCLength {
		return nil, fmt.Errorf("%w: reference SMC is 0x%x bytes, image expects 0x%x", ErrSectorNotFound, len(ref.SMC), layout.SMCLength)
	}
	glog.Infof("Patching SMC (mode %s -> %s, timing 0x%04x)...", cfg.Mode, ModeNandTiming, timing.Value)
	out := make([]byte, len(body))
	copy(out, body)
	copy(out[layout.SMCOffset:], xecrypt.EncryptSMC(refSMC))

	glog.Infof("Patching CB...")
	stack := len(ref.CBA.Data) + len(ref.Payload.Data) + len(cbbPlain)
	if cba.Offset+stack > len(body) {
		return nil, fmt.Errorf("%w: RGH3 loader stack (0x%x bytes at 0x%x) does not fit before XeLL", ErrSectorNotFound, stack, cba.Offset)
	}
	patched := make([]byte, 0, len(body)+len(ref.Payload.Data))
	patched = append(patched, out[:cba.Offset]...)
	patched = append(patched, ref.CBA.Data...)
	patched = append(patched, ref.Payload.Data...)
	patched = append(patched, cbbPlain...)
	patched = append(patched, out[cbb.Offset+len(cbb.Data):]...)
	if grown := len(patched) - len(body); grown > 0 {
		glog.Infof("Dropping 0x%x bytes of slack after CE to keep the image size", grown)
		patched = patched[:len(body)]
	} else if grown < 0 {
		glog.Infof("Zero-filling 0x%x bytes of slack to keep the image size", -grown)
		patched = append(patched, make([]byte, -grown)...)
	}

	return &Result{
		Body: patched,
		Changed: []Range{
			{Start: layout.SMCOffset, End: layout.SMCOffset + layout.SMCLength},
			{Start: cba.Offset, End: len(body)},
		},
		PreviousMode: cfg.Mode,
	}, nil
}
