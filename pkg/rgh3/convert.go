// Package rgh3 drives a full conversion run: geometry detection, bad block
// accounting, ECC validation, boot-config transcoding and reassembly of the
// output image. A run is a pure batch transform over three byte buffers; on
// any fatal condition no output buffer is produced at all.
package rgh3

import (
	"errors"
	"fmt"
	"sort"

	"github.com/golang/glog"
	"github.com/hashicorp/go-multierror"

	"github.com/xenomit/rgh3x/pkg/bootcfg"
	"github.com/xenomit/rgh3x/pkg/ecc"
	"github.com/xenomit/rgh3x/pkg/nand"
	"github.com/xenomit/rgh3x/pkg/xecrypt"
)

// The patchable prefix ends where XeLL starts. Raw offset for spared
// images, plain offset otherwise.
const (
	xellStartSpared = 0x73800
	xellStartPlain  = 0x70000
)

// ErrUncorrectableImage means pages outside the bad block table failed ECC
// validation; the image cannot be trusted.
var ErrUncorrectableImage = errors.New("image carries uncorrectable pages outside the bad block table")

// BadBlockBeforeBootError is a non-fatal warning: a bad block below the boot
// region needs manual remapping before the converted image can boot.
type BadBlockBeforeBootError struct {
	Block int
}

func (e *BadBlockBeforeBootError) Error() string {
	return fmt.Sprintf("block 0x%x is marked bad below the boot region and must be remapped manually", e.Block)
}

// Options tune a conversion run.
type Options struct {
	// BestEffort demotes uncorrectable pages from a fatal error to warnings.
	BestEffort bool
}

// Output of a successful run.
type Output struct {
	// Image has the same length as the input, differing only in the
	// boot-config pages and their regenerated spare data.
	Image []byte
	// Warnings are the non-fatal conditions collected along the way.
	Warnings []error
	// NoOp is set when the input was already converted.
	NoOp bool
}

// Convert turns a glitch-mode flash image into a NAND-timing (RGH3) one.
// eccRef is the RGH3 reference ("ECC file"), in the input image, cpu the
// console CPU key (all-zero by convention for unencrypted images).
func Convert(eccRef, in []byte, cpu xecrypt.CPUKey, opts Options) (*Output, error) {
	refImg, err := nand.NewImage(eccRef)
	if err != nil {
		return nil, fmt.Errorf("ECC reference: %w", err)
	}
	refBody := eccRef
	if refImg.Geometry().HasSpare() {
		glog.Infof("ECC reference contains spare data")
		if refBody, err = nand.StripSpare(eccRef); err != nil {
			return nil, fmt.Errorf("ECC reference: %w", err)
		}
	}
	ref, err := bootcfg.ParseReference(refBody)
	if err != nil {
		return nil, fmt.Errorf("ECC reference: %w", err)
	}

	img, err := nand.NewImage(in)
	if err != nil {
		return nil, err
	}
	kind, err := nand.DetectKind(img)
	if err != nil {
		return nil, err
	}
	glog.Infof("Detected %s flash", kind)

	spared := img.Geometry().HasSpare()
	xellStart := xellStartPlain
	if spared {
		xellStart = xellStartSpared
	}

	var warnings *multierror.Error

	bbt := nand.BuildBadBlockTable(img, kind)
	for _, b := range bbt.BadBefore(xellStart) {
		warnings = multierror.Append(warnings, &BadBlockBeforeBootError{Block: b})
	}

	if spared {
		if pageErrs := ecc.VerifyImage(img, kind, bbt); len(pageErrs) > 0 {
			if !opts.BestEffort {
				return nil, fmt.Errorf("%w: %d pages failed, first: %v", ErrUncorrectableImage, len(pageErrs), pageErrs[0])
			}
			for _, pe := range pageErrs {
				warnings = multierror.Append(warnings, pe)
			}
		}
	}

	if err := bootcfg.ValidateXeLL(in, xellStart); err != nil {
		return nil, fmt.Errorf("at 0x%x: %w", xellStart, err)
	}

	// The patchable prefix, spare stripped. Transcode never mutates it.
	var body []byte
	if spared {
		if body, err = nand.StripSpare(in[:xellStart]); err != nil {
			return nil, err
		}
	} else {
		body = in[:xellStart]
	}

	res, err := bootcfg.Transcode(body, ref, cpu, kind)
	if err != nil {
		return nil, err
	}

	out := make([]byte, len(in))
	copy(out, in)

	if res.NoOp {
		return &Output{Image: out, Warnings: warningList(warnings), NoOp: true}, nil
	}

	if !spared {
		copy(out[:xellStart], res.Body)
	} else {
		// Rewrite only the pages the transcoder touched, regenerating their
		// spare data and ECC. Everything else, bad blocks included, is
		// carried over byte for byte.
		outImg, err := nand.NewImage(out)
		if err != nil {
			return nil, err
		}
		pages, err := rewriteTouched(outImg, res, kind, bbt)
		if err != nil {
			return nil, err
		}
		ecc.EncodeImage(outImg, pages)
	}

	return &Output{Image: out, Warnings: warningList(warnings)}, nil
}

// rewriteTouched copies the transcoded data of every touched page into the
// output image with fresh spare metadata, and returns the page indices to
// re-encode. Pages inside bad blocks are left untouched: their content is
// meaningless and the spare markers must survive.
func rewriteTouched(out *nand.Image, res *bootcfg.Result, kind nand.FlashKind, bbt *nand.BadBlockTable) ([]int, error) {
	touched := map[int]bool{}
	for _, r := range res.Changed {
		for p := r.Start / nand.PageSize; p*nand.PageSize < r.End; p++ {
			touched[p] = true
		}
	}
	pages := make([]int, 0, len(touched))
	for p := range touched {
		if bbt.IsBad(nand.BlockOf(p, kind)) {
			glog.Infof("Page 0x%x sits in a bad block, leaving it as is", p)
			continue
		}
		pages = append(pages, p)
	}
	sort.Ints(pages)
	for _, p := range pages {
		raw := out.RawPage(p)
		copy(raw[:nand.PageSize], res.Body[p*nand.PageSize:(p+1)*nand.PageSize])
		if err := nand.FillSpare(raw[nand.PageSize:], p, kind); err != nil {
			return nil, err
		}
	}
	return pages, nil
}

func warningList(errs *multierror.Error) []error {
	if errs == nil {
		return nil
	}
	return errs.Errors
}
