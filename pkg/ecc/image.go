package ecc

import (
	"fmt"
	"runtime"
	"sort"
	"sync"

	"github.com/golang/glog"

	"github.com/xenomit/rgh3x/pkg/nand"
)

// PageError describes one page whose stored code does not match its content
// and cannot be explained by a single bit flip.
type PageError struct {
	Page     int
	Block    int
	Stored   uint32
	Computed uint32
}

func (e *PageError) Error() string {
	return fmt.Sprintf("page 0x%x (block 0x%x): stored ECC 0x%08x, computed 0x%08x", e.Page, e.Block, e.Stored, e.Computed)
}

// VerifyImage validates every page of a spared image. Pages belonging to
// blocks marked bad are skipped: their content is meaningless. Correctable
// pages are logged but not reported as errors; the read path tolerates them.
//
// Pages are independent, so verification is sharded across CPUs over
// disjoint page ranges.
func VerifyImage(img *nand.Image, kind nand.FlashKind, bbt *nand.BadBlockTable) []*PageError {
	pages := img.PageCount()
	workers := runtime.NumCPU()
	if workers > pages {
		workers = pages
	}
	if workers == 0 {
		return nil
	}
	per := (pages + workers - 1) / workers

	results := make([][]*PageError, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			lo, hi := w*per, (w+1)*per
			if hi > pages {
				hi = pages
			}
			for p := lo; p < hi; p++ {
				if bbt != nil && bbt.ContainsPage(p) {
					continue
				}
				page := img.RawPage(p)
				switch r := Validate(page); r.Status {
				case Valid:
				case Correctable:
					glog.Infof("Page 0x%x: correctable single-bit fault at bit %d", p, r.BitOffset)
				case Uncorrectable:
					results[w] = append(results[w], &PageError{
						Page:     p,
						Block:    nand.BlockOf(p, kind),
						Stored:   Stored(page),
						Computed: Compute(page),
					})
				}
			}
		}(w)
	}
	wg.Wait()

	var out []*PageError
	for _, r := range results {
		out = append(out, r...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Page < out[j].Page })
	return out
}

// EncodeImage recomputes the stored code of the given pages in place,
// sharded across CPUs.
func EncodeImage(img *nand.Image, pages []int) {
	workers := runtime.NumCPU()
	if workers > len(pages) {
		workers = len(pages)
	}
	if workers == 0 {
		return
	}
	per := (len(pages) + workers - 1) / workers
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			lo, hi := w*per, (w+1)*per
			if hi > len(pages) {
				hi = len(pages)
			}
			for _, p := range pages[lo:hi] {
				Encode(img.RawPage(p))
			}
		}(w)
	}
	wg.Wait()
}

// EncodeAll recomputes the stored code of every page of a raw spared buffer.
// Used when rebuilding spare data from scratch.
func EncodeAll(raw []byte) error {
	if len(raw)%PageBytes != 0 {
		return fmt.Errorf("buffer length 0x%x is not a multiple of the page stride", len(raw))
	}
	pages := len(raw) / PageBytes
	workers := runtime.NumCPU()
	if workers > pages {
		workers = pages
	}
	if workers == 0 {
		return nil
	}
	per := (pages + workers - 1) / workers
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			lo, hi := w*per, (w+1)*per
			if hi > pages {
				hi = pages
			}
			for p := lo; p < hi; p++ {
				Encode(raw[p*PageBytes : (p+1)*PageBytes])
			}
		}(w)
	}
	wg.Wait()
	return nil
}
