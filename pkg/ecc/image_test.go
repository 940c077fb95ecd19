package ecc

import (
	"testing"

	"github.com/xenomit/rgh3x/pkg/nand"
)

func buildVerifiable(t *testing.T) *nand.Image {
	t.Helper()
	plain := make([]byte, 1310720)
	for i := range plain {
		plain[i] = byte(i * 7)
	}
	raw, err := nand.Interleave(plain, nand.KindSmallBlock)
	if err != nil {
		t.Fatalf("Interleave: %v", err)
	}
	if err := EncodeAll(raw); err != nil {
		t.Fatalf("EncodeAll: %v", err)
	}
	img, err := nand.NewImage(raw)
	if err != nil {
		t.Fatalf("NewImage: %v", err)
	}
	return img
}

func TestVerifyImageClean(t *testing.T) {
	img := buildVerifiable(t)
	bbt := nand.BuildBadBlockTable(img, nand.KindSmallBlock)
	if errs := VerifyImage(img, nand.KindSmallBlock, bbt); len(errs) != 0 {
		t.Fatalf("clean image: %d page errors, first: %v", len(errs), errs[0])
	}
}

func TestVerifyImageReportsCorruption(t *testing.T) {
	img := buildVerifiable(t)

	// Corrupt a whole byte of page 100 (multi-bit, uncorrectable).
	data, _ := img.Page(100)
	data[17] ^= 0xFF

	// Mark block 2 bad and corrupt a page inside it; it must be skipped.
	_, spare := img.Page(2 * 32)
	spare[5] = 0x00
	data, _ = img.Page(2*32 + 3)
	data[0] ^= 0xFF

	bbt := nand.BuildBadBlockTable(img, nand.KindSmallBlock)
	errs := VerifyImage(img, nand.KindSmallBlock, bbt)
	if len(errs) != 1 {
		t.Fatalf("%d page errors, want 1: %v", len(errs), errs)
	}
	if errs[0].Page != 100 || errs[0].Block != 3 {
		t.Errorf("reported page 0x%x block 0x%x, want page 0x64 block 0x3", errs[0].Page, errs[0].Block)
	}
}

func TestVerifyImageCorrectableIsNotError(t *testing.T) {
	img := buildVerifiable(t)
	data, _ := img.Page(50)
	data[5] ^= 0x04
	bbt := nand.BuildBadBlockTable(img, nand.KindSmallBlock)
	if errs := VerifyImage(img, nand.KindSmallBlock, bbt); len(errs) != 0 {
		t.Errorf("single-bit fault reported as uncorrectable: %v", errs)
	}
}

func TestEncodeAllEmpty(t *testing.T) {
	if err := EncodeAll(nil); err != nil {
		t.Errorf("EncodeAll(nil): %v", err)
	}
	if err := EncodeAll([]byte{}); err != nil {
		t.Errorf("EncodeAll(empty): %v", err)
	}
	if err := EncodeAll(make([]byte, PageBytes-1)); err == nil {
		t.Errorf("EncodeAll accepted a partial page")
	}
}

func TestEncodeImagePages(t *testing.T) {
	img := buildVerifiable(t)
	data, _ := img.Page(7)
	data[0] ^= 0xFF
	data, _ = img.Page(9)
	data[1] ^= 0xFF

	EncodeImage(img, []int{7, 9})
	bbt := nand.BuildBadBlockTable(img, nand.KindSmallBlock)
	if errs := VerifyImage(img, nand.KindSmallBlock, bbt); len(errs) != 0 {
		t.Errorf("pages not re-encoded: %v", errs)
	}
}
