package bootcfg

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math/rand"
	"testing"

	"github.com/xenomit/rgh3x/pkg/nand"
	"github.com/xenomit/rgh3x/pkg/xecrypt"
)

const (
	fixBodyLen = 0x70000
	fixSMCOff  = 0x1000
	fixSMCLen  = 0x800
	fixCBAOff  = 0x8000
	fixCBALen  = 0x1A00
	fixCBBLen  = 0x6000
)

func buildSMC(t *testing.T, mode HackMode, pll byte, timing uint16) []byte {
	t.Helper()
	plain := make([]byte, fixSMCLen)
	for i := range plain {
		plain[i] = byte(i * 3)
	}
	cfg := &ConfigBlock{Mode: mode, PLL: pll, Timing: timing}
	if err := cfg.EncodeInto(plain); err != nil {
		t.Fatalf("EncodeInto: %v", err)
	}
	return xecrypt.EncryptSMC(plain)
}

func loaderHeader(name string, size int) []byte {
	hdr := make([]byte, 16)
	copy(hdr, name)
	binary.BigEndian.PutUint16(hdr[2:], 9188)
	binary.BigEndian.PutUint32(hdr[8:], 0x100)
	binary.BigEndian.PutUint32(hdr[12:], uint32(size))
	return hdr
}

type fixture struct {
	body     []byte
	cpu      xecrypt.CPUKey
	cbaKey   xecrypt.WorkingKey
	cbbKey   xecrypt.WorkingKey
	cbbPlain []byte
}

// buildBody assembles a plain flash body: header with SMC pointer and chain
// pointer, an encrypted SMC in the given mode, and an encrypted CB_A/CB_B
// pair for the given CPU key.
func buildBody(t *testing.T, mode HackMode, cpu xecrypt.CPUKey) *fixture {
	t.Helper()
	rnd := rand.New(rand.NewSource(11))
	body := make([]byte, fixBodyLen)

	binary.BigEndian.PutUint32(body[chainPointerOff:], fixCBAOff)
	binary.BigEndian.PutUint32(body[smcLengthOff:], fixSMCLen)
	binary.BigEndian.PutUint32(body[smcOffsetOff:], fixSMCOff)
	copy(body[fixSMCOff:], buildSMC(t, mode, 0x05, 0x0099))

	cbaPlain := make([]byte, fixCBALen)
	rnd.Read(cbaPlain)
	copy(cbaPlain, loaderHeader("CB", fixCBALen))
	cbaSeed := [16]byte{0xA1, 0xA1}
	cbaKey, err := xecrypt.DeriveKey(xecrypt.RoleCBA, xecrypt.CPUKey{}, xecrypt.WorkingKey{}, cbaSeed[:])
	if err != nil {
		t.Fatalf("DeriveKey CB_A: %v", err)
	}
	cbaEnc, err := xecrypt.EncryptLoader(cbaPlain, cbaKey, cbaSeed)
	if err != nil {
		t.Fatalf("EncryptLoader CB_A: %v", err)
	}
	copy(body[fixCBAOff:], cbaEnc)

	cbbPlain := make([]byte, fixCBBLen)
	rnd.Read(cbbPlain)
	copy(cbbPlain, loaderHeader("CB", fixCBBLen))
	copy(cbbPlain[0x392:], "XBOX_ROM")
	cbbSeed := [16]byte{0xB2, 0xB2}
	cbbKey, err := xecrypt.DeriveKey(xecrypt.RoleCBB, cpu, cbaKey, cbbSeed[:])
	if err != nil {
		t.Fatalf("DeriveKey CB_B: %v", err)
	}
	cbbEnc, err := xecrypt.EncryptLoader(cbbPlain, cbbKey, cbbSeed)
	if err != nil {
		t.Fatalf("EncryptLoader CB_B: %v", err)
	}
	copy(body[fixCBAOff+fixCBALen:], cbbEnc)

	// The decrypted form carries the working key in the seed field.
	wantPlain := append([]byte(nil), cbbPlain...)
	copy(wantPlain[0x10:0x20], cbbKey[:])

	return &fixture{body: body, cpu: cpu, cbaKey: cbaKey, cbbKey: cbbKey, cbbPlain: wantPlain}
}

// buildReference assembles a plain ECC reference body carrying the RGH3 SMC,
// CB_A and payload.
func buildReference(t *testing.T) (*Reference, []byte) {
	t.Helper()
	rnd := rand.New(rand.NewSource(12))
	body := make([]byte, 0x140000)

	const (
		refCBAOff = 0x3000
		refCBALen = 0x1200
		refPayLen = 0x400
	)
	binary.BigEndian.PutUint32(body[chainPointerOff:], refCBAOff)
	binary.BigEndian.PutUint32(body[smcLengthOff:], fixSMCLen)
	binary.BigEndian.PutUint32(body[smcOffsetOff:], fixSMCOff)
	copy(body[fixSMCOff:], buildSMC(t, ModeNandTiming, 0x10, 0x01D4))

	cba := make([]byte, refCBALen)
	rnd.Read(cba)
	copy(cba, loaderHeader("CB", refCBALen))
	copy(body[refCBAOff:], cba)

	payload := make([]byte, refPayLen)
	rnd.Read(payload)
	copy(payload, loaderHeader("CD", refPayLen))
	copy(body[refCBAOff+refCBALen:], payload)

	ref, err := ParseReference(body)
	if err != nil {
		t.Fatalf("ParseReference: %v", err)
	}
	return ref, body
}

func TestParseReference(t *testing.T) {
	ref, _ := buildReference(t)
	if string(ref.CBA.Header.Name[:]) != "CB" {
		t.Errorf("CB_A tag: %s", ref.CBA.Header.Name)
	}
	if string(ref.Payload.Header.Name[:]) != "CD" {
		t.Errorf("payload tag: %s", ref.Payload.Header.Name)
	}
	if len(ref.SMC) != fixSMCLen {
		t.Errorf("SMC length: 0x%x", len(ref.SMC))
	}
}

func TestTranscode(t *testing.T) {
	cpu, _ := xecrypt.ParseCPUKey("00112233445566778899AABBCCDDEEFF")
	fix := buildBody(t, ModeGlitch, cpu)
	ref, _ := buildReference(t)

	res, err := Transcode(fix.body, ref, cpu, nand.KindSmallBlock)
	if err != nil {
		t.Fatalf("Transcode: %v", err)
	}
	if res.NoOp {
		t.Fatalf("converted run reported as no-op")
	}
	if res.PreviousMode != ModeGlitch {
		t.Errorf("previous mode: %v", res.PreviousMode)
	}
	if len(res.Body) != len(fix.body) {
		t.Fatalf("body length changed: 0x%x -> 0x%x", len(fix.body), len(res.Body))
	}

	// The SMC must decrypt to a NAND-timing config with the small-block
	// timing parameters.
	smc := xecrypt.DecryptSMC(res.Body[fixSMCOff : fixSMCOff+fixSMCLen])
	cfg, err := ParseConfigBlock(smc)
	if err != nil {
		t.Fatalf("output SMC: %v", err)
	}
	want := nandTimings[nand.KindSmallBlock]
	if cfg.Mode != ModeNandTiming || cfg.PLL != want.PLL || cfg.Timing != want.Value {
		t.Errorf("output config: %+v, want mode NAND-timing %+v", cfg, want)
	}

	// The loader stack must be RGH3 CB_A, payload, then the decrypted CB_B.
	off := fixCBAOff
	if !bytes.Equal(res.Body[off:off+len(ref.CBA.Data)], ref.CBA.Data) {
		t.Errorf("CB_A not replaced")
	}
	off += len(ref.CBA.Data)
	if !bytes.Equal(res.Body[off:off+len(ref.Payload.Data)], ref.Payload.Data) {
		t.Errorf("payload not spliced")
	}
	off += len(ref.Payload.Data)
	if !bytes.Equal(res.Body[off:off+len(fix.cbbPlain)], fix.cbbPlain) {
		t.Errorf("CB_B not stored decrypted")
	}

	// Bytes ahead of the SMC are untouched.
	if !bytes.Equal(res.Body[:fixSMCOff], fix.body[:fixSMCOff]) {
		t.Errorf("header region modified")
	}
}

func TestTranscodeIdempotent(t *testing.T) {
	cpu, _ := xecrypt.ParseCPUKey("00112233445566778899AABBCCDDEEFF")
	fix := buildBody(t, ModeGlitch, cpu)
	ref, _ := buildReference(t)

	res, err := Transcode(fix.body, ref, cpu, nand.KindSmallBlock)
	if err != nil {
		t.Fatalf("first Transcode: %v", err)
	}
	res2, err := Transcode(res.Body, ref, cpu, nand.KindSmallBlock)
	if err != nil {
		t.Fatalf("second Transcode: %v", err)
	}
	if !res2.NoOp {
		t.Errorf("second run not a no-op")
	}
	if !bytes.Equal(res2.Body, res.Body) {
		t.Errorf("second run changed bytes")
	}
}

func TestTranscodeWrongKey(t *testing.T) {
	cpu, _ := xecrypt.ParseCPUKey("00112233445566778899AABBCCDDEEFF")
	wrong, _ := xecrypt.ParseCPUKey("FFEEDDCCBBAA99887766554433221100")
	fix := buildBody(t, ModeGlitch, cpu)
	ref, _ := buildReference(t)

	if _, err := Transcode(fix.body, ref, wrong, nand.KindSmallBlock); !errors.Is(err, xecrypt.ErrIntegrityMismatch) {
		t.Errorf("wrong key: %v, want ErrIntegrityMismatch", err)
	}
}

func TestTranscodeSMCLengthMismatch(t *testing.T) {
	cpu, _ := xecrypt.ParseCPUKey("00112233445566778899AABBCCDDEEFF")
	fix := buildBody(t, ModeGlitch, cpu)
	ref, _ := buildReference(t)

	ref.SMC = ref.SMC[:0x400]
	if _, err := Transcode(fix.body, ref, cpu, nand.KindSmallBlock); !errors.Is(err, ErrSectorNotFound) {
		t.Errorf("short reference SMC: %v, want ErrSectorNotFound", err)
	}
}

func TestTranscodeGarbledChain(t *testing.T) {
	cpu, _ := xecrypt.ParseCPUKey("00112233445566778899AABBCCDDEEFF")
	fix := buildBody(t, ModeGlitch, cpu)
	ref, _ := buildReference(t)

	fix.body[fixCBAOff] = 0x00 // destroy the CB tag
	if _, err := Transcode(fix.body, ref, cpu, nand.KindSmallBlock); !errors.Is(err, ErrSectorNotFound) {
		t.Errorf("garbled chain: %v, want ErrSectorNotFound", err)
	}
}

func TestValidateXeLL(t *testing.T) {
	raw := make([]byte, 0x100)
	copy(raw[0x40:], xellMarker)
	if err := ValidateXeLL(raw, 0x40); err != nil {
		t.Errorf("marker present: %v", err)
	}
	if err := ValidateXeLL(raw, 0x20); !errors.Is(err, ErrSectorNotFound) {
		t.Errorf("marker absent: %v, want ErrSectorNotFound", err)
	}
	if err := ValidateXeLL(raw, 0xF8); !errors.Is(err, ErrSectorNotFound) {
		t.Errorf("marker out of bounds: %v, want ErrSectorNotFound", err)
	}
}
