package bootcfg

import (
	"github.com/xenomit/rgh3x/pkg/nand"
)

// Timing is a NAND-timing mode parameter set: which PLL the SMC watches and
// the delay value it programs.
type Timing struct {
	PLL   byte
	Value uint16
}

// nandTimings holds the known-good NAND-timing parameters per flash kind.
// These are fixed reference values: the NAND-timing and glitch modes are not
// numerically related, so nothing here is ever derived from the input image.
var nandTimings = map[nand.FlashKind]Timing{
	nand.KindSmallBlock: {PLL: 0x10, Value: 0x01D4},
	nand.KindBigOnSmall: {PLL: 0x10, Value: 0x01D4},
	nand.KindBigBlock:   {PLL: 0x10, Value: 0x0208},
	nand.KindNoSpare4G:  {PLL: 0x1B, Value: 0x0208},
}
