package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/xenomit/rgh3x/pkg/bootcfg"
	"github.com/xenomit/rgh3x/pkg/nand"
	"github.com/xenomit/rgh3x/pkg/xecrypt"
)

var infoCPUKey string

var infoCmd = &cobra.Command{
	Use:   "info [infile]",
	Short: "Show geometry, bootloader chain and hack mode of a flash image",
	Long: `Prints what the converter would find in the image: flash geometry and
kind, the SMC config block, the leading bootloader chain, and any factory bad
blocks. With a CPU key, also decrypts CB_B to check the key against the
image.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := readInput(args[0])
		if err != nil {
			return err
		}
		img, err := nand.NewImage(raw)
		if err != nil {
			return err
		}
		kind, err := nand.DetectKind(img)
		if err != nil {
			return err
		}
		fmt.Printf("Geometry: %d pages of %d+%d bytes\n", img.PageCount(), img.Geometry().PageSize, img.Geometry().SpareSize)
		fmt.Printf("Flash:    %s\n", kind)

		body := raw
		if img.Geometry().HasSpare() {
			if body, err = nand.StripSpare(raw); err != nil {
				return err
			}
		}
		layout, err := bootcfg.ParseLayout(body, 2)
		if err != nil {
			return err
		}
		fmt.Printf("SMC:      0x%x bytes at 0x%x\n", layout.SMCLength, layout.SMCOffset)
		smc := xecrypt.DecryptSMC(body[layout.SMCOffset : layout.SMCOffset+layout.SMCLength])
		if cfg, err := bootcfg.ParseConfigBlock(smc); err != nil {
			slog.Warn("Could not decode SMC config block", "err", err)
		} else {
			fmt.Printf("Mode:     %s (PLL 0x%02x, timing 0x%04x)\n", cfg.Mode, cfg.PLL, cfg.Timing)
		}
		for _, l := range layout.Loaders {
			fmt.Printf("Loader:   %s at 0x%08x\n", l.Header.String(), l.Offset)
		}

		bbt := nand.BuildBadBlockTable(img, kind)
		for b := 0; b < bbt.Blocks(); b++ {
			if bbt.IsBad(b) {
				fmt.Printf("Bad:      block 0x%x\n", b)
			}
		}

		if infoCPUKey != "" {
			cpu, err := xecrypt.ParseCPUKey(infoCPUKey)
			if err != nil {
				return err
			}
			cba, cbb := layout.Loaders[0], layout.Loaders[1]
			_, cbaKey, err := xecrypt.DecryptCBA(cba.Data)
			if err != nil {
				return err
			}
			cbbPlain, err := xecrypt.DecryptCBB(cbb.Data, cbaKey, cpu)
			if err != nil {
				return err
			}
			if err := xecrypt.VerifyCBB(cbbPlain); err != nil {
				return fmt.Errorf("CPU key does not match this image: %w", err)
			}
			fmt.Printf("CPU key:  matches image\n")
		}
		return nil
	},
}
