package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/xenomit/rgh3x/pkg/ecc"
	"github.com/xenomit/rgh3x/pkg/nand"
)

var (
	eccFlashKind string
	eccOutFile   string
	uneccOutFile string
)

func parseFlashKind(s string) (nand.FlashKind, error) {
	switch s {
	case "small":
		return nand.KindSmallBlock, nil
	case "bigonsmall":
		return nand.KindBigOnSmall, nil
	case "big":
		return nand.KindBigBlock, nil
	default:
		return nand.KindUnknown, fmt.Errorf("unknown flash kind %q (want 'small', 'bigonsmall' or 'big')", s)
	}
}

var eccCmd = &cobra.Command{
	Use:   "ecc [infile]",
	Short: "Add spare data and ECC to a plain image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := parseFlashKind(eccFlashKind)
		if err != nil {
			return err
		}
		plain, err := readInput(args[0])
		if err != nil {
			return err
		}
		raw, err := nand.Interleave(plain, kind)
		if err != nil {
			return err
		}
		if err := ecc.EncodeAll(raw); err != nil {
			return err
		}
		out := eccOutFile
		if out == "" {
			out = args[0] + ".ecc"
		}
		if err := os.WriteFile(out, raw, 0644); err != nil {
			return err
		}
		slog.Info("Done.", "path", out)
		return nil
	},
}

var uneccCmd = &cobra.Command{
	Use:   "unecc [infile]",
	Short: "Strip spare data from a raw image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := readInput(args[0])
		if err != nil {
			return err
		}
		plain, err := nand.StripSpare(raw)
		if err != nil {
			return err
		}
		out := uneccOutFile
		if out == "" {
			out = args[0] + ".unecc"
		}
		if err := os.WriteFile(out, plain, 0644); err != nil {
			return err
		}
		slog.Info("Done.", "path", out)
		return nil
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify [infile]",
	Short: "Verify the per-page ECC of a raw image",
	Long: `Recomputes the ECC of every page and lists mismatches. Pages in blocks
carrying a factory bad-block marker are skipped.`,
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
		if !img.Geometry().HasSpare() {
			return fmt.Errorf("image carries no spare data, nothing to verify")
		}
		kind, err := nand.DetectKind(img)
		if err != nil {
			return err
		}
		slog.Info("Verifying", "kind", kind.String(), "pages", img.PageCount())
		bbt := nand.BuildBadBlockTable(img, kind)
		pageErrs := ecc.VerifyImage(img, kind, bbt)
		for _, pe := range pageErrs {
			slog.Error(pe.Error())
		}
		if len(pageErrs) > 0 {
			return fmt.Errorf("%d pages failed ECC verification", len(pageErrs))
		}
		slog.Info("All pages valid.")
		return nil
	},
}
