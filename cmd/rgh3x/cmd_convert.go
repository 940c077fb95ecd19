package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/xenomit/rgh3x/pkg/rgh3"
)

var (
	convertCPUKey     string
	convertCPUKeyFile string
	convertBestEffort bool
)

var convertCmd = &cobra.Command{
	Use:   "convert [eccfile] [infile] [outfile]",
	Short: "Convert a glitch-mode flash image to NAND-timing mode",
	Long: `Converts the flash image in infile to RGH3 using the RGH3 SMC and
bootloaders from eccfile, and writes the result to outfile. Input files may
be xz-compressed. The CPU key is taken from --cpukey, --cpukey-file,
cpukey.bin/cpukey.txt in the working directory, or the user config directory,
in that order.`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		cpu, err := resolveCPUKey(convertCPUKey, convertCPUKeyFile)
		if err != nil {
			return err
		}

		slog.Info("Loading ECC reference...", "path", args[0])
		eccb, err := readInput(args[0])
		if err != nil {
			return err
		}
		slog.Info("Loading flash image...", "path", args[1])
		inb, err := readInput(args[1])
		if err != nil {
			return err
		}

		out, err := rgh3.Convert(eccb, inb, cpu, rgh3.Options{BestEffort: convertBestEffort})
		if err != nil {
			return err
		}
		for _, w := range out.Warnings {
			slog.Warn(w.Error())
		}
		if out.NoOp {
			slog.Info("Image is already in NAND-timing mode, writing it back unchanged.")
		}

		if err := os.WriteFile(args[2], out.Image, 0644); err != nil {
			return err
		}
		slog.Info("Done.", "path", args[2])
		return nil
	},
}
