package main

import (
	"flag"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var rootCmd = &cobra.Command{
	Use:   "rgh3x",
	Short: "rgh3x converts RGH2 Xbox 360 flash images to RGH3",
	Long: `Converts a glitch-mode (RGH2) NAND flash dump into a NAND-timing (RGH3)
one, given the console's CPU key and an RGH3 ECC reference image.

rgh3x comes with ABSOLUTELY NO WARRANTY. A wrong CPU key is detected and
aborts the conversion; a wrong ECC reference for your board is not, and will
brick the console. Bad blocks below the boot region are reported but must be
remapped by hand.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verboseLog {
			slog.SetLogLoggerLevel(slog.LevelDebug)
		}
	},
}

var verboseLog bool

func main() {
	convertCmd.Flags().StringVarP(&convertCPUKey, "cpukey", "k", "", "CPU key for the given flash image (32 hex characters)")
	convertCmd.Flags().StringVar(&convertCPUKeyFile, "cpukey-file", "", "File holding the CPU key (raw 16 bytes or 32 hex characters)")
	convertCmd.Flags().BoolVar(&convertBestEffort, "best-effort", false, "Demote uncorrectable ECC pages to warnings instead of aborting")
	eccCmd.Flags().StringVarP(&eccFlashKind, "kind", "t", "bigonsmall", "Flash kind for spare data (one of 'small', 'bigonsmall', 'big')")
	eccCmd.Flags().StringVarP(&eccOutFile, "out", "o", "", "Output path (default: input path plus '.ecc')")
	uneccCmd.Flags().StringVarP(&uneccOutFile, "out", "o", "", "Output path (default: input path plus '.unecc')")
	infoCmd.Flags().StringVarP(&infoCPUKey, "cpukey", "k", "", "CPU key to verify against the image (32 hex characters)")
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().BoolVarP(&verboseLog, "verbose", "v", false, "Enable verbose debug logging")
	rootCmd.AddCommand(convertCmd)
	rootCmd.AddCommand(eccCmd)
	rootCmd.AddCommand(uneccCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.Execute()
}

func init() {
	pflag.CommandLine.AddGoFlagSet(flag.CommandLine)
}
