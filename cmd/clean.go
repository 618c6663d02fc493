package cmd

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tanq16/downpour/internal/meta"
	"github.com/tanq16/downpour/internal/output"
)

func newCleanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove leftover .meta sidecar files from the save directory",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			entries, err := os.ReadDir(saveDir)
			if err != nil {
				output.PrintError("Error reading save directory")
				os.Exit(1)
			}
			removed := 0
			for _, entry := range entries {
				if entry.IsDir() || !strings.HasSuffix(entry.Name(), meta.Suffix) {
					continue
				}
				if err := os.Remove(filepath.Join(saveDir, entry.Name())); err == nil {
					removed++
				}
			}
			if removed > 0 {
				output.PrintSuccess("Removed leftover meta files")
			} else {
				output.PrintInfo("Nothing to clean")
			}
		},
	}
	return cmd
}
