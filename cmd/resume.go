package cmd

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/tanq16/downpour/internal/manager"
	"github.com/tanq16/downpour/internal/output"
	"github.com/tanq16/downpour/internal/utils"
)

func newResumeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Recover interrupted downloads from .meta files and resume them",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			utils.InitLogger(debug)
			mgr := manager.New(buildManagerConfig())
			defer mgr.Shutdown()

			recovered := mgr.Recover()
			if recovered == 0 {
				output.PrintInfo("Nothing to resume")
				return
			}
			output.PrintInfo("Resuming interrupted downloads")
			for _, info := range mgr.List() {
				mgr.Resume(info.ID)
			}
			if !runAndWait(mgr) {
				output.PrintError("Encountered failed download(s)")
				os.Exit(1)
			}
			output.PrintSuccess("All downloads completed")
		},
	}
	return cmd
}
