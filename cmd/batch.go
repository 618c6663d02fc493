package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tanq16/downpour/internal/manager"
	"github.com/tanq16/downpour/internal/output"
	"github.com/tanq16/downpour/internal/utils"
	"gopkg.in/yaml.v3"
)

type BatchEntry struct {
	Link    string `yaml:"link"`
	Dir     string `yaml:"dir,omitempty"`
	Referer string `yaml:"referer,omitempty"`
	Cookie  string `yaml:"cookie,omitempty"`
}

type BatchFile struct {
	Downloads []BatchEntry `yaml:"downloads"`
}

func newBatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch [YAML_FILE]",
		Short: "Process multiple downloads from a YAML file",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			data, err := os.ReadFile(args[0])
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error reading YAML file: %v\n", err)
				os.Exit(1)
			}
			var batchFile BatchFile
			if err := yaml.Unmarshal(data, &batchFile); err != nil {
				fmt.Fprintf(os.Stderr, "Error parsing YAML file: %v\n", err)
				os.Exit(1)
			}
			utils.InitLogger(debug)
			mgr := manager.New(buildManagerConfig())
			defer mgr.Shutdown()

			added := 0
			for _, entry := range batchFile.Downloads {
				if entry.Link == "" {
					fmt.Fprintf(os.Stderr, "Warning: Empty link in batch file, skipping...\n")
					continue
				}
				dir := entry.Dir
				if dir == "" {
					dir = saveDir
				}
				mgr.Add(entry.Link, dir, entry.Referer, entry.Cookie)
				added++
			}
			if added == 0 {
				fmt.Fprintf(os.Stderr, "No valid entries found in the batch file\n")
				os.Exit(1)
			}
			if !runAndWait(mgr) {
				output.PrintError("Encountered failed download(s)")
				os.Exit(1)
			}
		},
	}
	return cmd
}
