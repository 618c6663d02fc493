package cmd

import (
	"fmt"
	u "net/url"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/tanq16/downpour/internal/manager"
	"github.com/tanq16/downpour/internal/output"
	"github.com/tanq16/downpour/internal/task"
	"github.com/tanq16/downpour/internal/utils"
)

var (
	saveDir        string
	connections    int
	maxConcurrent  int
	speedLimit     int64
	timeout        time.Duration
	connectTimeout time.Duration
	userAgent      string
	proxyURL       string
	proxyUsername  string
	proxyPassword  string
	referer        string
	cookie         string
	headers        []string
	insecure       bool
	debug          bool
)

var DownpourVersion = "dev"

var rootCmd = &cobra.Command{
	Use:     "downpour [URL]...",
	Short:   "Downpour is a resumable multi-connection download manager",
	Version: DownpourVersion,
	Args:    cobra.ArbitraryArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) == 0 {
			output.PrintError("No URL provided")
			os.Exit(1)
		}
		for _, arg := range args {
			if _, err := u.Parse(arg); err != nil {
				output.PrintError(fmt.Sprintf("Invalid URL: %s", arg))
				os.Exit(1)
			}
		}
		utils.InitLogger(debug)
		mgr := manager.New(buildManagerConfig())
		defer mgr.Shutdown()
		for _, arg := range args {
			mgr.Add(arg, saveDir, referer, cookie)
		}
		if !runAndWait(mgr) {
			output.PrintError("Encountered failed download(s)")
			os.Exit(1)
		}
	},
}

func buildManagerConfig() manager.Config {
	if userAgent == "randomize" {
		userAgent = utils.GetRandomUserAgent()
	}
	// Proxy URLs may carry auth inline
	parsedProxy, err := u.Parse(proxyURL)
	if err == nil && parsedProxy.User != nil && proxyUsername == "" {
		proxyUsername = parsedProxy.User.Username()
		if password, set := parsedProxy.User.Password(); set {
			proxyPassword = password
		}
		parsedProxy.User = nil
		proxyURL = parsedProxy.String()
	}
	return manager.Config{
		DefaultSaveDir:     saveDir,
		MaxBlocksPerTask:   connections,
		MaxConcurrentTasks: maxConcurrent,
		SpeedLimit:         speedLimit,
		HTTPClientConfig: utils.HTTPClientConfig{
			ConnectTimeout:  connectTimeout,
			TransferTimeout: timeout,
			ProxyURL:        proxyURL,
			ProxyUsername:   proxyUsername,
			ProxyPassword:   proxyPassword,
			UserAgent:       userAgent,
			SkipTLSVerify:   insecure,
			Headers:         utils.ParseHeaderArgs(headers),
		},
	}
}

// runAndWait renders progress until every task is terminal and reports
// whether all of them completed.
func runAndWait(mgr *manager.Manager) bool {
	display := output.NewDisplay(mgr.List)
	display.Start()
	defer display.Stop()

	for {
		infos := mgr.List()
		allDone := len(infos) > 0
		allOK := true
		for _, info := range infos {
			if !info.State.Terminal() {
				allDone = false
			}
			if info.State == task.Failed || info.State == task.Cancelled {
				allOK = false
			}
		}
		if allDone {
			return allOK
		}
		time.Sleep(200 * time.Millisecond)
	}
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&saveDir, "output", "o", ".", "Directory to save downloads into")
	rootCmd.PersistentFlags().IntVarP(&connections, "connections", "c", 8, "Connections (blocks) per download")
	rootCmd.PersistentFlags().IntVar(&maxConcurrent, "concurrent", 3, "Maximum concurrent downloads")
	rootCmd.PersistentFlags().Int64Var(&speedLimit, "speed-limit", 0, "Global speed limit in bytes/s (0 = unlimited)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 0, "Whole-transfer timeout (0 = unbounded)")
	rootCmd.PersistentFlags().DurationVar(&connectTimeout, "connect-timeout", 30*time.Second, "Connection timeout")
	rootCmd.PersistentFlags().StringVarP(&userAgent, "user-agent", "a", "", "Custom user agent (use 'randomize' for a random one)")
	rootCmd.PersistentFlags().StringVarP(&proxyURL, "proxy", "p", "", "Proxy URL (e.g., http://proxy:8080)")
	rootCmd.PersistentFlags().StringVar(&proxyUsername, "proxy-username", "", "Proxy username")
	rootCmd.PersistentFlags().StringVar(&proxyPassword, "proxy-password", "", "Proxy password")
	rootCmd.PersistentFlags().StringVar(&referer, "referer", "", "Referer header to send")
	rootCmd.PersistentFlags().StringVar(&cookie, "cookie", "", "Cookie header to send")
	rootCmd.PersistentFlags().StringArrayVarP(&headers, "header", "H", nil, "Custom headers (key: value), repeatable")
	rootCmd.PersistentFlags().BoolVarP(&insecure, "insecure", "k", false, "Skip TLS certificate verification")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(newBatchCmd())
	rootCmd.AddCommand(newResumeCmd())
	rootCmd.AddCommand(newCleanCmd())
}
