package output

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/tanq16/downpour/internal/task"
	"github.com/tanq16/downpour/internal/utils"
	"golang.org/x/term"
)

// Display periodically renders task snapshots as an in-place progress
// table. It is a pure consumer of the snapshot API.
type Display struct {
	snapshot  func() []task.Info
	doneCh    chan struct{}
	wg        sync.WaitGroup
	lastLines int
	tick      time.Duration
}

func NewDisplay(snapshot func() []task.Info) *Display {
	return &Display{
		snapshot: snapshot,
		doneCh:   make(chan struct{}),
		tick:     300 * time.Millisecond,
	}
}

func (d *Display) Start() {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ticker := time.NewTicker(d.tick)
		defer ticker.Stop()
		for {
			select {
			case <-d.doneCh:
				d.render()
				return
			case <-ticker.C:
				d.render()
			}
		}
	}()
}

func (d *Display) Stop() {
	close(d.doneCh)
	d.wg.Wait()
	fmt.Println()
}

func termWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		return 100
	}
	return width
}

func (d *Display) render() {
	infos := d.snapshot()
	width := termWidth()

	// Move the cursor up over the previous frame
	if d.lastLines > 0 {
		fmt.Printf("\033[%dA", d.lastLines)
	}

	var sb strings.Builder
	for _, info := range infos {
		line := formatTaskLine(info)
		if len(line) > width {
			line = line[:width]
		}
		sb.WriteString("\033[2K" + line + "\n")
	}
	fmt.Print(sb.String())
	d.lastLines = len(infos)
}

func formatTaskLine(info task.Info) string {
	var symbol, name string
	switch info.State {
	case task.Completed:
		symbol = successStyle.Render(StyleSymbols["pass"])
	case task.Failed:
		symbol = errorStyle.Render(StyleSymbols["fail"])
	case task.Cancelled:
		symbol = warningStyle.Render(StyleSymbols["warning"])
	case task.Downloading:
		symbol = pendingStyle.Render(StyleSymbols["pending"])
	default:
		symbol = detailStyle.Render(StyleSymbols["bullet"])
	}
	name = info.FileName
	if name == "" {
		name = info.URL
	}

	p := info.Progress
	switch info.State {
	case task.Downloading:
		return fmt.Sprintf("%s %s  %5.1f%%  %s  ETA %s", symbol, name, p.Percent,
			utils.FormatSpeed(p.SpeedBytesPerSec), utils.FormatETA(p.RemainingSeconds))
	case task.Failed:
		return fmt.Sprintf("%s %s  %s", symbol, name, info.ErrorMessage)
	case task.Completed:
		return fmt.Sprintf("%s %s  %s", symbol, name, utils.FormatBytes(uint64(p.DownloadedBytes)))
	default:
		return fmt.Sprintf("%s %s  %s", symbol, name, info.State.String())
	}
}
