package transfer

import (
	"fmt"
	"time"

	"github.com/BioHazard786/warplink/internal/ui"
	"github.com/BioHazard786/warplink/internal/utils"
)

// Progress receives per-file transfer updates. *ui.TransferUI satisfies it.
type Progress interface {
	UpdateProgress(fileID int, current int64)
	MarkComplete(fileID int)
	MarkFailed(fileID int, errMsg string)
	SetState(state string)
}

var _ Progress = (*ui.TransferUI)(nil)

type nopProgress struct{}

func (nopProgress) UpdateProgress(int, int64) {}
func (nopProgress) MarkComplete(int)          {}
func (nopProgress) MarkFailed(int, string)    {}
func (nopProgress) SetState(string)           {}

func progressOrNop(p Progress) Progress {
	if p == nil {
		return nopProgress{}
	}
	return p
}

// Stats summarises a finished transfer.
type Stats struct {
	Files    int
	Bytes    int64
	Duration time.Duration
}

func RenderSummary(stats Stats) {
	speed := 0.0
	if seconds := stats.Duration.Seconds(); seconds > 0 {
		speed = float64(stats.Bytes) / seconds
	}
	fmt.Println()
	ui.RenderTransferSummary(ui.TransferSummary{
		Status:    ui.IconSuccess + " Complete",
		Files:     stats.Files,
		TotalSize: utils.FormatSize(stats.Bytes),
		Duration:  utils.FormatTimeDuration(stats.Duration),
		Speed:     utils.FormatSpeed(speed),
	})
}

func BuildFileTable(files []FileMetadata) []ui.FileTableItem {
	items := make([]ui.FileTableItem, len(files))
	for i, f := range files {
		items[i] = ui.FileTableItem{
			Index: i + 1,
			Name:  f.Name,
			Size:  int64(f.Size),
			Type:  f.Type,
		}
	}
	return items
}

func PromptConsent(files []FileMetadata) bool {
	ui.RenderFileTable(BuildFileTable(files))
	fmt.Print("\n❓ Do you want to receive these files? [Y/n] ")
	var consent string
	fmt.Scanln(&consent)
	return consent != "n" && consent != "N"
}
