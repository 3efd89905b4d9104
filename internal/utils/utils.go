package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Chunk sizing and flow control for data channel transfers.
const (
	MinChunkSize     = 4 * 1024
	MaxChunkSize     = 64 * 1024
	DefaultChunkSize = 16 * 1024
	HighWaterMark    = 2 * 1024 * 1024 // pause sending above this many buffered bytes
	LowWaterMark     = 512 * 1024      // resume below this

	SendTimeout   = 60 * time.Second
	SignalTimeout = 30 * time.Second
	DrainTimeout  = 30 * time.Second
)

// Speed bands in bytes per second. Anything above SpeedFastThreshold
// gets MaxChunkSize.
const (
	SpeedVerySlowThreshold = 50 * 1024
	SpeedSlowThreshold     = 200 * 1024
	SpeedMediumThreshold   = 500 * 1024
	SpeedFastThreshold     = 1024 * 1024
)

// ChunkSizeController adapts the chunk size to the measured throughput.
type ChunkSizeController struct {
	mu        sync.Mutex
	size      int
	pending   int64
	lastCheck time.Time
	speed     float64
}

func NewChunkSizeController() *ChunkSizeController {
	return &ChunkSizeController{
		size:      DefaultChunkSize,
		lastCheck: time.Now(),
	}
}

func (c *ChunkSizeController) GetChunkSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// RecordBytesTransferred accounts for n sent bytes and re-evaluates the
// chunk size every 500ms or every ten chunks, whichever comes first.
func (c *ChunkSizeController) RecordBytesTransferred(n int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pending += n
	elapsed := time.Since(c.lastCheck)
	if elapsed >= 500*time.Millisecond || c.pending >= int64(c.size*10) {
		c.adjust(elapsed)
	}
}

func (c *ChunkSizeController) adjust(elapsed time.Duration) {
	if elapsed <= 0 {
		return
	}

	sample := float64(c.pending) / elapsed.Seconds()
	if c.speed > 0 {
		c.speed = c.speed*0.7 + sample*0.3
	} else {
		c.speed = sample
	}

	// Step a quarter of the way toward the target so the size doesn't
	// oscillate between bands.
	target := TargetChunkSize(c.speed, c.size)
	next := c.size + int(float64(target-c.size)*0.25)
	c.size = max(MinChunkSize, min(MaxChunkSize, next))

	c.pending = 0
	c.lastCheck = time.Now()
}

// TargetChunkSize maps a speed to a chunk size. A non-positive speed
// keeps current.
func TargetChunkSize(speed float64, current int) int {
	switch {
	case speed <= 0:
		return current
	case speed < SpeedVerySlowThreshold:
		return MinChunkSize
	case speed < SpeedSlowThreshold:
		return 8 * 1024
	case speed < SpeedMediumThreshold:
		return 16 * 1024
	case speed < SpeedFastThreshold:
		return 32 * 1024
	default:
		return MaxChunkSize
	}
}

// GetSpeed returns the smoothed speed in bytes per second.
func (c *ChunkSizeController) GetSpeed() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speed
}

func FormatSize(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.2f GB", float64(bytes)/GB)
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/MB)
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/KB)
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

func FormatSpeed(bytesPerSecond float64) string {
	const (
		KB = 1024.0
		MB = KB * 1024
	)

	switch {
	case bytesPerSecond >= MB:
		return fmt.Sprintf("%.2f MB/s", bytesPerSecond/MB)
	case bytesPerSecond >= KB:
		return fmt.Sprintf("%.2f KB/s", bytesPerSecond/KB)
	default:
		return fmt.Sprintf("%.0f B/s", bytesPerSecond)
	}
}

func FormatTimeDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	switch {
	case hours > 0:
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}

// TruncateString shortens s to at most maxLen runes, ending in "...".
func TruncateString(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}

// GetUniqueFilename appends " (1)", " (2)", ... before the extension until
// the name is free.
func GetUniqueFilename(filename string) string {
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return filename
	}

	ext := filepath.Ext(filename)
	base := filename[:len(filename)-len(ext)]
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s (%d)%s", base, i, ext)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}
