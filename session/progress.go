package session

import (
	"math"
	"time"
)

const (
	baseEstimate    = 4000 * time.Millisecond
	perMiBEstimate  = 2000 * time.Millisecond
	progressCeiling = 95.0

	// FrameInterval is how often the progress bar is resampled.
	FrameInterval = 16 * time.Millisecond
	// CompleteHold is how long 100% stays on screen after a success.
	CompleteHold = 1500 * time.Millisecond
)

const (
	MsgIdle      = "processing"
	MsgPreparing = "preparing"
	MsgRemoving  = "removing background"
	MsgFinishing = "finishing"
	MsgComplete  = "complete"
)

// Progress is the cosmetic progress indicator. The inference endpoint gives no
// real progress signal, so Percent is an estimate driven by elapsed time.
type Progress struct {
	Percent float64 `json:"percent"`
	Message string  `json:"message"`
}

var idleProgress = Progress{Message: MsgIdle}

// EstimateDuration guesses how long removal takes for a source of size bytes:
// 4s plus 2s per MiB.
func EstimateDuration(size int64) time.Duration {
	perByte := float64(perMiBEstimate) / float64(1<<20)
	return baseEstimate + time.Duration(float64(size)*perByte)
}

// Ratio is elapsed/estimate clamped to [0,1].
func Ratio(elapsed, estimate time.Duration) float64 {
	if estimate <= 0 {
		return 1
	}
	r := float64(elapsed) / float64(estimate)
	return math.Max(0, math.Min(1, r))
}

func easeOutCubic(t float64) float64 {
	return 1 - math.Pow(1-t, 3)
}

// Sample maps elapsed time to a progress value. It never exceeds 95; the
// last 5% is reserved for completion.
func Sample(elapsed, estimate time.Duration) Progress {
	r := Ratio(elapsed, estimate)

	msg := MsgFinishing
	switch {
	case r < 0.2:
		msg = MsgPreparing
	case r < 0.8:
		msg = MsgRemoving
	}

	return Progress{Percent: easeOutCubic(r) * progressCeiling, Message: msg}
}
