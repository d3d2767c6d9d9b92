package stream

import "errors"

var (
	// ErrPowerMissing indicates that the reference power CSV does not exist.
	ErrPowerMissing = errors.New("stream: pcm-power csv missing")

	// ErrPowerTruncated indicates that the power CSV lacks its two header
	// rows or has no data rows at all.
	ErrPowerTruncated = errors.New("stream: pcm-power csv missing headers or data")

	// ErrRequiredColumn indicates that a column the power loader cannot work
	// without (Watts, DRAM Watts, Date, Time) is absent after normalization.
	ErrRequiredColumn = errors.New("stream: required power column missing")

	// ErrNoBandwidthColumn indicates that no MB/s column matched in the pqos
	// CSV; the bandwidth stream degrades to absent.
	ErrNoBandwidthColumn = errors.New("stream: pqos bandwidth column not found")

	// ErrNoSystemColumn indicates that the pcm-memory CSV has no usable
	// system-wide bandwidth column; the stream degrades to absent.
	ErrNoSystemColumn = errors.New("stream: system memory column not found")

	// ErrNoTimestampColumns indicates that the pcm-memory CSV flattened
	// header has no Date/Time pair; the stream degrades to absent.
	ErrNoTimestampColumns = errors.New("stream: date/time columns not found")
)
