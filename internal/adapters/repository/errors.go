package repository

import "errors"

// Sentinel kinds for watermark store errors.
var (
	ErrCorruptWatermark = errors.New("corrupt watermark value")
	ErrUnavailable      = errors.New("watermark store unavailable")
)
