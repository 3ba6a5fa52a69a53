package parse

import "time"

// UnixMicroConcat encodes a capture time the way downstream consumers of
// recorded clouds expect it: the decimal seconds followed by the microseconds
// written into a six-character field that is left-aligned and filled with
// '0', read back as one integer.
//
// The microseconds are therefore right-padded, not left-padded:
// (1, 5) encodes as 1500000 and (1, 123456) as 1123456. This is not a
// monotonic function of real time and must not be "fixed" into sec*1e6+usec.
func UnixMicroConcat(sec, usec int64) int64 {
	if usec < 0 {
		usec = 0
	}
	digits := 1
	for v := usec; v >= 10; v /= 10 {
		digits++
	}
	padded := usec
	for ; digits < 6; digits++ {
		padded *= 10
	}
	scale := int64(1000000)
	for ; digits > 6; digits-- {
		scale *= 10
	}
	return sec*scale + padded
}

// PacketTimestamp applies UnixMicroConcat to a capture timestamp.
func PacketTimestamp(t time.Time) int64 {
	return UnixMicroConcat(t.Unix(), int64(t.Nanosecond()/1000))
}
