package completion

import "strings"

// sentinelDetector scans raw output for an exact, case-sensitive marker.
// The marker may arrive split across chunk boundaries, so the detector keeps
// an overlap window of the last len(marker)-1 bytes between feeds.
type sentinelDetector struct {
	marker string
	signal string
	tail   string
	done   bool
}

func (d *sentinelDetector) Feed(chunk string) (*Signal, bool) {
	if d.done {
		return nil, false
	}
	buf := d.tail + chunk
	if strings.Contains(buf, d.marker) {
		d.done = true
		d.tail = ""
		return &Signal{Name: d.signal}, true
	}
	if overlap := len(d.marker) - 1; len(buf) > overlap {
		d.tail = buf[len(buf)-overlap:]
	} else {
		d.tail = buf
	}
	return nil, false
}
