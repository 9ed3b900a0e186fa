package consensus

import "strings"

// DefaultSycophancyMarkers are the praise and agreement openers that mark a
// challenge as sycophantic. Calibrated on observed challenger output; the
// detector accepts a custom list so deployments can tune it.
var DefaultSycophancyMarkers = []string{
	"great answer",
	"great response",
	"excellent answer",
	"excellent proposal",
	"excellent analysis",
	"this is a good",
	"this is an excellent",
	"i agree with",
	"i largely agree",
	"i completely agree",
	"i mostly agree",
	"no significant flaws",
	"no major flaws",
	"well done",
}

// sycophancyWindow is how far into a challenge the detector looks. Praise
// buried deep in an otherwise substantive critique does not count.
const sycophancyWindow = 200

// Detector flags challenges that open with praise instead of disagreement.
type Detector struct {
	markers []string
}

// NewDetector builds a detector. An empty marker list uses the defaults.
func NewDetector(markers []string) *Detector {
	if len(markers) == 0 {
		markers = DefaultSycophancyMarkers
	}
	lowered := make([]string, len(markers))
	for i, m := range markers {
		lowered[i] = strings.ToLower(m)
	}
	return &Detector{markers: lowered}
}

// Sycophantic reports whether the leading window of the text matches any
// marker. Matching is case-insensitive after stripping leading whitespace;
// text past the window cannot flip the result.
func (d *Detector) Sycophantic(text string) bool {
	head := strings.ToLower(strings.TrimLeft(text, " \t\r\n"))
	if len(head) > sycophancyWindow {
		head = head[:sycophancyWindow]
	}
	for _, m := range d.markers {
		if strings.Contains(head, m) {
			return true
		}
	}
	return false
}
