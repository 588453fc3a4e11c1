package engine

import (
	"bytes"
	"strings"

	"github.com/imagewriter/flashctl/pkg/size"
)

// phasePrefix starts a phase marker line from the writer.
const phasePrefix = "[flash] Phase "

// ScanCRLFLines is a bufio.SplitFunc that splits on a single CR or LF. dd
// rewrites its progress line with CR, so both must end a line.
func ScanCRLFLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// LineKind classifies one line of writer output.
type LineKind int

const (
	LineOther LineKind = iota
	LineProgress
	LinePhase
)

// Line is a parsed line of writer output.
type Line struct {
	Kind  LineKind
	Bytes size.Bytes
	Speed string
	Phase string
}

// ParseLine recognises dd progress lines such as
//
//	1048576 bytes (1.0 MB, 1.0 MiB) copied, 0.5 s, 2.1 MB/s
//
// and phase markers such as "[flash] Phase 1/2: Writing".
func ParseLine(text string) Line {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, phasePrefix) {
		return Line{Kind: LinePhase, Phase: strings.TrimSpace(strings.TrimPrefix(text, "[flash] "))}
	}

	count, rest, ok := strings.Cut(text, " ")
	if !ok || !strings.HasPrefix(rest, "bytes") {
		return Line{}
	}
	n, err := size.Parse(count)
	if err != nil {
		return Line{}
	}

	line := Line{Kind: LineProgress, Bytes: n}
	if fields := strings.Split(text, ", "); len(fields) > 1 {
		line.Speed = strings.TrimSpace(fields[len(fields)-1])
	}
	return line
}
