package ffmpeg

import (
	"regexp"
	"strconv"
	"strings"
	"sync"
)

type ParserState int

const (
	AwaitingDuration ParserState = iota
	StreamingProgress
	Terminal
)

func (s ParserState) String() string {
	switch s {
	case AwaitingDuration:
		return "awaiting-duration"
	case StreamingProgress:
		return "streaming-progress"
	case Terminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// Sample is one completed -progress block.
type Sample struct {
	ElapsedSec  float64
	TotalBytes  int64
	DurationSec float64
	Final       bool
}

var reDuration = regexp.MustCompile(`Duration:\s*(\d+:\d{2}:\d{2}(?:\.\d+)?)`)

// Parser folds the two output streams of a progress-enabled ffmpeg run into
// samples. The streams are read concurrently, so progress blocks may arrive
// before the duration line; those samples carry DurationSec == 0.
type Parser struct {
	mu       sync.Mutex
	state    ParserState
	duration float64

	elapsed     float64
	haveElapsed bool
	bytes       int64
}

func NewParser() *Parser {
	return &Parser{state: AwaitingDuration}
}

func (p *Parser) State() ParserState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Parser) Duration() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.duration
}

// Feed consumes one line. It returns a sample when a progress block closes.
func (p *Parser) Feed(stream OutputStream, line string) (Sample, bool) {
	l := strings.TrimSpace(line)
	if l == "" {
		return Sample{}, false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == Terminal {
		return Sample{}, false
	}

	if stream == StreamStderr {
		if p.duration == 0 {
			if m := reDuration.FindStringSubmatch(l); len(m) > 1 {
				if d, ok := ParseClock(m[1]); ok && d > 0 {
					p.duration = d
					p.state = StreamingProgress
				}
			}
		}
		return Sample{}, false
	}

	key, value, ok := strings.Cut(l, "=")
	if !ok {
		return Sample{}, false
	}
	value = strings.TrimSpace(value)
	switch strings.TrimSpace(key) {
	case "out_time":
		if v, ok := ParseClock(value); ok {
			p.elapsed = v
			p.haveElapsed = true
		}
	case "out_time_us":
		if !p.haveElapsed {
			if us, err := strconv.ParseInt(value, 10, 64); err == nil && us >= 0 {
				p.elapsed = float64(us) / 1e6
				p.haveElapsed = true
			}
		}
	case "total_size":
		if n, err := strconv.ParseInt(value, 10, 64); err == nil && n >= 0 {
			p.bytes = n
		}
	case "progress":
		final := value == "end"
		if final {
			p.state = Terminal
		}
		if !p.haveElapsed && !final {
			return Sample{}, false
		}
		s := Sample{
			ElapsedSec:  p.elapsed,
			TotalBytes:  p.bytes,
			DurationSec: p.duration,
			Final:       final,
		}
		p.haveElapsed = false
		return s, true
	}
	return Sample{}, false
}

// ParseClock converts HH:MM:SS[.fraction] to seconds. Negative or N/A
// timestamps, which ffmpeg prints before the first packet, are rejected.
func ParseClock(v string) (float64, bool) {
	v = strings.TrimSpace(v)
	if v == "" || strings.HasPrefix(v, "-") {
		return 0, false
	}
	parts := strings.Split(v, ":")
	if len(parts) != 3 {
		return 0, false
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 {
		return 0, false
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, false
	}
	s, err := strconv.ParseFloat(parts[2], 64)
	if err != nil || s < 0 || s >= 60 {
		return 0, false
	}
	return float64(h)*3600 + float64(m)*60 + s, true
}
