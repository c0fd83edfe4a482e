package capture

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"golang.org/x/mod/semver"

	"github.com/thunderstriders/lapcounter/log"
	"github.com/thunderstriders/lapcounter/pkg/model"
)

const (
	// MinProtocol is the oldest detection stream protocol we understand
	MinProtocol = "v1.0.0"
	maxLineSize = 4 << 20
)

var ErrUnsupportedProtocol = errors.New("unsupported detection stream protocol")

type wireDetection struct {
	Text       string       `json:"text"`
	Confidence float64      `json:"confidence"`
	Box        [][2]float64 `json:"box"`
}

// wireLine is either the stream header or a frame
type wireLine struct {
	Protocol   *string         `json:"protocol"`
	Frame      *int64          `json:"frame"`
	Timestamp  *float64        `json:"ts"`
	Detections []wireDetection `json:"detections"`
}

// CheckProtocol verifies that a stream announcing version v can be consumed
func CheckProtocol(v string) error {
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return fmt.Errorf("%w: invalid version %q", ErrUnsupportedProtocol, v)
	}
	if semver.Major(v) != semver.Major(MinProtocol) || semver.Compare(v, MinProtocol) < 0 {
		return fmt.Errorf("%w: %s (need %s.x >= %s)",
			ErrUnsupportedProtocol, v, semver.Major(MinProtocol), MinProtocol)
	}
	return nil
}

// Decoder reads newline delimited json produced by the recognizer.
// An optional first line {"protocol":"v1.x.y"} announces the protocol version.
// Frames may carry their capture time as unix seconds in "ts".
type Decoder struct {
	sc       *bufio.Scanner
	lines    int
	frames   int64
	skipped  int
	protocol string
	l        *log.Logger
}

func NewDecoder(r io.Reader) *Decoder {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineSize)
	return &Decoder{sc: sc, l: log.Default().Named("capture")}
}

// Protocol returns the announced protocol, empty if the stream has no header
func (d *Decoder) Protocol() string { return d.protocol }

// Skipped returns the number of malformed lines
func (d *Decoder) Skipped() int { return d.skipped }

// Next returns the next frame. Malformed lines are skipped.
// Returns io.EOF at the end of the stream.
func (d *Decoder) Next() (model.Frame, error) {
	for d.sc.Scan() {
		d.lines++
		raw := bytes.TrimSpace(d.sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		var line wireLine
		if err := json.Unmarshal(raw, &line); err != nil {
			d.skip("malformed line", err)
			continue
		}
		if line.Protocol != nil {
			if d.frames > 0 || d.protocol != "" {
				d.skip("unexpected protocol header", nil)
				continue
			}
			if err := CheckProtocol(*line.Protocol); err != nil {
				return model.Frame{}, err
			}
			d.protocol = *line.Protocol
			continue
		}
		if line.Frame == nil {
			d.skip("line without frame number", nil)
			continue
		}
		d.frames++
		return toFrame(*line.Frame, line.Timestamp, line.Detections), nil
	}
	if err := d.sc.Err(); err != nil {
		return model.Frame{}, fmt.Errorf("read detection stream: %w", err)
	}
	return model.Frame{}, io.EOF
}

func (d *Decoder) skip(msg string, err error) {
	d.skipped++
	fields := []log.Field{log.Int("line", d.lines)}
	if err != nil {
		fields = append(fields, log.ErrorField(err))
	}
	d.l.Warn(msg, fields...)
}

func toFrame(seq int64, ts *float64, dets []wireDetection) model.Frame {
	ret := model.Frame{Seq: seq, Candidates: make([]model.Candidate, 0, len(dets))}
	if ts != nil && *ts > 0 && !math.IsInf(*ts, 0) {
		sec, frac := math.Modf(*ts)
		ret.Time = time.Unix(int64(sec), int64(math.Round(frac*1e9)))
	}
	for _, det := range dets {
		c := model.Candidate{Text: det.Text, Confidence: det.Confidence}
		for _, p := range det.Box {
			c.Region = append(c.Region, model.Point{X: p[0], Y: p[1]})
		}
		ret.Candidates = append(ret.Candidates, c)
	}
	return ret
}
