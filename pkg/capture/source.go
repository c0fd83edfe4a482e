package capture

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/thunderstriders/lapcounter/log"
	"github.com/thunderstriders/lapcounter/pkg/model"
)

const (
	DevicePlaceholder    = "{device}"
	DefaultDeviceTimeout = 10 * time.Second
)

var (
	ErrNoDevice      = errors.New("no capture device available")
	ErrDeviceTimeout = errors.New("device produced no output in time")
)

// DefaultDevices is the preferred camera index followed by the fallbacks
var DefaultDevices = []int{1, 0, 2, 3}

// Opener starts the recognizer for a camera device and returns its detection stream
type Opener func(ctx context.Context, device int) (io.ReadCloser, error)

// CommandOpener runs the recognizer command line, replacing {device} with the device index.
// The process is killed when the returned stream is closed or ctx is done.
func CommandOpener(cmdLine string, stderr io.Writer) Opener {
	return func(ctx context.Context, device int) (io.ReadCloser, error) {
		args := strings.Fields(strings.ReplaceAll(cmdLine, DevicePlaceholder, strconv.Itoa(device)))
		if len(args) == 0 {
			return nil, errors.New("empty recognizer command")
		}
		//nolint:gosec // command is configured by the operator
		cmd := exec.CommandContext(ctx, args[0], args[1:]...)
		cmd.Stderr = stderr
		out, err := cmd.StdoutPipe()
		if err != nil {
			return nil, err
		}
		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("start recognizer: %w", err)
		}
		log.Debug("recognizer started",
			log.Int("device", device), log.Int("pid", cmd.Process.Pid))
		return &cmdStream{ReadCloser: out, cmd: cmd}, nil
	}
}

type cmdStream struct {
	io.ReadCloser
	cmd  *exec.Cmd
	once sync.Once
}

func (c *cmdStream) Close() error {
	c.once.Do(func() {
		//nolint:errcheck // process may already be gone
		c.cmd.Process.Kill()
		//nolint:errcheck // exit status of a killed process
		c.cmd.Wait()
	})
	return nil
}

// FileOpener reads a recorded detection stream, "-" reads stdin
func FileOpener(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(path)
}

// OpenFirst tries the devices in order and returns the stream of the first one
// producing output within timeout.
//
//nolint:whitespace // editor/linter issue
func OpenFirst(
	ctx context.Context, devices []int, timeout time.Duration, open Opener,
) (io.ReadCloser, int, error) {
	errs := make([]error, 0, len(devices))
	for _, dev := range devices {
		rc, err := tryDevice(ctx, dev, timeout, open)
		if err == nil {
			log.Info("using capture device", log.Int("device", dev))
			return rc, dev, nil
		}
		if ctx.Err() != nil {
			return nil, -1, ctx.Err()
		}
		log.Warn("capture device unavailable", log.Int("device", dev), log.ErrorField(err))
		errs = append(errs, fmt.Errorf("device %d: %w", dev, err))
	}
	return nil, -1, fmt.Errorf("%w (tried %v): %w", ErrNoDevice, devices, errors.Join(errs...))
}

type firstLine struct {
	line []byte
	err  error
}

//nolint:whitespace // editor/linter issue
func tryDevice(
	ctx context.Context, dev int, timeout time.Duration, open Opener,
) (io.ReadCloser, error) {
	rc, err := open(ctx, dev)
	if err != nil {
		return nil, err
	}
	br := bufio.NewReader(rc)
	ch := make(chan firstLine, 1)
	go func() {
		line, err := br.ReadBytes('\n')
		ch <- firstLine{line: line, err: err}
	}()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case r := <-ch:
		if len(bytes.TrimSpace(r.line)) == 0 && r.err != nil {
			rc.Close()
			return nil, fmt.Errorf("no output: %w", r.err)
		}
		return &replayStream{Reader: io.MultiReader(bytes.NewReader(r.line), br), closer: rc}, nil
	case <-timer.C:
		rc.Close()
		return nil, ErrDeviceTimeout
	case <-ctx.Done():
		rc.Close()
		return nil, ctx.Err()
	}
}

// replayStream returns the first line read while opening before the rest of the stream
type replayStream struct {
	io.Reader
	closer io.Closer
}

func (r *replayStream) Close() error { return r.closer.Close() }

// Run decodes frames from rc and hands them to handle until the stream ends or ctx is done.
// The stream is closed when Run returns.
func Run(ctx context.Context, rc io.ReadCloser, handle func(model.Frame)) (int64, error) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		rc.Close()
	}()

	dec := NewDecoder(rc)
	var frames int64
	for {
		frame, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return frames, nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return frames, nil
			}
			return frames, err
		}
		frames++
		handle(frame)
		if ctx.Err() != nil {
			return frames, nil
		}
	}
}

// WatchQuit calls quit when the operator enters "q" on r
func WatchQuit(r io.Reader, quit func()) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if strings.EqualFold(strings.TrimSpace(sc.Text()), "q") {
			quit()
			return
		}
	}
}
