package sensor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
)

const (
	// ParseErrorsThreshold defines the number of consecutive parse errors allowed
	ParseErrorsThreshold = 5

	// DefaultBufferSize is the default capacity of the parsed samples channel
	DefaultBufferSize = 64
)

var (
	// ErrTooManyParseErrors is returned when the number of consecutive parse errors exceeds the threshold
	ErrTooManyParseErrors = errors.New("too many consecutive parse errors")

	// ErrBrokenPipe is returned when there's an error reading from stdout or stderr
	ErrBrokenPipe = errors.New("broken pipe")
)

// Handler interface defines the methods required for handling a sensor
// daemon. Parse turns one line of daemon output into a sample; ok is false
// for lines that only update parser state or are not needed. The device owns
// sample delivery, so handlers never block.
type Handler interface {
	Cmd(ctx context.Context) *exec.Cmd
	Parse(line string) (s Sample, ok bool, err error)
	Source() Source
	Device() string
}

// WithLogger sets the logger for the device
func WithLogger(logger *slog.Logger) func(d *Device) {
	return func(d *Device) {
		d.logger = logger.With(
			slog.String("device", d.handler.Device()),
			slog.String("source", string(d.handler.Source())),
		)
	}
}

// WithParseErrorsThreshold sets the threshold for consecutive parse errors
func WithParseErrorsThreshold(threshold uint8) func(d *Device) {
	return func(d *Device) {
		d.parseErrorsThreshold = threshold
	}
}

// WithBufferSize sets the capacity of the parsed samples channel
func WithBufferSize(size int) func(d *Device) {
	return func(d *Device) {
		d.bufferSize = size
	}
}

// Device runs a vendor sensor daemon as a subprocess and turns its line
// output into Samples. It implements Session; a stopped or crashed daemon
// surfaces as ErrUnavailable from Next, after the already-parsed samples
// have been drained.
type Device struct {
	handler Handler

	samples chan Sample

	mu        sync.Mutex
	stopped   chan struct{}
	cancel    context.CancelFunc
	isRunning atomic.Bool
	wg        sync.WaitGroup

	parseErrorsThreshold uint8
	bufferSize           int
	logger               *slog.Logger
}

// NewDevice creates a new Device instance with a discard logger
func NewDevice(h Handler, options ...func(d *Device)) *Device {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // nil logger

	d := Device{
		handler:              h,
		logger:               logger,
		parseErrorsThreshold: ParseErrorsThreshold,
		bufferSize:           DefaultBufferSize,
	}

	for _, option := range options {
		option(&d)
	}

	d.samples = make(chan Sample, d.bufferSize)

	closed := make(chan struct{})
	close(closed)
	d.stopped = closed // not running until Start

	return &d
}

// Start launches the daemon subprocess and begins parsing its output.
// It may be called again after the previous run has stopped, which is how
// a disconnected sensor is retried.
func (d *Device) Start(ctx context.Context) error {
	if d.isRunning.Load() {
		return fmt.Errorf("device is already running")
	}

	d.isRunning.Store(true)

	ctx, cancel := context.WithCancel(ctx)
	cmd := d.handler.Cmd(ctx)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		d.isRunning.Store(false) // Reset running state on error
		return fmt.Errorf("error creating stdout pipe: %w", err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		d.isRunning.Store(false) // Reset running state on error
		return fmt.Errorf("error creating stderr pipe: %w", err)
	}

	if err = cmd.Start(); err != nil {
		cancel()
		d.isRunning.Store(false) // Reset running state on error
		return fmt.Errorf("error starting command: %w", err)
	}

	stopped := make(chan struct{})

	d.mu.Lock()
	d.stopped = stopped
	d.cancel = cancel
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer close(stopped)

		d.logger.Info("starting samples collection...")

		done := make(chan error, 3) // expects three results from three goroutines

		go d.handleStdout(ctx, stdout, done, cancel)
		go d.handleStderr(stderr, done)
		go d.handleCmdWait(cmd, done)

		for i := 0; i < cap(done); i++ {
			if err := <-done; err != nil {
				cancel() // cancel context on error
				d.logger.Error(err.Error())
			}
		}

		close(done)

		d.logger.Info("samples collection stopped")

		d.isRunning.Store(false)
		d.wg.Done()
	}()

	return nil
}

// Next returns the next sample in production order. When the daemon has
// stopped, samples parsed before the disconnect are still delivered; only
// then does Next report ErrUnavailable.
func (d *Device) Next(ctx context.Context) (Sample, error) {
	select {
	case s := <-d.samples:
		return s, nil
	default:
	}

	select {
	case s := <-d.samples:
		return s, nil
	case <-ctx.Done():
		return Sample{}, ctx.Err()
	case <-d.stoppedCh():
		select {
		case s := <-d.samples:
			return s, nil
		default:
			return Sample{}, ErrUnavailable
		}
	}
}

// Poll returns the next sample without blocking. The second return value is
// false when no sample is ready. ErrUnavailable is reported only once the
// daemon has stopped and every already-parsed sample has been delivered.
func (d *Device) Poll() (Sample, bool, error) {
	select {
	case s := <-d.samples:
		return s, true, nil
	default:
	}

	select {
	case <-d.stoppedCh():
		return Sample{}, false, ErrUnavailable
	default:
		return Sample{}, false, nil
	}
}

// Stop terminates the daemon subprocess and waits for collection to finish
func (d *Device) Stop() {
	if !d.isRunning.Load() {
		return // already stopped
	}

	d.mu.Lock()
	cancel := d.cancel
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	d.wg.Wait()
}

// IsRunning returns true if the daemon subprocess is running
func (d *Device) IsRunning() bool {
	return d.isRunning.Load()
}

// Source returns the sensor source this device produces
func (d *Device) Source() Source {
	return d.handler.Source()
}

func (d *Device) stoppedCh() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopped
}

// handleStdout reads from stdout, parses and sends samples to the samples channel.
func (d *Device) handleStdout(ctx context.Context, stdout io.Reader, done chan<- error, cancel context.CancelFunc) {
	var parseErrors uint8

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if line == "" {
			continue
		}

		s, ok, err := d.handler.Parse(line)
		if err != nil {
			parseErrors++
			d.logger.Warn(fmt.Sprintf("error parsing sample: %s", err.Error()), slog.String("line", line))

			if parseErrors >= d.parseErrorsThreshold {
				done <- ErrTooManyParseErrors
				cancel()
				return
			}

			continue
		}

		parseErrors = 0 // reset counter

		if !ok {
			continue
		}

		// the consumer may already be gone; a full channel must not be able
		// to strand this goroutine past Stop
		select {
		case d.samples <- s:
		case <-ctx.Done():
			done <- nil
			return
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, fs.ErrClosed) {
		done <- fmt.Errorf("%w: error reading stdout: %w", ErrBrokenPipe, err)
		return
	}

	done <- nil
}

// handleStderr reads from stderr and logs errors.
func (d *Device) handleStderr(stderr io.Reader, done chan<- error) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if line == "" {
			continue
		}

		d.logger.Warn(fmt.Sprintf("%s >> %s", d.handler.Device(), line)) // simple logging here
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, fs.ErrClosed) {
		done <- fmt.Errorf("%w: error reading stderr: %w", ErrBrokenPipe, err)
		return
	}

	done <- nil
}

// handleCmdWait waits for the command to exit and sends the error to the error channel
func (d *Device) handleCmdWait(cmd *exec.Cmd, done chan<- error) {
	if err := cmd.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		done <- fmt.Errorf("daemon exited with error: %w", err)
		return
	}

	done <- nil
}
