package sensor

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"testing"
	"time"
)

// chattyHandler drives a shell subprocess that floods stdout and then idles,
// standing in for a vendor daemon.
type chattyHandler struct {
	lines int
}

func (h *chattyHandler) Cmd(ctx context.Context) *exec.Cmd {
	script := fmt.Sprintf("i=0; while [ $i -lt %d ]; do echo sample; i=$((i+1)); done; sleep 30", h.lines)
	return exec.CommandContext(ctx, "sh", "-c", script)
}

func (h *chattyHandler) Parse(line string) (Sample, bool, error) {
	if line != "sample" {
		return Sample{}, false, fmt.Errorf("unexpected line %q", line)
	}
	return Sample{Source: SourceIMU, Motion: &MotionState{}}, true, nil
}

func (h *chattyHandler) Source() Source { return SourceIMU }
func (h *chattyHandler) Device() string { return "chatty" }

func TestDevice_NextDeliversSamples(t *testing.T) {
	d := NewDevice(&chattyHandler{lines: 3}, WithBufferSize(8))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Failed to start device: %v", err)
	}
	if !d.IsRunning() {
		t.Error("Device should report running after Start")
	}

	for i := 0; i < 3; i++ {
		smp, err := d.Next(ctx)
		if err != nil {
			t.Fatalf("Next %d failed: %v", i, err)
		}
		if smp.Source != SourceIMU || smp.Motion == nil {
			t.Errorf("Next %d: unexpected sample %+v", i, smp)
		}
	}

	d.Stop()
	if d.IsRunning() {
		t.Error("Device should report stopped after Stop")
	}

	if _, err := d.Next(ctx); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Expected ErrUnavailable after Stop, got: %v", err)
	}
}

func TestDevice_StopWithFullBuffer(t *testing.T) {
	// the daemon produces far more than the channel holds and nobody
	// consumes; Stop must still return
	d := NewDevice(&chattyHandler{lines: 500}, WithBufferSize(1))

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start device: %v", err)
	}

	// wait for the parser to fill the channel and block on the next send
	deadline := time.Now().Add(2 * time.Second)
	for len(d.samples) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Device produced no samples")
		}
		time.Sleep(10 * time.Millisecond)
	}

	stopped := make(chan struct{})
	go func() {
		d.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not return: parser stuck sending on the full samples channel")
	}

	// the buffered sample is still delivered, then the device reports gone
	if smp, ok, err := d.Poll(); err != nil || !ok || smp.Motion == nil {
		t.Errorf("Expected a buffered sample after Stop, got ok=%v err=%v", ok, err)
	}
	if _, ok, err := d.Poll(); ok || !errors.Is(err, ErrUnavailable) {
		t.Errorf("Expected ErrUnavailable after the drain, got ok=%v err=%v", ok, err)
	}
}
