package workers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/phuslu/log"
	"golang.org/x/sync/errgroup"

	"threadkit/internal/config"
	"threadkit/internal/thread"
)

func newTestPool(t *testing.T, count int) (*Pool, *thread.Registry) {
	t.Helper()
	r, err := thread.NewRegistry(thread.WithLogger(log.Logger{Writer: &log.IOWriter{Writer: io.Discard}}))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	p, err := New(r, config.WorkersConfig{Enabled: true, Count: count, QueueSize: 8, ScratchSize: 64})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = p.Stop(time.Second) })
	return p, r
}

func TestPoolRunsJobs(t *testing.T) {
	const jobs = 30
	p, r := newTestPool(t, 3)

	results := make([]string, jobs)
	g, ctx := errgroup.WithContext(context.Background())
	for i := range jobs {
		g.Go(func() error {
			out, err := p.Do(ctx, func(s *Scratch) {
				s.Buf = fmt.Appendf(s.Buf, "job-%d", i)
			})
			results[i] = string(out)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("Do: %v", err)
	}

	for i, got := range results {
		if want := "job-" + strconv.Itoa(i); got != want {
			t.Errorf("Expected %q, got %q", want, got)
		}
	}
	if p.Processed() != jobs {
		t.Errorf("Expected %d processed jobs, got %d", jobs, p.Processed())
	}
	if n := p.ScratchBuffers(); n < 1 || n > 3 {
		t.Errorf("Expected between 1 and 3 scratch buffers, got %d", n)
	}

	names := map[string]bool{}
	for _, info := range r.Threads() {
		names[info.Name] = true
	}
	for i := range 3 {
		if !names[fmt.Sprintf("worker-%d", i)] {
			t.Errorf("Expected worker-%d in the registry", i)
		}
	}
}

func TestScratchIsReusedPerWorker(t *testing.T) {
	p, _ := newTestPool(t, 1)

	for want := 1; want <= 3; want++ {
		out, err := p.Do(context.Background(), func(s *Scratch) {
			if len(s.Buf) != 0 {
				s.Buf = append(s.Buf, "dirty"...)
				return
			}
			s.Buf = strconv.AppendInt(s.Buf, int64(s.Uses), 10)
		})
		if err != nil {
			t.Fatalf("Do: %v", err)
		}
		if got := string(out); got != strconv.Itoa(want) {
			t.Errorf("Expected use count %d, got %q", want, got)
		}
	}
	if n := p.ScratchBuffers(); n != 1 {
		t.Errorf("Expected a single scratch buffer, got %d", n)
	}
}

func TestPauseHoldsJobs(t *testing.T) {
	p, _ := newTestPool(t, 2)

	if err := p.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if !p.Paused() {
		t.Error("Expected pool to report paused")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := p.Do(ctx, func(*Scratch) {}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected a paused pool to hold the job, got %v", err)
	}

	if err := p.Unpause(); err != nil {
		t.Fatalf("Unpause: %v", err)
	}
	out, err := p.Do(context.Background(), func(s *Scratch) { s.Buf = append(s.Buf, "ok"...) })
	if err != nil || string(out) != "ok" {
		t.Errorf("Expected job to run after Unpause, got %q %v", out, err)
	}
}

func TestStopFreesScratch(t *testing.T) {
	p, r := newTestPool(t, 2)

	for range 4 {
		if _, err := p.Do(context.Background(), func(s *Scratch) { s.Buf = append(s.Buf, 'x') }); err != nil {
			t.Fatalf("Do: %v", err)
		}
	}
	if err := p.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if err := p.Stop(time.Second); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if _, err := p.Do(context.Background(), func(*Scratch) {}); !errors.Is(err, ErrStopped) {
		t.Errorf("Expected ErrStopped after Stop, got %v", err)
	}
	st := r.Stats()
	if st.LivePayloads() != 0 {
		t.Errorf("Expected all scratch buffers freed, %d still live", st.LivePayloads())
	}
	if p.scratchFreed.Load() != st.PayloadsAllocated {
		t.Errorf("Expected %d scratch frees, got %d", st.PayloadsAllocated, p.scratchFreed.Load())
	}
	if r.Len() != 0 {
		t.Errorf("Expected no registered workers after Stop, got %d", r.Len())
	}
}

func TestNewRejectsZeroWorkers(t *testing.T) {
	if _, err := New(thread.Default(), config.WorkersConfig{Count: 0}); err == nil {
		t.Error("Expected error for zero workers")
	}
}

func TestStopKeepsScratchOfRunningJob(t *testing.T) {
	p, r := newTestPool(t, 1)

	started, release := make(chan struct{}), make(chan struct{})
	var lostBuffer atomic.Bool
	go func() {
		_, _ = p.Do(context.Background(), func(s *Scratch) {
			close(started)
			<-release
			if s.Buf == nil {
				lostBuffer.Store(true)
			}
			s.Buf = append(s.Buf, "late"...)
		})
	}()
	<-started

	if err := p.Stop(20 * time.Millisecond); err == nil {
		t.Error("Expected Stop to report the worker still running")
	}
	if st := r.Stats(); st.PayloadsDeallocated != 0 {
		t.Errorf("Expected scratch to stay allocated while the job runs, got %d frees", st.PayloadsDeallocated)
	}

	close(release)
	deadline := time.Now().Add(5 * time.Second)
	for r.Stats().LivePayloads() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("Timed out waiting for the worker to exit")
		}
		time.Sleep(time.Millisecond)
	}
	if lostBuffer.Load() {
		t.Error("Expected the job to keep its scratch buffer until it returned")
	}
	if p.scratchFreed.Load() != 1 {
		t.Errorf("Expected 1 scratch free on worker exit, got %d", p.scratchFreed.Load())
	}
}
