package eventloop

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestDrainRunsInOrder(t *testing.T) {
	l := New(16, newTestLogger())

	var got []int
	for i := 0; i < 5; i++ {
		i := i
		l.Post(func() { got = append(got, i) })
	}
	l.Post(func() {
		l.Post(func() { got = append(got, 99) })
	})

	if n := l.Drain(); n != 7 {
		t.Errorf("Drain() = %d, want 7", n)
	}
	want := []int{0, 1, 2, 3, 4, 99}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestPanicIsRecovered(t *testing.T) {
	l := New(4, newTestLogger())
	ran := false
	l.Post(func() { panic("boom") })
	l.Post(func() { ran = true })
	l.Drain()
	if !ran {
		t.Error("task after panic did not run")
	}
}

func TestDoWaitsForTask(t *testing.T) {
	l := New(4, newTestLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	value := 0
	if err := l.Do(ctx, func() { value = 42 }); err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if value != 42 {
		t.Errorf("value = %d, want 42", value)
	}
}

func TestPostAfterStop(t *testing.T) {
	l := New(4, newTestLogger())
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(stopped)
	}()
	cancel()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}

	if l.Post(func() {}) {
		t.Error("Post() = true after stop, want false")
	}
	if err := l.Do(context.Background(), func() {}); err != ErrStopped {
		t.Errorf("Do() error = %v, want ErrStopped", err)
	}
}
