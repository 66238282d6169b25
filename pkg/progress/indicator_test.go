package progress

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noticeItem(n Notice) string {
	return "notice:" + n.Message
}

func collect(t *testing.T, ch <-chan string) []string {
	t.Helper()
	var out []string
	timeout := time.After(5 * time.Second)
	for {
		select {
		case v, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, v)
		case <-timeout:
			t.Fatal("stream did not close")
			return out
		}
	}
}

func TestFastWorkHasNoNotices(t *testing.T) {
	ind := New(Config{Threshold: 200 * time.Millisecond, Interval: 50 * time.Millisecond})
	out := Track(context.Background(), ind, "r1", func(_ context.Context, emit func(string) bool) {
		emit("hello")
	}, noticeItem)

	assert.Equal(t, []string{"hello"}, collect(t, out))
	assert.Equal(t, 0, ind.Active())
}

func TestSlowWorkGetsPeriodicNotices(t *testing.T) {
	ind := New(Config{
		Threshold: 20 * time.Millisecond,
		Interval:  20 * time.Millisecond,
		Messages:  []string{"one", "two"},
	})
	out := Track(context.Background(), ind, "r1", func(_ context.Context, emit func(string) bool) {
		time.Sleep(150 * time.Millisecond)
		emit("answer")
		time.Sleep(80 * time.Millisecond)
		emit("tail")
	}, noticeItem)

	items := collect(t, out)
	require.GreaterOrEqual(t, len(items), 4)
	assert.Equal(t, "notice:one", items[0])
	assert.Equal(t, "notice:two", items[1])

	// Notices only precede the first result.
	assert.Equal(t, []string{"answer", "tail"}, items[len(items)-2:])
	for _, it := range items[:len(items)-2] {
		assert.True(t, strings.HasPrefix(it, "notice:"), it)
	}
}

func TestCancelByRequestID(t *testing.T) {
	ind := New(Config{Threshold: time.Hour, Interval: time.Hour})
	started := make(chan struct{})
	out := Track(context.Background(), ind, "req-42", func(ctx context.Context, emit func(string) bool) {
		close(started)
		<-ctx.Done()
		emit("cancelled: " + ctx.Err().Error())
	}, noticeItem)

	<-started
	assert.Equal(t, 1, ind.Active())
	assert.False(t, ind.Cancel("other"))
	assert.True(t, ind.Cancel("req-42"))

	assert.Equal(t, []string{"cancelled: context canceled"}, collect(t, out))
	assert.Eventually(t, func() bool { return ind.Active() == 0 }, time.Second, 5*time.Millisecond)
}

func TestCancelLeavesSiblingsRunning(t *testing.T) {
	ind := New(Config{Threshold: time.Hour, Interval: time.Hour})
	release := make(chan struct{})
	work := func(ctx context.Context, emit func(string) bool) {
		select {
		case <-ctx.Done():
			emit("stopped")
		case <-release:
			emit("finished")
		}
	}
	a := Track(context.Background(), ind, "a", work, noticeItem)
	b := Track(context.Background(), ind, "b", work, noticeItem)

	require.Eventually(t, func() bool { return ind.Active() == 2 }, time.Second, time.Millisecond)
	ind.Cancel("a")
	assert.Equal(t, []string{"stopped"}, collect(t, a))
	close(release)
	assert.Equal(t, []string{"finished"}, collect(t, b))
}

func TestConsumerGoneStopsWork(t *testing.T) {
	ind := New(Config{Threshold: time.Hour, Interval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	out := Track(ctx, ind, "r", func(ctx context.Context, emit func(string) bool) {
		defer close(stopped)
		for {
			if !emit("x") {
				return
			}
		}
	}, noticeItem)

	<-out
	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("work kept running after the consumer left")
	}
	collect(t, out)
}

func TestNewDefaults(t *testing.T) {
	ind := New(Config{})
	assert.Equal(t, DefaultThreshold, ind.config.Threshold)
	assert.Equal(t, DefaultInterval, ind.config.Interval)
	assert.Equal(t, DefaultMessages, ind.config.Messages)
	assert.Equal(t, DefaultMessages[0], ind.notice(4, time.Now()).Message)
}
