package inbox

import (
	"sync"
	"testing"
	"time"

	"github.com/livinlefevreloca/mjlogconv/internal/testutil"
)

func TestInbox_SendReceive(t *testing.T) {
	ib := New[int](4, 0, testutil.NewTestLogger().Logger())

	for i := 0; i < 3; i++ {
		if !ib.Send(i) {
			t.Fatalf("send %d failed", i)
		}
	}
	if ib.Len() != 3 {
		t.Errorf("expected depth 3, got %d", ib.Len())
	}

	for want := 0; want < 3; want++ {
		got, ok := ib.Receive()
		if !ok || got != want {
			t.Errorf("expected %d, got %d (ok=%v)", want, got, ok)
		}
	}

	stats := ib.GetStats()
	if stats.TotalSent != 3 || stats.TotalReceived != 3 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if stats.MaxDepthSeen != 3 {
		t.Errorf("expected max depth 3, got %d", stats.MaxDepthSeen)
	}
}

func TestInbox_SendTimeout(t *testing.T) {
	logger := testutil.NewTestLogger()
	ib := New[string](1, 10*time.Millisecond, logger.Logger())

	if !ib.Send("first") {
		t.Fatal("first send should succeed")
	}
	if ib.Send("second") {
		t.Fatal("second send should time out on a full inbox")
	}

	if ib.GetStats().TimeoutCount != 1 {
		t.Errorf("expected 1 timeout, got %d", ib.GetStats().TimeoutCount)
	}
	if !logger.HasWarning() {
		t.Error("expected a warning for the timeout")
	}
}

func TestInbox_CloseDrains(t *testing.T) {
	ib := New[int](8, 0, testutil.NewTestLogger().Logger())

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			ib.Send(n)
		}(i)
	}
	wg.Wait()
	ib.Close()
	ib.Close()

	count := 0
	for {
		_, ok := ib.Receive()
		if !ok {
			break
		}
		count++
	}
	if count != 4 {
		t.Errorf("expected 4 messages after close, got %d", count)
	}
}
