package heartbeat

import (
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KilimcininKorOglu/obadir/internal/replication"
)

const interval = 100 * time.Millisecond

// fakeSession records publishes and fails them once failAfter heartbeats
// have been sent.
type fakeSession struct {
	mu         sync.Mutex
	last       time.Time
	heartbeats []time.Time
	other      int
	failAfter  int
	err        error
}

func (s *fakeSession) Publish(m replication.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.Type() == replication.MsgHeartbeat {
		if s.err != nil && len(s.heartbeats) >= s.failAfter {
			return s.err
		}
		s.heartbeats = append(s.heartbeats, time.Now())
	} else {
		s.other++
	}
	s.last = time.Now()
	return nil
}

func (s *fakeSession) LastPublish() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *fakeSession) beats() []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Time(nil), s.heartbeats...)
}

func startProbe(t *testing.T, s Session, cfg Config) *Probe {
	t.Helper()
	cfg.Interval = interval
	p, err := New(s, cfg)
	require.NoError(t, err)
	p.Start()
	t.Cleanup(p.Stop)
	return p
}

func TestNewRejectsNonPositiveInterval(t *testing.T) {
	_, err := New(&fakeSession{}, Config{})
	assert.ErrorIs(t, err, ErrInvalidInterval)
	_, err = New(&fakeSession{}, Config{Interval: -time.Second})
	assert.ErrorIs(t, err, ErrInvalidInterval)
}

func TestProbePublishesOncePerInterval(t *testing.T) {
	s := &fakeSession{}
	startProbe(t, s, Config{Name: "peer"})

	time.Sleep(5*interval + interval/2)
	beats := s.beats()
	require.GreaterOrEqual(t, len(beats), 4)
	assert.LessOrEqual(t, len(beats), 7)
	for i := 1; i < len(beats); i++ {
		gap := beats[i].Sub(beats[i-1])
		assert.Less(t, gap, interval+interval/2, "gap %d", i)
		assert.GreaterOrEqual(t, gap, interval-interval/5, "gap %d", i)
	}
}

func TestProbeQuietWhileSessionIsBusy(t *testing.T) {
	s := &fakeSession{}
	require.NoError(t, s.Publish(&replication.ChangeMessage{}))

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		tick := time.NewTicker(interval / 4)
		defer tick.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tick.C:
				_ = s.Publish(&replication.ChangeMessage{})
			}
		}
	}()

	startProbe(t, s, Config{})
	time.Sleep(4 * interval)
	close(stop)
	wg.Wait()
	assert.Empty(t, s.beats())

	time.Sleep(2*interval + interval/2)
	assert.NotEmpty(t, s.beats())
}

func TestProbeSuppression(t *testing.T) {
	s := &fakeSession{}
	var suppress atomic.Bool
	suppress.Store(true)
	p := startProbe(t, s, Config{Suppress: &suppress})

	time.Sleep(3 * interval)
	assert.Empty(t, s.beats())
	assert.False(t, p.Stopped())

	suppress.Store(false)
	p.Wake()
	require.Eventually(t, func() bool { return len(s.beats()) > 0 }, interval, 5*time.Millisecond)
}

func TestProbeWakeDoesNotPublishEarly(t *testing.T) {
	s := &fakeSession{}
	p := startProbe(t, s, Config{})
	require.Eventually(t, func() bool { return len(s.beats()) == 1 }, interval, 5*time.Millisecond)

	for range 5 {
		p.Wake()
		time.Sleep(5 * time.Millisecond)
	}
	assert.Len(t, s.beats(), 1)
	assert.NoError(t, p.Err())
}

func TestProbeStopsOnPublishError(t *testing.T) {
	boom := errors.New("broken pipe")
	s := &fakeSession{err: boom, failAfter: 2}
	p := startProbe(t, s, Config{Name: "peer"})

	select {
	case <-p.Done():
	case <-time.After(10 * interval):
		t.Fatal("probe did not stop")
	}
	assert.True(t, p.Stopped())
	assert.ErrorIs(t, p.Err(), boom)
	assert.Len(t, s.beats(), 2)

	p.Stop()
}

func TestNoPublishAfterStop(t *testing.T) {
	s := &fakeSession{}
	p := startProbe(t, s, Config{})
	time.Sleep(2*interval + interval/2)

	p.Stop()
	assert.True(t, p.Stopped())
	n := len(s.beats())
	assert.GreaterOrEqual(t, n, 2)

	time.Sleep(3 * interval)
	assert.Len(t, s.beats(), n)
	assert.NoError(t, p.Err())

	p.Stop()
	p.Start()
	time.Sleep(interval + interval/2)
	assert.Len(t, s.beats(), n)
}

func TestStopBeforeStart(t *testing.T) {
	s := &fakeSession{}
	p, err := New(s, Config{Interval: interval})
	require.NoError(t, err)

	p.Stop()
	p.Start()
	<-p.Done()
	time.Sleep(interval + interval/2)
	assert.Empty(t, s.beats())
}

func TestProbeOverReplicationSession(t *testing.T) {
	a, b := net.Pipe()
	sender := replication.NewSession(a, replication.SessionOptions{Name: "replica", WriteTimeout: interval})
	receiver := replication.NewSession(b, replication.SessionOptions{})
	defer sender.Close()

	var received atomic.Int32
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			m, err := receiver.Receive()
			if err != nil {
				return
			}
			if m.Type() == replication.MsgHeartbeat {
				received.Add(1)
			}
		}
	}()

	p := startProbe(t, sender, Config{Name: "replica"})
	time.Sleep(3*interval + interval/2)
	assert.GreaterOrEqual(t, received.Load(), int32(3))

	// Once the peer end is closed the next write fails and the probe stops.
	receiver.Close()
	<-readerDone
	select {
	case <-p.Done():
	case <-time.After(10 * interval):
		t.Fatal("probe did not stop")
	}
	assert.ErrorIs(t, p.Err(), io.ErrClosedPipe)
}
