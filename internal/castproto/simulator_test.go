package castproto

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func waitForDevice(t *testing.T, ch <-chan Device, want string, timeout time.Duration) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case d, ok := <-ch:
			require.True(t, ok, "discovery stream closed before device %s", want)
			if d.ID == want {
				return
			}
		case <-deadline:
			t.Fatalf("device %s not discovered within %v", want, timeout)
		}
	}
}

func TestSimulator_Discover_EmitsExistingAndLaterDevices(t *testing.T) {
	sim := NewSimulator(nil)
	sim.AddDevice(Device{ID: "dev-1", Name: "Bedroom"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := sim.Discover(ctx)
	require.NoError(t, err)
	waitForDevice(t, ch, "dev-1", time.Second)

	sim.AddDevice(Device{ID: "dev-2", Name: "Kitchen"})
	waitForDevice(t, ch, "dev-2", time.Second)

	cancel()
	select {
	case _, ok := <-ch:
		require.False(t, ok, "stream should close after cancel")
	case <-time.After(time.Second):
		t.Fatal("stream did not close after cancel")
	}
}

func TestSimulator_SelectDevice_EstablishesSession(t *testing.T) {
	sim := NewSimulator(nil)
	sim.AddDevice(Device{ID: "dev-1", Name: "Bedroom"})

	events := make(chan SessionEvent, 4)
	unsub := sim.OnSessionEvent(func(ev SessionEvent) { events <- ev })
	defer unsub()

	require.NoError(t, sim.SelectDevice(context.Background(), Device{ID: "dev-1", Name: "Bedroom"}))

	select {
	case ev := <-events:
		require.Equal(t, SessionStarted, ev.Kind)
		require.Equal(t, "dev-1", ev.Device.ID)
	case <-time.After(time.Second):
		t.Fatal("no session event")
	}

	connected, ok := sim.ConnectedDevice()
	require.True(t, ok)
	require.Equal(t, "dev-1", connected.ID)
}

func TestSimulator_SelectDevice_UnknownDevice(t *testing.T) {
	sim := NewSimulator(nil)
	err := sim.SelectDevice(context.Background(), Device{ID: "ghost"})
	require.Error(t, err)
}

func TestSimulator_LoadMedia_AutoPlayLifecycle(t *testing.T) {
	sim := NewSimulator(nil)
	sim.AddDevice(Device{ID: "dev-1", Name: "Bedroom"})
	sim.SetPlayDelay(5 * time.Millisecond)
	sim.SetClipLength(20 * time.Millisecond)

	require.NoError(t, sim.SelectDevice(context.Background(), Device{ID: "dev-1"}))
	require.Eventually(t, func() bool {
		_, ok := sim.ConnectedDevice()
		return ok
	}, time.Second, time.Millisecond)

	var mu sync.Mutex
	var states []PlayerState
	unsub := sim.OnStatus(func(st Status) {
		mu.Lock()
		states = append(states, st.State)
		mu.Unlock()
	})
	defer unsub()

	require.NoError(t, sim.LoadMedia(context.Background(), "http://host/clip.mp3", Metadata{Title: "Alarm"}, true))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(states) >= 3
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, PlayerStateBuffering, states[0])
	require.Equal(t, PlayerStatePlaying, states[1])
	require.Equal(t, PlayerStateIdle, states[2])
	require.Equal(t, []string{"http://host/clip.mp3"}, sim.Loads())
}

func TestSimulator_LoadMedia_RequiresSession(t *testing.T) {
	sim := NewSimulator(nil)
	err := sim.LoadMedia(context.Background(), "http://host/clip.mp3", Metadata{}, true)
	var notConnected *NotConnectedError
	require.ErrorAs(t, err, &notConnected)
}

func TestSimulator_FailNextLoad_RejectsOnce(t *testing.T) {
	sim := NewSimulator(nil)
	sim.AddDevice(Device{ID: "dev-1"})
	require.NoError(t, sim.SelectDevice(context.Background(), Device{ID: "dev-1"}))
	require.Eventually(t, func() bool {
		_, ok := sim.ConnectedDevice()
		return ok
	}, time.Second, time.Millisecond)

	sim.FailNextLoad(2103)
	err := sim.LoadMedia(context.Background(), "http://host/a.mp3", Metadata{}, true)
	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	require.Equal(t, 2103, loadErr.Status)

	require.NoError(t, sim.LoadMedia(context.Background(), "http://host/b.mp3", Metadata{}, true))
}

func TestSimulator_SilentLoad_EmitsNoStatus(t *testing.T) {
	sim := NewSimulator(nil)
	sim.AddDevice(Device{ID: "dev-1"})
	sim.SetSilentLoad(true)
	require.NoError(t, sim.SelectDevice(context.Background(), Device{ID: "dev-1"}))
	require.Eventually(t, func() bool {
		_, ok := sim.ConnectedDevice()
		return ok
	}, time.Second, time.Millisecond)

	statusCh := make(chan Status, 4)
	unsub := sim.OnStatus(func(st Status) { statusCh <- st })
	defer unsub()

	require.NoError(t, sim.LoadMedia(context.Background(), "http://host/a.mp3", Metadata{}, true))

	select {
	case st := <-statusCh:
		t.Fatalf("unexpected status %v after silent load", st.State)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSimulator_EndSession_NotifiesAndDisconnects(t *testing.T) {
	sim := NewSimulator(nil)
	sim.AddDevice(Device{ID: "dev-1"})
	require.NoError(t, sim.SelectDevice(context.Background(), Device{ID: "dev-1"}))
	require.Eventually(t, func() bool {
		_, ok := sim.ConnectedDevice()
		return ok
	}, time.Second, time.Millisecond)

	events := make(chan SessionEvent, 4)
	unsub := sim.OnSessionEvent(func(ev SessionEvent) { events <- ev })
	defer unsub()

	sim.EndSession(SessionEnded, 0)

	select {
	case ev := <-events:
		require.Equal(t, SessionEnded, ev.Kind)
	case <-time.After(time.Second):
		t.Fatal("no session event")
	}
	_, ok := sim.ConnectedDevice()
	require.False(t, ok)
}
