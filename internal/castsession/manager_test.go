package castsession

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/strefethen/alarmcast-go/internal/apperrors"
	"github.com/strefethen/alarmcast-go/internal/castproto"
	"github.com/strefethen/alarmcast-go/internal/config"
	"github.com/strefethen/alarmcast-go/internal/runloop"
)

func setupManager(t *testing.T) (*runloop.Loop, *castproto.Simulator, *Manager) {
	t.Helper()
	cfg := config.Config{
		DiscoveryPollIntervalMs: 5,
		DiscoveryMaxPolls:       3,
		ConnectPollIntervalMs:   5,
		ConnectMaxPolls:         10,
		RouteSettleDelayMs:      1,
	}

	loop := runloop.New(nil)
	loop.Start()
	t.Cleanup(loop.Stop)

	sim := castproto.NewSimulator(nil)
	manager := NewManager(cfg, loop, sim, nil)
	manager.Start()
	t.Cleanup(manager.Stop)

	return loop, sim, manager
}

func startReconnect(t *testing.T, loop *runloop.Loop, manager *Manager, device castproto.Device, alarmID string) chan error {
	t.Helper()
	outcome := make(chan error, 1)
	ok := loop.Call(func() {
		manager.ReconnectWithOutcome(device, alarmID, func(err error) { outcome <- err })
	})
	require.True(t, ok)
	return outcome
}

func waitOutcome(t *testing.T, outcome <-chan error) error {
	t.Helper()
	select {
	case err := <-outcome:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reconnect outcome")
		return nil
	}
}

func stateNow(t *testing.T, loop *runloop.Loop, manager *Manager) State {
	t.Helper()
	var state State
	require.True(t, loop.Call(func() { state = manager.StateNow() }))
	return state
}

func TestManager_Reconnect_EstablishesSession(t *testing.T) {
	loop, sim, manager := setupManager(t)

	device := castproto.Device{ID: "cast-1", Name: "Bedroom Speaker"}
	sim.AddDevice(device)

	outcome := startReconnect(t, loop, manager, device, "alarm-1")
	require.NoError(t, waitOutcome(t, outcome))

	state := stateNow(t, loop, manager)
	require.Equal(t, PhaseConnected, state.Phase)
	require.Equal(t, "cast-1", state.Device.ID)
}

func TestManager_Reconnect_ResumesEstablishedSession(t *testing.T) {
	loop, sim, manager := setupManager(t)

	device := castproto.Device{ID: "cast-1", Name: "Bedroom Speaker"}
	sim.AddDevice(device)
	require.NoError(t, waitOutcome(t, startReconnect(t, loop, manager, device, "alarm-1")))

	// A full reconnect would trip this; resuming the established session
	// must not touch the device again.
	sim.FailNextConnect(42)

	outcome := startReconnect(t, loop, manager, device, "alarm-2")
	require.NoError(t, waitOutcome(t, outcome))
	require.Equal(t, PhaseConnected, stateNow(t, loop, manager).Phase)
}

func TestManager_Reconnect_DiscoveryTimeout(t *testing.T) {
	loop, _, manager := setupManager(t)

	device := castproto.Device{ID: "cast-gone", Name: "Unplugged Speaker"}
	outcome := startReconnect(t, loop, manager, device, "alarm-1")

	err := waitOutcome(t, outcome)
	require.Error(t, err)
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, apperrors.ErrorCodeDiscoveryTimeout, appErr.Code)

	require.Equal(t, PhaseIdle, stateNow(t, loop, manager).Phase)
}

func TestManager_Reconnect_SessionStartFailed(t *testing.T) {
	loop, sim, manager := setupManager(t)

	device := castproto.Device{ID: "cast-1", Name: "Bedroom Speaker"}
	sim.AddDevice(device)
	sim.FailNextConnect(42)

	outcome := startReconnect(t, loop, manager, device, "alarm-1")

	err := waitOutcome(t, outcome)
	require.Error(t, err)
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, apperrors.ErrorCodeSessionStartFailed, appErr.Code)
}

func TestManager_Reconnect_NewAttemptSupersedesPrior(t *testing.T) {
	loop, _, manager := setupManager(t)

	device := castproto.Device{ID: "cast-gone", Name: "Unplugged Speaker"}
	first := startReconnect(t, loop, manager, device, "alarm-1")
	second := startReconnect(t, loop, manager, device, "alarm-1")

	require.Error(t, waitOutcome(t, second))

	// The superseded attempt must never settle.
	select {
	case err := <-first:
		t.Fatalf("superseded attempt settled with %v", err)
	default:
	}
}

func TestManager_CancelReconnect_SuppressesOutcome(t *testing.T) {
	loop, _, manager := setupManager(t)

	device := castproto.Device{ID: "cast-gone", Name: "Unplugged Speaker"}
	outcome := startReconnect(t, loop, manager, device, "alarm-1")

	require.True(t, loop.Call(func() { manager.CancelReconnect("alarm-1") }))

	select {
	case err := <-outcome:
		t.Fatalf("cancelled attempt settled with %v", err)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestManager_SessionLost_NotifiesHooks(t *testing.T) {
	loop, sim, manager := setupManager(t)

	device := castproto.Device{ID: "cast-1", Name: "Bedroom Speaker"}
	sim.AddDevice(device)
	require.NoError(t, waitOutcome(t, startReconnect(t, loop, manager, device, "alarm-1")))

	lost := make(chan castproto.Device, 1)
	require.True(t, loop.Call(func() {
		manager.OnSessionLost(func(d castproto.Device) { lost <- d })
	}))

	sim.EndSession(castproto.SessionEnded, 0)

	select {
	case d := <-lost:
		require.Equal(t, "cast-1", d.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for session-lost hook")
	}
	require.Equal(t, PhaseEnded, stateNow(t, loop, manager).Phase)
}

func TestManager_Subscribe_ReceivesStateChanges(t *testing.T) {
	loop, sim, manager := setupManager(t)

	states := make(chan State, 16)
	require.True(t, loop.Call(func() {
		manager.Subscribe(func(s State) { states <- s })
	}))

	device := castproto.Device{ID: "cast-1", Name: "Bedroom Speaker"}
	sim.AddDevice(device)
	require.NoError(t, waitOutcome(t, startReconnect(t, loop, manager, device, "alarm-1")))

	seen := map[Phase]bool{}
	deadline := time.After(2 * time.Second)
	for !seen[PhaseConnected] {
		select {
		case s := <-states:
			seen[s.Phase] = true
		case <-deadline:
			t.Fatal("never observed connected state")
		}
	}
	require.True(t, seen[PhaseDiscovering])
}

// slowSelectConn delays session submission, as a real protocol stack on
// a congested network would.
type slowSelectConn struct {
	castproto.Conn
	delay time.Duration
}

func (c *slowSelectConn) SelectDevice(ctx context.Context, device castproto.Device) error {
	time.Sleep(c.delay)
	return c.Conn.SelectDevice(ctx, device)
}

func TestManager_SlowDeviceSelectionKeepsLoopResponsive(t *testing.T) {
	cfg := config.Config{
		DiscoveryPollIntervalMs: 5,
		DiscoveryMaxPolls:       3,
		ConnectPollIntervalMs:   5,
		ConnectMaxPolls:         10,
		RouteSettleDelayMs:      1,
	}

	loop := runloop.New(nil)
	loop.Start()
	t.Cleanup(loop.Stop)

	sim := castproto.NewSimulator(nil)
	conn := &slowSelectConn{Conn: sim, delay: 300 * time.Millisecond}
	manager := NewManager(cfg, loop, conn, nil)
	manager.Start()
	t.Cleanup(manager.Stop)

	device := castproto.Device{ID: "cast-1", Name: "Bedroom Speaker"}
	sim.AddDevice(device)
	outcome := startReconnect(t, loop, manager, device, "alarm-1")

	// Land inside the selection window and check the loop still turns.
	time.Sleep(50 * time.Millisecond)
	begin := time.Now()
	require.True(t, loop.Call(func() {}))
	require.Less(t, time.Since(begin), 100*time.Millisecond)

	require.NoError(t, waitOutcome(t, outcome))
}

func TestState_Established(t *testing.T) {
	require.True(t, State{Phase: PhaseConnected}.Established())
	require.True(t, State{Phase: PhaseCasting}.Established())
	require.True(t, State{Phase: PhaseLoading}.Established())
	require.True(t, State{Phase: PhaseBuffering}.Established())
	require.True(t, State{Phase: PhasePaused}.Established())
	require.False(t, State{Phase: PhaseIdle}.Established())
	require.False(t, State{Phase: PhaseDiscovering}.Established())
	require.False(t, State{Phase: PhaseEnded}.Established())
	require.False(t, State{Phase: PhaseError}.Established())
}
