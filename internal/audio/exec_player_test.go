package audio

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewExecPlayer_EmptyCommand(t *testing.T) {
	_, err := NewExecPlayer("   ", nil)
	require.Error(t, err)
}

func TestExecPlayer_Play_CompletionOnNaturalExit(t *testing.T) {
	player, err := NewExecPlayer("true {url}", nil)
	require.NoError(t, err)

	done := make(chan string, 1)
	unsub := player.OnCompletion(func(id string) { done <- id })
	defer unsub()

	require.NoError(t, player.Play("alarm-1", "/tmp/clip.mp3", PlayOptions{}))

	select {
	case id := <-done:
		require.Equal(t, "alarm-1", id)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for completion")
	}
	require.Empty(t, player.PlayingIDs())
}

func TestExecPlayer_Stop_SuppressesCompletion(t *testing.T) {
	player, err := NewExecPlayer("sleep 30", nil)
	require.NoError(t, err)

	done := make(chan string, 1)
	unsub := player.OnCompletion(func(id string) { done <- id })
	defer unsub()

	require.NoError(t, player.Play("alarm-2", "/tmp/clip.mp3", PlayOptions{}))
	require.Eventually(t, func() bool {
		return len(player.PlayingIDs()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	player.Stop("alarm-2")
	require.Empty(t, player.PlayingIDs())

	select {
	case id := <-done:
		t.Fatalf("unexpected completion for %s after stop", id)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestExecPlayer_Play_ReplacesPriorClip(t *testing.T) {
	player, err := NewExecPlayer("sleep 30", nil)
	require.NoError(t, err)

	done := make(chan string, 2)
	unsub := player.OnCompletion(func(id string) { done <- id })
	defer unsub()

	require.NoError(t, player.Play("alarm-3", "/tmp/a.mp3", PlayOptions{}))
	require.NoError(t, player.Play("alarm-3", "/tmp/b.mp3", PlayOptions{}))

	require.Len(t, player.PlayingIDs(), 1)

	// Killing the first clip must not count as a natural completion.
	select {
	case id := <-done:
		t.Fatalf("unexpected completion for %s", id)
	case <-time.After(200 * time.Millisecond):
	}

	player.Stop("alarm-3")
}

func TestExecPlayer_LoopingFailurePacesRespawns(t *testing.T) {
	dir := t.TempDir()
	countFile := filepath.Join(dir, "spawns")
	script := filepath.Join(dir, "failing-player.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\necho x >> "+countFile+"\nexit 1\n"), 0o755))

	player, err := NewExecPlayer(script+" {url}", nil)
	require.NoError(t, err)
	player.restartDelay = 50 * time.Millisecond

	require.NoError(t, player.Play("alarm-5", "/tmp/clip.mp3", PlayOptions{Loop: true}))
	time.Sleep(300 * time.Millisecond)
	player.Stop("alarm-5")

	data, err := os.ReadFile(countFile)
	require.NoError(t, err)
	spawns := 0
	for _, b := range data {
		if b == '\n' {
			spawns++
		}
	}
	// The clip keeps retrying, but only at the restart delay's pace.
	require.GreaterOrEqual(t, spawns, 2)
	require.LessOrEqual(t, spawns, 10)
}

func TestExecPlayer_Stop_UnknownIDIsNoop(t *testing.T) {
	player, err := NewExecPlayer("true", nil)
	require.NoError(t, err)

	player.Stop("never-played")
	require.Empty(t, player.PlayingIDs())
}
