package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lms2upnp/bridge/internal/config"
	"github.com/lms2upnp/bridge/internal/discovery"
	"github.com/lms2upnp/bridge/internal/model"
)

func emptyRegistry() *discovery.Registry {
	return discovery.NewRegistry(60,
		func(ctx context.Context, pd *discovery.ParsedDevice, ip string) (*model.Renderer, error) {
			return nil, nil
		},
		func(r *model.Renderer) {},
	)
}

func TestNewRootCommand_Defaults(t *testing.T) {
	opts := &cliOptions{}
	var ran bool
	root := newRootCommand(opts, func() error { ran = true; return nil })
	root.SetArgs([]string{})

	require.NoError(t, root.Execute())
	require.True(t, ran)
	require.Equal(t, "squeeze2upnp.xml", opts.configPath)
	require.False(t, opts.fastShutdown)
	require.False(t, opts.nonInteractive)
}

func TestNewRootCommand_ParsesFlags(t *testing.T) {
	opts := &cliOptions{}
	root := newRootCommand(opts, func() error { return nil })
	root.SetArgs([]string{
		"-s", "192.168.1.5:3483",
		"-x", "/tmp/custom.xml",
		"-k",
		"-Z",
		"-d", "sdbg=debug",
		"-d", "odbg=warn",
	})

	require.NoError(t, root.Execute())
	require.Equal(t, "192.168.1.5:3483", opts.server)
	require.Equal(t, "/tmp/custom.xml", opts.configPath)
	require.True(t, opts.fastShutdown)
	require.True(t, opts.nonInteractive)
	require.Equal(t, []string{"sdbg=debug", "odbg=warn"}, []string(opts.facilityLevel))
}

func TestNewRootCommand_DiscoverFlag(t *testing.T) {
	opts := &cliOptions{}
	root := newRootCommand(opts, func() error { return nil })
	root.SetArgs([]string{"-i", "discovered.xml"})

	require.NoError(t, root.Execute())
	require.Equal(t, "discovered.xml", opts.discoverOnly)
}

func TestSnapshotLiveDevices_EmptyRegistry(t *testing.T) {
	live := snapshotLiveDevices(emptyRegistry())
	require.Empty(t, live)
}

func TestRunInteractiveLoop_SaveAndExit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "squeeze2upnp.xml")
	store, err := config.Load(path)
	require.Error(t, err)

	stdin, w, err := os.Pipe()
	require.NoError(t, err)
	origStdin := os.Stdin
	os.Stdin = stdin
	defer func() { os.Stdin = origStdin }()

	done := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		runInteractiveLoop(ctx, store, emptyRegistry(), path)
		close(done)
	}()

	_, err = w.Write([]byte("save " + path + "\nexit\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("runInteractiveLoop did not return after exit command")
	}

	_, statErr := os.Stat(path)
	require.NoError(t, statErr)
}

func TestRunInteractiveLoop_UnknownFacilityIgnored(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "squeeze2upnp.xml")
	store, _ := config.Load(path)

	r, w, err := os.Pipe()
	require.NoError(t, err)
	origStdin := os.Stdin
	os.Stdin = r
	defer func() { os.Stdin = origStdin }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		runInteractiveLoop(ctx, store, emptyRegistry(), path)
		close(done)
	}()

	_, err = w.Write([]byte("zzdbg=debug\nexit\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("runInteractiveLoop did not return")
	}
}

func TestAutoSaveService_SavesOnTick(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "squeeze2upnp.xml")
	store, _ := config.Load(path)

	svc := autoSaveService{registry: emptyRegistry(), store: store, path: path, every: 10 * time.Millisecond}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	require.NoError(t, svc.Serve(ctx))

	_, err := os.Stat(path)
	require.NoError(t, err)
}

func TestIsInteractiveTerminal_FalseForPipe(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer w.Close()
	origStdin := os.Stdin
	os.Stdin = r
	defer func() { os.Stdin = origStdin }()

	require.False(t, isInteractiveTerminal())
}

func TestCliOptions_FacilityLevelSplit(t *testing.T) {
	fl := []string{"sdbg=debug", "malformed", "odbg=info"}
	var parsed []string
	for _, f := range fl {
		parts := strings.SplitN(f, "=", 2)
		if len(parts) == 2 {
			parsed = append(parsed, parts[1])
		}
	}
	require.Equal(t, []string{"debug", "info"}, parsed)
}
