package container

import (
	"context"
	"io"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func shStreamer(script string, gotArgs *[]string) *CLIStreamer {
	return NewCLIStreamer("docker").WithCommand(func(ctx context.Context, name string, args ...string) *exec.Cmd {
		if gotArgs != nil {
			*gotArgs = append([]string{name}, args...)
		}
		return exec.CommandContext(ctx, "sh", "-c", script)
	})
}

func TestFollowLogs(t *testing.T) {
	var args []string
	s := shStreamer(`printf 'one\ntwo\n'; echo oops >&2`, &args)

	stream, err := s.FollowLogs(context.Background(), "abc123", 50)
	require.NoError(t, err)
	defer stream.Close()

	assert.Equal(t, []string{"docker", "logs", "--follow", "--tail", "50", "abc123"}, args)

	out, err := io.ReadAll(stream)
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\noops\n", string(out))

	code, err := stream.Wait()
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	_, err = stream.Write([]byte("x"))
	assert.Error(t, err)
}

func TestFollowLogsCloseKillsProcess(t *testing.T) {
	s := shStreamer(`echo ready; exec sleep 30`, nil)

	stream, err := s.FollowLogs(context.Background(), "abc123", 100)
	require.NoError(t, err)

	buf := make([]byte, 6)
	_, err = io.ReadFull(stream, buf)
	require.NoError(t, err)
	assert.Equal(t, "ready\n", string(buf))

	require.NoError(t, stream.Close())

	done := make(chan int, 1)
	go func() {
		code, _ := stream.Wait()
		done <- code
	}()
	select {
	case code := <-done:
		assert.NotEqual(t, 0, code)
	case <-time.After(5 * time.Second):
		t.Fatal("process survived Close")
	}
}

func TestShell(t *testing.T) {
	var args []string
	s := shStreamer(`read line; echo "got:$line"; exit 3`, &args)

	stream, err := s.Shell(context.Background(), "abc123")
	require.NoError(t, err)
	defer stream.Close()

	assert.Equal(t, []string{"docker", "exec", "-it", "abc123", "/bin/bash"}, args)

	_, err = stream.Write([]byte("hello\n"))
	require.NoError(t, err)

	out, err := io.ReadAll(stream)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(out), "got:hello"), "output %q", out)

	code, err := stream.Wait()
	require.NoError(t, err)
	assert.Equal(t, 3, code)
}
