package hostexec_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"atomic-image-manager/internal/hostexec"
	"atomic-image-manager/internal/hostexec/hostexectest"
)

func TestClientCommand(t *testing.T) {
	t.Run("plain host", func(t *testing.T) {
		mock := &hostexectest.MockExecutor{DefaultOutput: []byte("{}")}
		client := hostexec.NewClient(mock, hostexec.WithHostSpawn(false))

		out, err := client.Output(context.Background(), []string{"rpm-ostree", "status", "--json"})
		require.NoError(t, err)
		assert.Equal(t, "{}", string(out))
		assert.Equal(t, hostexec.ExecSpec{Name: "rpm-ostree", Args: []string{"status", "--json"}}, mock.LastCommand())
	})

	t.Run("flatpak sandbox", func(t *testing.T) {
		mock := &hostexectest.MockExecutor{}
		client := hostexec.NewClient(mock, hostexec.WithHostSpawn(true))

		require.NoError(t, client.Run(context.Background(), []string{"rpm-ostree", "status"}))
		last := mock.LastCommand()
		assert.Equal(t, "flatpak-spawn", last.Name)
		assert.Equal(t, []string{"--host", "rpm-ostree", "status"}, last.Args)
	})

	t.Run("validators see the logical command", func(t *testing.T) {
		mock := &hostexectest.MockExecutor{}
		client := hostexec.NewClient(mock, hostexec.WithHostSpawn(true))

		_, err := client.Command(context.Background(), []string{"rpm-ostree", "status"}, hostexec.AllowlistBins("rpm-ostree"))
		require.NoError(t, err)

		_, err = client.Command(context.Background(), []string{"flatpak-spawn", "--host", "sh"}, hostexec.AllowlistBins("rpm-ostree"))
		assert.True(t, errors.Is(err, hostexec.ErrBinaryNotAllowed))
	})

	t.Run("default validators reject metacharacters", func(t *testing.T) {
		mock := &hostexectest.MockExecutor{}
		client := hostexec.NewClient(mock, hostexec.WithHostSpawn(false))

		_, err := client.Output(context.Background(), []string{"skopeo", "inspect", "docker://x;reboot"})
		assert.True(t, errors.Is(err, hostexec.ErrShellMeta))
		assert.Empty(t, mock.Commands)
	})

	t.Run("empty argv", func(t *testing.T) {
		client := hostexec.NewClient(&hostexectest.MockExecutor{})
		_, err := client.Command(context.Background(), nil)
		assert.True(t, errors.Is(err, hostexec.ErrEmptyCommand))
	})
}

func TestClientAvailable(t *testing.T) {
	t.Run("flatpak uses which on the host", func(t *testing.T) {
		mock := &hostexectest.MockExecutor{}
		client := hostexec.NewClient(mock, hostexec.WithHostSpawn(true))
		assert.True(t, client.Available(context.Background(), "skopeo"))
		assert.Equal(t, []string{"--host", "which", "skopeo"}, mock.LastCommand().Args)

		missing := &hostexectest.MockExecutor{DefaultRunErr: &hostexectest.ExitError{Code: 1}}
		assert.False(t, hostexec.NewClient(missing, hostexec.WithHostSpawn(true)).Available(context.Background(), "skopeo"))
	})

	t.Run("local lookup", func(t *testing.T) {
		client := hostexec.NewClient(hostexec.DefaultExecutor, hostexec.WithHostSpawn(false))
		assert.True(t, client.Available(context.Background(), "sh"))
		assert.False(t, client.Available(context.Background(), "definitely-not-a-real-tool-xyz"))
	})
}
