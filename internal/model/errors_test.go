package model_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/maxpumperla/aetros-cli/internal/model"
)

func TestRunError(t *testing.T) {
	t.Parallel()

	t.Run("message", func(t *testing.T) {
		err := &model.RunError{
			Kind:     model.KindImageBuildFailed,
			Cmd:      "docker build -t alice/mnist -f Dockerfile .",
			ExitCode: 2,
		}
		require.Contains(t, err.Error(), "image build failed")
		require.Contains(t, err.Error(), "docker build")
		require.Contains(t, err.Error(), "exit code 2")
	})

	t.Run("unwrap", func(t *testing.T) {
		cause := errors.New("no such file")
		err := fmt.Errorf("provisioning: %w", &model.RunError{
			Kind: model.KindImagePullFailed,
			Err:  cause,
		})
		require.True(t, model.IsKind(err, model.KindImagePullFailed))
		require.False(t, model.IsKind(err, model.KindImageBuildFailed))
		require.ErrorIs(t, err, cause)
	})

	t.Run("plain_error_is_no_kind", func(t *testing.T) {
		require.False(t, model.IsKind(errors.New("boom"), model.KindMissingCommand))
	})
}
