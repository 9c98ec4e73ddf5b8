package cmdutils

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"

	"github.com/openkcm/vmware-session/internal/config"
)

func TestCobraCommand(t *testing.T) {
	t.Run("creates command with correct properties", func(t *testing.T) {
		businessFunc := func(ctx context.Context, cfg *config.Config, args []string, out io.Writer) error {
			return nil
		}

		wrapperFunc := func(ctx context.Context, fn BusinessFunc, cfg *config.Config, args []string, out io.Writer) error {
			return fn(ctx, cfg, args, out)
		}

		cmd := CobraCommand("test-cmd <task>", "short desc", "long description", "v1.0.0", cobra.ExactArgs(1), wrapperFunc, businessFunc)

		assert.Equal(t, "test-cmd <task>", cmd.Use)
		assert.Equal(t, "short desc", cmd.Short)
		assert.Equal(t, "long description", cmd.Long)
		assert.NotNil(t, cmd.RunE)
		assert.NotNil(t, cmd.Args)
	})

	t.Run("rejects wrong number of arguments before loading config", func(t *testing.T) {
		called := false
		businessFunc := func(ctx context.Context, cfg *config.Config, args []string, out io.Writer) error {
			called = true
			return nil
		}

		cmd := CobraCommand("test", "short", "long", "v1.0.0", cobra.ExactArgs(1), RunAsJob, businessFunc)
		cmd.SetArgs([]string{})
		cmd.SetOut(io.Discard)
		cmd.SetErr(io.Discard)

		err := cmd.Execute()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "accepts 1 arg(s)")
		assert.False(t, called)
	})

	t.Run("RunE returns error when config loading fails", func(t *testing.T) {
		businessFunc := func(ctx context.Context, cfg *config.Config, args []string, out io.Writer) error {
			return nil
		}

		wrapperErr := errors.New("wrapper error")
		wrapperFunc := func(ctx context.Context, fn BusinessFunc, cfg *config.Config, args []string, out io.Writer) error {
			return wrapperErr
		}

		cmd := CobraCommand("test", "short", "long", "v1.0.0", cobra.NoArgs, wrapperFunc, businessFunc)
		cmd.SetArgs([]string{})
		cmd.SetOut(io.Discard)
		cmd.SetErr(io.Discard)

		// Execute will fail because no config file exists (before reaching wrapper)
		err := cmd.Execute()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "loading config")
		assert.NotErrorIs(t, err, wrapperErr)
	})
}

func ExampleCobraCommand() {
	businessFunc := func(ctx context.Context, cfg *config.Config, args []string, out io.Writer) error {
		fmt.Println("Running business logic")
		return nil
	}

	cmd := CobraCommand(
		"example",
		"Example command",
		"This is an example of how to use CobraCommand",
		"v1.0.0",
		cobra.NoArgs,
		RunAsJob,
		businessFunc,
	)

	fmt.Printf("Command use: %s\n", cmd.Use)
	// Output: Command use: example
}
