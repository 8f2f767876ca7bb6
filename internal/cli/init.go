package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/tasksync/internal/persistence"
)

// InitResult describes the store manifest after init.
type InitResult struct {
	StoreID string `json:"store_id"`
	Created bool   `json:"created"`
	Backend string `json:"backend"`
	Dir     string `json:"dir"`
}

func (r InitResult) String() string {
	verb := "already initialized"
	if r.Created {
		verb = "initialized"
	}
	return fmt.Sprintf("Store %s %s (%s, %s)", r.StoreID, verb, r.Backend, r.Dir)
}

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the persistence store",
		Long: `Write the store manifest if it is missing.

Strict mode refuses to start on a store without a manifest, so an empty
store can be told apart from one whose data was lost. Run init once
before the first strict start, or set initialize_if_missing.

Running init on an initialized store changes nothing.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(rootOpts, cmd)
		},
	}

	return cmd
}

func runInit(opts *RootOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)
	ctx := commandContext(cmd)

	rt, err := loadRuntime(opts, formatter)
	if err != nil {
		return err
	}
	b, err := rt.OpenBackend()
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeStore, "failed to open store", err)
	}
	defer b.Close()

	result := InitResult{StoreID: rt.StoreID(), Backend: rt.Backend, Dir: rt.Dir}
	m, err := b.ReadManifest(ctx)
	switch {
	case err == nil:
		result.StoreID = m.StoreID
	case errors.Is(err, persistence.ErrManifestMissing):
		if err := b.WriteManifest(ctx, persistence.NewManifest(result.StoreID)); err != nil {
			return formatter.fail(ExitCommandError, ErrCodeStore, "failed to write manifest", err)
		}
		result.Created = true
	default:
		return formatter.fail(ExitCommandError, ErrCodeStore, "failed to read manifest", err)
	}

	return formatter.Success(result)
}
