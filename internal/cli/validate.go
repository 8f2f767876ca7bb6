package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/tasksync/internal/checkpoint"
	"github.com/roach88/tasksync/internal/config"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool                 `json:"valid"`
	AgentID  string               `json:"agent_id,omitempty"`
	Topics   []string             `json:"topics,omitempty"`
	Mode     string               `json:"mode,omitempty"`
	Backend  string               `json:"backend,omitempty"`
	Dir      string               `json:"dir,omitempty"`
	Policy   checkpoint.Frequency `json:"checkpoint"`
	Bounds   checkpoint.Bounds    `json:"host_policy"`
	Problems []string             `json:"problems,omitempty"`
}

func (r ValidationResult) String() string {
	if !r.Valid {
		return "Config invalid:\n  " + strings.Join(r.Problems, "\n  ")
	}
	topics := "(none)"
	if len(r.Topics) > 0 {
		topics = strings.Join(r.Topics, ",")
	}
	return fmt.Sprintf("Config valid: agent=%s topics=%s mode=%s backend=%s dir=%s checkpoint=%d/%ds/%ds",
		r.AgentID, topics, r.Mode, r.Backend, r.Dir,
		r.Policy.MutationThreshold, r.Policy.DirtyTimeFloorSecs, r.Policy.DebounceFloorSecs)
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [config-file]",
		Short: "Validate a config file",
		Long: `Validate a tasksync config file without opening the store.

Checks the YAML against the config schema and resolves the checkpoint
policy against the host policy envelope. The file may be given as an
argument or with --config.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := *rootOpts
			if len(args) == 1 {
				opts.Config = args[0]
			}
			return runValidate(&opts, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	result, err := validateConfig(opts)
	if err != nil {
		if outErr := formatter.Success(result); outErr != nil {
			return outErr
		}
		return WrapExitError(ExitFailure, "config invalid", err)
	}
	return formatter.Success(result)
}

func validateConfig(opts *RootOptions) (ValidationResult, error) {
	cfg, err := loadConfig(opts)
	if err == nil {
		var rt config.Runtime
		rt, err = cfg.Resolve()
		if err == nil {
			return ValidationResult{
				Valid:   true,
				AgentID: rt.AgentID,
				Topics:  rt.Topics,
				Mode:    rt.Mode.String(),
				Backend: rt.Backend,
				Dir:     rt.Dir,
				Policy:  rt.Policy.Frequency(),
				Bounds:  rt.Envelope.Bounds(),
			}, nil
		}
	}

	var verr *config.ValidationError
	if errors.As(err, &verr) {
		return ValidationResult{Problems: verr.Problems}, err
	}
	return ValidationResult{Problems: []string{err.Error()}}, err
}
