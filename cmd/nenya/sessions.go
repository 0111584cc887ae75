package main

import (
	"fmt"
	"time"

	"github.com/m0o0scar/nenya/internal/session"
	"github.com/spf13/cobra"
)

// exportReport is the output of `sessions export`.
type exportReport struct {
	Bucket  int64    `json:"bucket" yaml:"bucket"`
	Created int      `json:"created" yaml:"created"`
	Updated int      `json:"updated" yaml:"updated"`
	Deleted int      `json:"deleted" yaml:"deleted"`
	Skipped int      `json:"skipped" yaml:"skipped"`
	Failed  int      `json:"failed" yaml:"failed"`
	Errors  []string `json:"errors,omitempty" yaml:"errors,omitempty"`
}

// restoreReport is the output of `sessions restore`.
type restoreReport struct {
	session.RestoreResult `yaml:",inline"`
	Errors                []string `json:"errors,omitempty" yaml:"errors,omitempty"`
}

// statusReport is the output of `sessions status`.
type statusReport struct {
	Device   string     `json:"device" yaml:"device"`
	Bucket   int64      `json:"bucket" yaml:"bucket"`
	Exported bool       `json:"exported" yaml:"exported"`
	At       *time.Time `json:"at,omitempty" yaml:"at,omitempty"`
	Created  int        `json:"created" yaml:"created"`
	Updated  int        `json:"updated" yaml:"updated"`
	Deleted  int        `json:"deleted" yaml:"deleted"`
	Skipped  int        `json:"skipped" yaml:"skipped"`
	Failed   int        `json:"failed" yaml:"failed"`
}

func newSessionsCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Save and restore the browser session of this device",
	}

	cmd.AddCommand(newSessionsExportCommand(opts))
	cmd.AddCommand(newSessionsShowCommand(opts))
	cmd.AddCommand(newSessionsRestoreCommand(opts))
	cmd.AddCommand(newSessionsStatusCommand(opts))

	return cmd
}

func newSessionsExportCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Save the open windows, tabs and tab groups",
		Long: `Make this device's session bucket hold exactly one item per open web
tab. Existing items are matched by tab identity first, then by URL, and
only changed fields are written.

Example:
  nenya sessions export`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := newApp(opts)
			defer a.Close()

			bucketID, err := a.bucket(cmd.Context())
			if err != nil {
				return err
			}

			exp, err := a.newExporter()
			if err != nil {
				return err
			}

			res, err := exp.Export(cmd.Context(), bucketID)
			if err != nil {
				return err
			}

			return render(cmd.OutOrStdout(), opts.Format, exportReport{
				Bucket:  bucketID,
				Created: res.Created,
				Updated: res.Updated,
				Deleted: res.Deleted,
				Skipped: res.Skipped,
				Failed:  res.Failed,
				Errors:  errorStrings(res.Errors),
			})
		},
	}
}

func newSessionsShowCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the saved session as a window tree",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := newApp(opts)
			defer a.Close()

			tree, err := a.savedTree(cmd)
			if err != nil {
				return err
			}

			return render(cmd.OutOrStdout(), opts.Format, tree)
		},
	}
}

func newSessionsRestoreCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "restore",
		Short: "Reopen the saved session in new browser windows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := newApp(opts)
			defer a.Close()

			tree, err := a.savedTree(cmd)
			if err != nil {
				return err
			}

			if len(tree.Windows) == 0 {
				return fmt.Errorf("no saved tabs for device %q", a.cfg.DeviceName)
			}

			res := a.newRestorer().Replay(cmd.Context(), tree)

			return render(cmd.OutOrStdout(), opts.Format, restoreReport{
				RestoreResult: *res,
				Errors:        errorStrings(res.Errors),
			})
		},
	}
}

func newSessionsStatusCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show when this device's session was last exported",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := newApp(opts)
			defer a.Close()

			st, err := a.openState()
			if err != nil {
				return err
			}

			report := statusReport{Device: a.cfg.DeviceName}

			bucketID, ok := st.BucketID(a.cfg.DeviceName)
			if ok {
				report.Bucket = bucketID

				sum, err := st.LastExport(bucketID)
				if err != nil {
					return err
				}

				if sum != nil {
					at := sum.At
					report.Exported = true
					report.At = &at
					report.Created = sum.Created
					report.Updated = sum.Updated
					report.Deleted = sum.Deleted
					report.Skipped = sum.Skipped
					report.Failed = sum.Failed
				}
			}

			return render(cmd.OutOrStdout(), opts.Format, report)
		},
	}
}

// savedTree reads this device's bucket and rebuilds its window tree.
func (a *app) savedTree(cmd *cobra.Command) (*session.RestoreTree, error) {
	bucketID, err := a.bucket(cmd.Context())
	if err != nil {
		return nil, err
	}

	items, err := a.remote.FetchItems(cmd.Context(), bucketID)
	if err != nil {
		return nil, fmt.Errorf("fetching bucket %d: %w", bucketID, err)
	}

	return session.PlanRestore(items), nil
}
