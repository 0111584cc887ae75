package main

import (
	"github.com/m0o0scar/nenya/internal/mirror"
	"github.com/spf13/cobra"
)

// syncReport is the output of `bookmarks sync`.
type syncReport struct {
	Stats       mirror.Stats `json:"stats" yaml:"stats"`
	Collections int          `json:"collections" yaml:"collections"`
	Errors      []string     `json:"errors,omitempty" yaml:"errors,omitempty"`
}

// planNode is one collection in `bookmarks plan` output.
type planNode struct {
	ID    int64  `json:"id" yaml:"id"`
	Title string `json:"title" yaml:"title"`
	// Folder is the local folder the last pass mirrored this collection to.
	Folder   string     `json:"folder,omitempty" yaml:"folder,omitempty"`
	Children []planNode `json:"children,omitempty" yaml:"children,omitempty"`
}

// planGroup is one top-level folder in `bookmarks plan` output.
type planGroup struct {
	Title       string     `json:"title" yaml:"title"`
	Collections []planNode `json:"collections" yaml:"collections"`
}

func newBookmarksCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bookmarks",
		Short: "Mirror remote collections into the local bookmark tree",
	}

	cmd.AddCommand(newBookmarksSyncCommand(opts))
	cmd.AddCommand(newBookmarksPlanCommand(opts))

	return cmd
}

func newBookmarksSyncCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one mirror pass",
		Long: `Fetch the collection hierarchy, groups and items, then converge the
local folder tree under the root folder onto them. Folders and bookmarks
outside the root folder are never touched.

Example:
  nenya bookmarks sync`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := newApp(opts)
			defer a.Close()

			m, err := a.newMirror()
			if err != nil {
				return err
			}

			res, err := m.Run(cmd.Context())
			if err != nil {
				return err
			}

			return render(cmd.OutOrStdout(), opts.Format, syncReport{
				Stats:       res.Stats,
				Collections: len(res.CollectionFolders),
				Errors:      errorStrings(res.Errors),
			})
		},
	}
}

func newBookmarksPlanCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Print the folder structure the next sync would produce",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := newApp(opts)
			defer a.Close()

			m, err := a.newMirror()
			if err != nil {
				return err
			}

			plan, err := m.Plan(cmd.Context())
			if err != nil {
				return err
			}

			st, err := a.openState()
			if err != nil {
				return err
			}

			return render(cmd.OutOrStdout(), opts.Format, planReport(plan, st.FolderForCollection))
		},
	}
}

// planReport converts a plan for output. folderFor looks up the local
// folder last mirrored from a collection.
func planReport(plan *mirror.GroupPlan, folderFor func(collectionID int64) (string, bool)) []planGroup {
	var convert func(n *mirror.RemoteNode) planNode
	convert = func(n *mirror.RemoteNode) planNode {
		out := planNode{ID: n.ID, Title: n.Title}
		if folder, ok := folderFor(n.ID); ok {
			out.Folder = folder
		}

		for _, c := range n.Children {
			out.Children = append(out.Children, convert(c))
		}

		return out
	}

	groups := make([]planGroup, 0, len(plan.Groups))

	for _, g := range plan.Groups {
		pg := planGroup{Title: g.Title, Collections: []planNode{}}
		for _, n := range g.Collections {
			pg.Collections = append(pg.Collections, convert(n))
		}

		groups = append(groups, pg)
	}

	return groups
}
