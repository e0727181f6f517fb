package main

import (
	"context"
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"metagraph/internal/core"
)

func newNodesCommand(opts *rootOptions) *cobra.Command {
	var (
		class      string
		subclasses bool
	)
	cmd := &cobra.Command{
		Use:   "nodes",
		Short: "List nodes, optionally filtered by class",
		Args:  cobra.NoArgs,
		RunE: opts.withApp(func(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
			var (
				nodes []core.Node
				err   error
			)
			if class != "" {
				nodes, err = a.svc.NodesOfClass(ctx, class, subclasses)
			} else {
				nodes = a.svc.Store().ListNodes()
			}
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			headerColor.Fprintln(tw, "ID\tCLASS\tNAME\tVALID")
			for _, n := range nodes {
				valid, err := a.svc.IsValid(ctx, n.ID)
				if err != nil {
					return err
				}
				state := okColor.Sprint("yes")
				if !valid {
					state = warnColor.Sprint("no")
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", n.ID, classColor.Sprint(n.ClassTag), n.Name, state)
			}
			return tw.Flush()
		}),
	}
	cmd.Flags().StringVar(&class, "class", "", "only nodes of this class")
	cmd.Flags().BoolVar(&subclasses, "subclasses", false, "include subclasses of --class")
	return cmd
}

type nodeView struct {
	ID          string          `json:"id" yaml:"id"`
	Name        string          `json:"name" yaml:"name"`
	Class       string          `json:"class" yaml:"class"`
	Resolved    bool            `json:"resolved" yaml:"resolved"`
	Version     float64         `json:"version" yaml:"version"`
	Inheritance []string        `json:"inheritance" yaml:"inheritance"`
	Valid       bool            `json:"valid" yaml:"valid"`
	Parents     []core.NodeID   `json:"parents,omitempty" yaml:"parents,omitempty"`
	Children    []core.NodeID   `json:"children,omitempty" yaml:"children,omitempty"`
	Tagged      []core.MemberID `json:"tagged,omitempty" yaml:"tagged,omitempty"`
	Attributes  map[string]any  `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

func describe(ctx context.Context, svc *core.Service, id core.NodeID) (nodeView, error) {
	h, err := svc.Resolve(ctx, id)
	if err != nil {
		return nodeView{}, err
	}
	node, err := h.Record(ctx)
	if err != nil {
		return nodeView{}, err
	}
	view := nodeView{
		ID:          string(node.ID),
		Name:        node.Name,
		Class:       node.ClassTag,
		Resolved:    h.Resolved(),
		Version:     node.Version,
		Inheritance: node.Inheritance,
		Parents:     node.ParentIDs(),
		Tagged:      node.TaggedMembers(),
	}
	if view.Valid, err = h.IsValid(ctx); err != nil {
		return nodeView{}, err
	}
	if view.Children, err = svc.Children(ctx, id, core.IncludeGroups()); err != nil {
		return nodeView{}, err
	}
	names, err := h.Attributes(ctx, true)
	if err != nil {
		return nodeView{}, err
	}
	if len(names) > 0 {
		view.Attributes = make(map[string]any, len(names))
	}
	for _, name := range names {
		v, err := h.Get(ctx, name)
		if err != nil {
			v = fmt.Sprintf("<%v>", err)
		}
		view.Attributes[name] = v
	}
	return view, nil
}

func newShowCommand(opts *rootOptions) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "show NODE_ID",
		Short: "Print a node with its links, tags and attributes",
		Args:  cobra.ExactArgs(1),
		RunE: opts.withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			view, err := describe(ctx, a.svc, core.NodeID(args[0]))
			if err != nil {
				return err
			}
			return encode(cmd.OutOrStdout(), format, view)
		}),
	}
	cmd.Flags().StringVarP(&format, "format", "f", "yaml", "output format: yaml or json")
	return cmd
}

func newWalkCommand(opts *rootOptions) *cobra.Command {
	var up bool
	cmd := &cobra.Command{
		Use:   "walk NODE_ID",
		Short: "Walk the link graph from a node",
		Args:  cobra.ExactArgs(1),
		RunE: opts.withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			for id := range a.svc.Walk(ctx, core.NodeID(args[0]), !up) {
				node, err := a.svc.Get(ctx, id)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", id, classColor.Sprint(node.ClassTag), node.Name)
			}
			return nil
		}),
	}
	cmd.Flags().BoolVar(&up, "up", false, "walk towards parents instead of children")
	return cmd
}

func newValidateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Report nodes with no links and no tags",
		Args:  cobra.NoArgs,
		RunE: opts.withApp(func(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
			w := cmd.OutOrStdout()
			var invalid []core.Node
			for _, n := range a.svc.Store().ListNodes() {
				ok, err := a.svc.IsValid(ctx, n.ID)
				if err != nil {
					return err
				}
				if !ok {
					invalid = append(invalid, n)
				}
			}
			sort.Slice(invalid, func(i, j int) bool { return invalid[i].ID < invalid[j].ID })
			for _, n := range invalid {
				warnColor.Fprint(w, "invalid ")
				fmt.Fprintf(w, "%s %s\n", n.ID, n.Name)
			}
			if len(invalid) > 0 {
				return fmt.Errorf("%d invalid nodes", len(invalid))
			}
			okColor.Fprintln(w, "all nodes valid")
			return nil
		}),
	}
}

func newGCCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "gc",
		Short: "Delete every invalid node",
		Args:  cobra.NoArgs,
		RunE: opts.withApp(func(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
			removed, err := a.svc.RemoveUnused(ctx)
			if err != nil {
				return err
			}
			okColor.Fprintf(cmd.OutOrStdout(), "removed %d nodes\n", len(removed))
			return nil
		}),
	}
}

func newArchiveCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Save, load and list archived documents",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "save KEY",
			Short: "Write the current document to the archive",
			Args:  cobra.ExactArgs(1),
			RunE: opts.withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
				info, err := a.svc.SaveDocument(ctx, a.blobs, args[0])
				if err != nil {
					return err
				}
				okColor.Fprintf(cmd.OutOrStdout(), "saved %s (%d bytes)\n", info.Key, info.Size)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "load KEY",
			Short: "Replace the current document with an archived one",
			Args:  cobra.ExactArgs(1),
			RunE: opts.withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
				if err := a.svc.LoadDocument(ctx, a.blobs, args[0]); err != nil {
					return err
				}
				okColor.Fprintf(cmd.OutOrStdout(), "loaded %s (%d nodes)\n", args[0], len(a.svc.Store().ListNodes()))
				return nil
			}),
		},
		&cobra.Command{
			Use:   "list [PREFIX]",
			Short: "List archived documents",
			Args:  cobra.MaximumNArgs(1),
			RunE: opts.withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
				prefix := ""
				if len(args) == 1 {
					prefix = args[0]
				}
				infos, err := a.blobs.List(ctx, prefix)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				headerColor.Fprintln(tw, "KEY\tSIZE\tMODIFIED")
				for _, info := range infos {
					fmt.Fprintf(tw, "%s\t%d\t%s\n", info.Key, info.Size, info.LastModified.Format("2006-01-02 15:04:05"))
				}
				return tw.Flush()
			}),
		},
	)
	return cmd
}

func newPluginsCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "plugins",
		Short: "List installed class plugins",
		Args:  cobra.NoArgs,
		RunE: opts.withApp(func(_ context.Context, a *app, cmd *cobra.Command, _ []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			headerColor.Fprintln(tw, "PLUGIN\tVERSION\tCLASSES\tRULES")
			for _, meta := range a.svc.RegisteredPlugins() {
				fmt.Fprintf(tw, "%s\t%s\t%v\t%v\n", meta.Name, meta.Version, meta.Classes, meta.Rules)
			}
			return tw.Flush()
		}),
	}
}
