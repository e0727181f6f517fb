package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"metagraph/internal/core"
	"metagraph/plugins/asset"
	"metagraph/plugins/exporttag"
	"metagraph/plugins/group"
)

func printCreated(cmd *cobra.Command, class string, id core.NodeID) {
	w := cmd.OutOrStdout()
	okColor.Fprint(w, "created ")
	fmt.Fprintf(w, "%s %s\n", classColor.Sprint(class), id)
}

func toMembers(args []string) []core.MemberID {
	out := make([]core.MemberID, len(args))
	for i, a := range args {
		out[i] = core.MemberID(a)
	}
	return out
}

func newGroupCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "group",
		Short: "Create and inspect groups",
	}
	var parent string
	create := &cobra.Command{
		Use:   "create TYPE NAME [CHILD_ID...]",
		Short: "Create a group, optionally under a parent and over children",
		Args:  cobra.MinimumNArgs(2),
		RunE: opts.withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			children := make([]core.NodeID, 0, len(args)-2)
			for _, c := range args[2:] {
				children = append(children, core.NodeID(c))
			}
			g, err := group.Create(ctx, a.svc, args[0], args[1], core.NodeID(parent), children...)
			if err != nil {
				return err
			}
			printCreated(cmd, group.ClassTag, g.ID())
			return nil
		}),
	}
	create.Flags().StringVar(&parent, "parent", "", "parent node id")

	children := &cobra.Command{
		Use:   "children GROUP_ID",
		Short: "List child groups of the same type",
		Args:  cobra.ExactArgs(1),
		RunE: opts.withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			g, err := group.Bind(ctx, a.svc, core.NodeID(args[0]))
			if err != nil {
				return err
			}
			kids, err := g.ChildGroups(ctx)
			if err != nil {
				return err
			}
			for _, k := range kids {
				name, err := k.GroupName(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", k.ID(), name)
			}
			return nil
		}),
	}
	cmd.AddCommand(create, children)
	return cmd
}

func newAssetCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "asset",
		Short: "Create and inspect assets",
	}
	create := &cobra.Command{
		Use:   "create NAME MEMBER...",
		Short: "Create an asset owning members; the shallowest becomes the root",
		Args:  cobra.MinimumNArgs(2),
		RunE: opts.withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			as, err := asset.Create(ctx, a.svc, args[0], toMembers(args[1:])...)
			if err != nil {
				return err
			}
			printCreated(cmd, asset.ClassTag, as.ID())
			return nil
		}),
	}
	of := &cobra.Command{
		Use:   "of MEMBER",
		Short: "Show the asset owning a member",
		Args:  cobra.ExactArgs(1),
		RunE: opts.withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			as, ok, err := asset.Of(ctx, a.svc, core.MemberID(args[0]))
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("member %s belongs to no asset", args[0])
			}
			id, err := as.UUID(ctx)
			if err != nil {
				return err
			}
			root, _, err := as.Root(ctx)
			if err != nil {
				return err
			}
			members, err := as.Members(ctx)
			if err != nil {
				return err
			}
			return encode(cmd.OutOrStdout(), "yaml", map[string]any{
				"id":      string(as.ID()),
				"uuid":    id,
				"root":    string(root),
				"members": members,
			})
		}),
	}
	cmd.AddCommand(create, of)
	return cmd
}

func newTagCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tag",
		Short: "Manage export tags",
	}
	add := &cobra.Command{
		Use:   "add MEMBER NOTE",
		Short: "Tag a member for export",
		Args:  cobra.ExactArgs(2),
		RunE: opts.withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			t, err := exporttag.Add(ctx, a.svc, core.MemberID(args[0]), args[1])
			if err != nil {
				return err
			}
			printCreated(cmd, exporttag.ClassTag, t.ID())
			return nil
		}),
	}
	var (
		activeOnly bool
		notes      []string
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List valid export tags ordered by note",
		Args:  cobra.NoArgs,
		RunE: opts.withApp(func(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
			tags, err := exporttag.Find(ctx, a.svc, exporttag.FindOptions{
				ActiveOnly: activeOnly,
				Notes:      notes,
				ValidOnly:  true,
			})
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			headerColor.Fprintln(tw, "NOTE\tROOT\tACTIVE\tID")
			for _, t := range tags {
				note, err := t.Note(ctx)
				if err != nil {
					return err
				}
				root, _, err := t.Root(ctx)
				if err != nil {
					return err
				}
				active, err := t.Active(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(tw, "%s\t%s\t%t\t%s\n", note, root, active, t.ID())
			}
			return tw.Flush()
		}),
	}
	list.Flags().BoolVar(&activeOnly, "active", false, "only active tags")
	list.Flags().StringSliceVar(&notes, "note", nil, "only tags with these notes")

	remove := &cobra.Command{
		Use:   "remove MEMBER...",
		Short: "Delete the export tags on members",
		Args:  cobra.MinimumNArgs(1),
		RunE: opts.withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			n, err := exporttag.Remove(ctx, a.svc, toMembers(args)...)
			if err != nil {
				return err
			}
			okColor.Fprintf(cmd.OutOrStdout(), "removed %d tags\n", n)
			return nil
		}),
	}
	prune := &cobra.Command{
		Use:   "prune",
		Short: "Delete export tags left without a root member",
		Args:  cobra.NoArgs,
		RunE: opts.withApp(func(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
			n, err := exporttag.RemoveInvalid(ctx, a.svc)
			if err != nil {
				return err
			}
			okColor.Fprintf(cmd.OutOrStdout(), "pruned %d tags\n", n)
			return nil
		}),
	}
	setActive := func(active bool) func(context.Context, *app, *cobra.Command, []string) error {
		return func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			if err := exporttag.SetActive(ctx, a.svc, active, toMembers(args)...); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", map[bool]string{true: "enabled", false: "disabled"}[active], strings.Join(args, " "))
			return nil
		}
	}
	enable := &cobra.Command{
		Use:   "enable MEMBER...",
		Short: "Activate the export tags on members",
		Args:  cobra.MinimumNArgs(1),
		RunE:  opts.withApp(setActive(true)),
	}
	disable := &cobra.Command{
		Use:   "disable MEMBER...",
		Short: "Deactivate the export tags on members",
		Args:  cobra.MinimumNArgs(1),
		RunE:  opts.withApp(setActive(false)),
	}
	cmd.AddCommand(add, list, remove, prune, enable, disable)
	return cmd
}
