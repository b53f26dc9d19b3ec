package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/rzpsarthak13/modelstore/internal/backend"
	"github.com/rzpsarthak13/modelstore/pkg/modelstore"
)

func newSchemaCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Inspect and reconcile schemas",
	}
	cmd.AddCommand(newSchemaPlanCommand(a))
	cmd.AddCommand(newSchemaMigrateCommand(a))
	cmd.AddCommand(newSchemaDescribeCommand(a))
	return cmd
}

func newSchemaPlanCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Show the structural changes migrate would apply",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = a.close() }()

			reports, err := c.PlanSchemas(cmd.Context())
			if err != nil {
				return err
			}
			renderReports(cmd.OutOrStdout(), reports)
			return nil
		},
	}
}

func newSchemaMigrateCommand(a *app) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create missing tables and add or widen columns and indexes",
		Long: `Bring every configured schema's table in line with its declaration.

Changes that would narrow an existing column, such as shortening a varchar,
are refused unless --force is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = a.close() }()

			reports, err := c.CheckSchemas(cmd.Context(), force)
			renderReports(cmd.OutOrStdout(), reports)
			return err
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "apply narrowing changes")
	return cmd
}

func renderReports(w io.Writer, reports []modelstore.SchemaReport) {
	for _, r := range reports {
		switch {
		case r.Statement == nil:
			_, _ = fmt.Fprintf(w, "%s: up to date\n", r.Schema)
		case r.Applied:
			_, _ = fmt.Fprintf(w, "%s: applied\n", r.Schema)
		default:
			_, _ = fmt.Fprintf(w, "%s: pending\n", r.Schema)
		}
		for _, stmt := range r.Rendered {
			_, _ = fmt.Fprintf(w, "  %s\n", strings.ReplaceAll(stmt, "\n", "\n  "))
		}
	}
}

func newSchemaDescribeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "describe <schema>",
		Short: "Show the columns and indexes of a schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = a.close() }()

			repo, err := c.Repository(args[0])
			if err != nil {
				return err
			}
			describeSchema(cmd.OutOrStdout(), repo.Schema())
			return nil
		},
	}
}

func describeSchema(w io.Writer, s *modelstore.Schema) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Column", "Kind", "Declaration", "Part Of"})
	for _, c := range s.Columns() {
		if c.Kind != modelstore.KindComposite {
			t.AppendRow(table.Row{c.Name, c.Kind, backend.ColumnDeclaration(c), ""})
			continue
		}
		for _, p := range c.Parts {
			t.AppendRow(table.Row{p.Name, p.Kind, backend.ColumnDeclaration(p), c.Name})
		}
	}
	t.Render()

	indexes := s.Indexes()
	if len(indexes) == 0 {
		return
	}
	it := table.NewWriter()
	it.SetOutputMirror(w)
	it.SetStyle(table.StyleLight)
	it.AppendHeader(table.Row{"Index", "Kind", "Columns"})
	for _, idx := range indexes {
		it.AppendRow(table.Row{idx.Name, idx.Kind, strings.Join(idx.Columns, ", ")})
	}
	it.Render()
}
