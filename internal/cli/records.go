package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/rzpsarthak13/modelstore/internal/schema"
	"github.com/rzpsarthak13/modelstore/pkg/modelstore"
)

// queryFlags are the selection flags shared by records subcommands.
type queryFlags struct {
	where  []string
	isNull []string
	sort   []string
	offset int
	limit  int
}

func (q *queryFlags) register(cmd *cobra.Command, ranged bool) {
	cmd.Flags().StringArrayVarP(&q.where, "where", "w", nil, "column=value condition (repeatable)")
	cmd.Flags().StringArrayVar(&q.isNull, "null", nil, "column that must be NULL (repeatable)")
	if ranged {
		cmd.Flags().StringArrayVarP(&q.sort, "sort", "s", nil, "sort column, prefix with - for descending (repeatable)")
		cmd.Flags().IntVar(&q.offset, "offset", 0, "skip this many records")
		cmd.Flags().IntVarP(&q.limit, "limit", "n", 0, "return at most this many records (0 for all)")
	}
}

// collection builds the selection described by the flags. Values are
// converted to the stored form of their column, so --where Age=30 matches an
// integer column.
func (q *queryFlags) collection(repo *modelstore.Repository) (*modelstore.Collection, error) {
	s := repo.Schema()
	mapper := schema.NewTypeMapper()
	c := repo.Collection()
	for _, w := range q.where {
		name, raw, ok := strings.Cut(w, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --where %q: want column=value", w)
		}
		col, ok := s.StorageColumn(name)
		if !ok {
			return nil, &modelstore.SchemaError{Schema: s.Name, Column: name, Message: "unknown column"}
		}
		if col.Kind == modelstore.KindList {
			c.Filter(modelstore.ListContains(name, raw))
			continue
		}
		value, err := mapper.Normalize(col, raw)
		if err != nil {
			return nil, fmt.Errorf("invalid --where %q: %w", w, err)
		}
		c.Filter(modelstore.Equals(name, value))
	}
	for _, name := range q.isNull {
		c.Filter(modelstore.IsNull(name))
	}
	var sorts []modelstore.Sort
	for _, key := range q.sort {
		if name, ok := strings.CutPrefix(key, "-"); ok {
			sorts = append(sorts, modelstore.Desc(name))
		} else {
			sorts = append(sorts, modelstore.Asc(key))
		}
	}
	if len(sorts) > 0 {
		c.Sort(sorts...)
	}
	if q.offset != 0 || q.limit != 0 {
		c.SetRange(q.offset, q.limit)
	}
	return c, nil
}

func newRecordsCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "records",
		Short: "Read records of a schema",
	}
	cmd.AddCommand(newRecordsListCommand(a))
	cmd.AddCommand(newRecordsCountCommand(a))
	cmd.AddCommand(newRecordsSumCommand(a))
	return cmd
}

func newRecordsListCommand(a *app) *cobra.Command {
	var (
		q      queryFlags
		output string
	)
	cmd := &cobra.Command{
		Use:   "list <schema>",
		Short: "List records",
		Example: `  modelstore records list people --where Status=old --sort -Age --limit 10
  modelstore records list people --null Age -o json`,
		Args: cobra.ExactArgs(1),
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
			coll, err := q.collection(repo)
			if err != nil {
				return err
			}
			entities, err := coll.Entities(cmd.Context())
			if err != nil {
				return err
			}
			return renderEntities(cmd.OutOrStdout(), output, repo.Schema(), entities)
		},
	}
	q.register(cmd, true)
	cmd.Flags().StringVarP(&output, "output", "o", "table", "output format (table|json)")
	_ = cmd.RegisterFlagCompletionFunc("output", func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return []string{"table", "json"}, cobra.ShellCompDirectiveNoFileComp
	})
	return cmd
}

func renderEntities(w io.Writer, output string, s *modelstore.Schema, entities []*modelstore.Entity) error {
	switch output {
	case "json":
		records := make([]modelstore.Row, 0, len(entities))
		for _, e := range entities {
			values, err := e.Values()
			if err != nil {
				return err
			}
			records = append(records, values)
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	case "table", "":
	default:
		return fmt.Errorf("unsupported output format: %s", output)
	}

	if len(entities) == 0 {
		_, _ = fmt.Fprintln(w, "(0 records)")
		return nil
	}
	cols := s.Columns()
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	header := make(table.Row, len(cols))
	for i, col := range cols {
		header[i] = col.Name
	}
	t.AppendHeader(header)
	for _, e := range entities {
		row := make(table.Row, len(cols))
		for i, col := range cols {
			v, err := e.Display(col.Name)
			if err != nil {
				return err
			}
			row[i] = v
		}
		t.AppendRow(row)
	}
	t.Render()
	_, _ = fmt.Fprintf(w, "(%d records)\n", len(entities))
	return nil
}

func newRecordsCountCommand(a *app) *cobra.Command {
	var q queryFlags
	cmd := &cobra.Command{
		Use:   "count <schema>",
		Short: "Count records",
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
			coll, err := q.collection(repo)
			if err != nil {
				return err
			}
			n, err := coll.Count(cmd.Context())
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		},
	}
	q.register(cmd, false)
	return cmd
}

func newRecordsSumCommand(a *app) *cobra.Command {
	var q queryFlags
	cmd := &cobra.Command{
		Use:   "sum <schema> <column>",
		Short: "Total a numeric column",
		Args:  cobra.ExactArgs(2),
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
			coll, err := q.collection(repo)
			if err != nil {
				return err
			}
			res, err := coll.CalculateAggregates(cmd.Context(), modelstore.Sum(args[1]))
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), res[0])
			return nil
		},
	}
	q.register(cmd, false)
	return cmd
}
