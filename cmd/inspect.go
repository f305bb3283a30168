package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/pgschema/pgmerge/internal/catalog"
	"github.com/pgschema/pgmerge/internal/color"
	"github.com/pgschema/pgmerge/internal/depgraph"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var inspectFlags connectFlags
var inspectNoColor bool

var InspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Read-only schema queries: tables, insertion order, cycles",
}

var inspectTablesCmd = &cobra.Command{
	Use:   "tables",
	Short: "List tables in the schema",
	RunE:  runInspectTables,
}

var inspectColumnsCmd = &cobra.Command{
	Use:   "columns <table>",
	Short: "Show a table's columns, primary key, and foreign keys",
	Args:  requireArgs(cobra.ExactArgs(1)),
	RunE:  runInspectColumns,
}

var inspectOrderCmd = &cobra.Command{
	Use:   "order [tables...]",
	Short: "Print the dependency-respecting insertion order",
	RunE:  runInspectOrder,
}

var inspectCyclesCmd = &cobra.Command{
	Use:   "cycles [tables...]",
	Short: "List foreign-key dependency cycles",
	RunE:  runInspectCycles,
}

var inspectDotCmd = &cobra.Command{
	Use:   "dot [tables...]",
	Short: "Print the dependency graph as Graphviz dot",
	RunE:  runInspectDot,
}

func init() {
	for _, c := range []*cobra.Command{inspectTablesCmd, inspectColumnsCmd, inspectOrderCmd, inspectCyclesCmd, inspectDotCmd} {
		registerConnectFlags(c, &inspectFlags)
		c.Flags().BoolVar(&inspectNoColor, "no-color", false, "Disable colored output")
		InspectCmd.AddCommand(c)
	}
}

func inspectContext(cmd *cobra.Command) (context.Context, catalog.Inspector, func(), error) {
	ctx := context.Background()
	db, err := inspectFlags.connect()
	if err != nil {
		return nil, nil, nil, err
	}
	return ctx, catalog.NewInspector(db), func() { db.Close() }, nil
}

// tablesInScope returns the explicit table arguments, or every table in
// the schema when none were given.
func tablesInScope(ctx context.Context, inspector catalog.Inspector, schema string, args []string) ([]string, error) {
	if len(args) > 0 {
		return args, nil
	}
	return inspector.ListTables(ctx, schema)
}

func runInspectTables(cmd *cobra.Command, args []string) error {
	ctx, inspector, closeDB, err := inspectContext(cmd)
	if err != nil {
		return err
	}
	defer closeDB()

	tables, err := inspector.ListTables(ctx, inspectFlags.schema)
	if err != nil {
		return err
	}
	for _, t := range tables {
		fmt.Println(t)
	}
	return nil
}

func runInspectColumns(cmd *cobra.Command, args []string) error {
	ctx, inspector, closeDB, err := inspectContext(cmd)
	if err != nil {
		return err
	}
	defer closeDB()

	table := args[0]
	cols, err := inspector.Columns(ctx, inspectFlags.schema, table)
	if err != nil {
		return err
	}
	pk, err := inspector.PrimaryKey(ctx, inspectFlags.schema, table)
	if err != nil {
		return err
	}
	fks, err := inspector.ForeignKeys(ctx, inspectFlags.schema, table)
	if err != nil {
		return err
	}
	comment, err := inspector.TableComment(ctx, inspectFlags.schema, table)
	if err != nil {
		return err
	}
	if comment != nil {
		fmt.Println(*comment)
	}

	tableData := pterm.TableData{{"Column", "Type", "Nullable", "Default", "Identity"}}
	for _, c := range cols {
		def := ""
		if c.Default != nil {
			def = *c.Default
		}
		tableData = append(tableData, []string{c.Name, c.DataType, fmt.Sprint(c.Nullable), def, fmt.Sprint(c.IsIdentity)})
	}
	pterm.DefaultTable.WithHasHeader().WithData(tableData).Render()

	if len(pk) > 0 {
		fmt.Printf("Primary key: %s\n", strings.Join(pk, ", "))
	}
	for _, fk := range fks {
		fmt.Printf("Foreign key %s: (%s) -> %s.%s (%s)\n",
			fk.Name, strings.Join(fk.LocalColumns, ", "), fk.ReferredSchema, fk.ReferredTable, strings.Join(fk.ReferredColumns, ", "))
	}
	return nil
}

func runInspectOrder(cmd *cobra.Command, args []string) error {
	ctx, inspector, closeDB, err := inspectContext(cmd)
	if err != nil {
		return err
	}
	defer closeDB()

	tables, err := tablesInScope(ctx, inspector, inspectFlags.schema, args)
	if err != nil {
		return err
	}
	graph, err := depgraph.Build(ctx, inspector, inspectFlags.schema, tables)
	if err != nil {
		return err
	}

	c := color.New(!inspectNoColor)
	if depgraph.HasCycleAmong(graph, tables) {
		fmt.Println(c.Warn("warning: dependency cycle present; order below is heuristic"))
	}
	for _, t := range depgraph.InsertionOrder(graph) {
		fmt.Println(t)
	}
	return nil
}

func runInspectCycles(cmd *cobra.Command, args []string) error {
	ctx, inspector, closeDB, err := inspectContext(cmd)
	if err != nil {
		return err
	}
	defer closeDB()

	tables, err := tablesInScope(ctx, inspector, inspectFlags.schema, args)
	if err != nil {
		return err
	}
	graph, err := depgraph.Build(ctx, inspector, inspectFlags.schema, tables)
	if err != nil {
		return err
	}

	c := color.New(!inspectNoColor)
	cycles := depgraph.SimpleCycles(graph)
	if len(cycles) == 0 {
		fmt.Println(c.OK("no cycles"))
		return nil
	}
	for _, cycle := range cycles {
		fmt.Println(c.Warn(strings.Join(cycle, " -> ")))
	}
	return nil
}

func runInspectDot(cmd *cobra.Command, args []string) error {
	ctx, inspector, closeDB, err := inspectContext(cmd)
	if err != nil {
		return err
	}
	defer closeDB()

	tables, err := tablesInScope(ctx, inspector, inspectFlags.schema, args)
	if err != nil {
		return err
	}
	graph, err := depgraph.Build(ctx, inspector, inspectFlags.schema, tables)
	if err != nil {
		return err
	}

	cyclic := map[string]bool{}
	for _, cycle := range depgraph.SimpleCycles(graph) {
		for _, t := range cycle {
			cyclic[t] = true
		}
	}

	var sb strings.Builder
	sb.WriteString("digraph dependencies {\n")
	for _, t := range graph.Nodes {
		attr := ""
		if cyclic[t] {
			attr = ` [color=red]`
		}
		sb.WriteString(fmt.Sprintf("  %q%s;\n", t, attr))
	}
	for _, e := range graph.AllEdges() {
		sb.WriteString(fmt.Sprintf("  %q -> %q [label=%q];\n", e.From, e.To, e.FKName))
	}
	sb.WriteString("}\n")
	fmt.Print(sb.String())
	return nil
}
