package cmd

import (
	"database/sql"
	"fmt"

	"github.com/pgschema/pgmerge/cmd/util"
	"github.com/spf13/cobra"
)

// connectFlags holds the connection flags common to export, import, and
// inspect, per spec.md §6.
type connectFlags struct {
	host        string
	port        int
	dbname      string
	username    string
	password    string
	noPassword  bool
	uri         string
	schema      string
	configPath  string
	includeDeps bool
}

func registerConnectFlags(cmd *cobra.Command, f *connectFlags) {
	cmd.Flags().StringVar(&f.host, "host", "localhost", "Database server host")
	cmd.Flags().IntVar(&f.port, "port", 5432, "Database server port")
	cmd.Flags().StringVar(&f.dbname, "dbname", "", "Database name (or PGDATABASE)")
	cmd.Flags().StringVar(&f.username, "username", "", "Database user name (or PGUSER)")
	cmd.Flags().StringVar(&f.password, "password", "", "Database password")
	cmd.Flags().BoolVar(&f.noPassword, "no-password", false, "Never prompt for a password")
	cmd.Flags().StringVar(&f.uri, "uri", "", "Full connection URI (overrides other connection flags)")
	cmd.Flags().StringVar(&f.schema, "schema", "public", "Schema to operate on")
	cmd.Flags().StringVar(&f.configPath, "config", "", "Path to the table configuration YAML file")
	cmd.Flags().BoolVarP(&f.includeDeps, "include-dependent-tables", "i", false, "Expand the table list to include every table the selection depends on")

	cmd.PreRunE = util.PreRunEWithEnvVars(&f.dbname, &f.username, &f.host, &f.port)
}

// connect resolves the password (flag, pgpass file, or interactive
// prompt) and opens the database connection.
func (f *connectFlags) connect() (*sql.DB, error) {
	if f.uri == "" {
		if err := util.RequireDBAndUser(f.dbname, f.username); err != nil {
			return nil, err
		}
	}

	password, err := util.ResolvePassword(f.password, f.noPassword, f.uri != "", f.host, f.port, f.dbname, f.username)
	if err != nil {
		return nil, fmt.Errorf("resolving password: %w", err)
	}

	return util.Connect(&util.ConnectionConfig{
		Host:            f.host,
		Port:            f.port,
		Database:        f.dbname,
		User:            f.username,
		Password:        password,
		URI:             f.uri,
		SSLMode:         "prefer",
		ApplicationName: "pgmerge",
	})
}
