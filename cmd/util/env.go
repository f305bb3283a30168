package util

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

// GetEnvWithDefault returns the value of an environment variable or a
// default value if not set.
func GetEnvWithDefault(envVar, defaultValue string) string {
	if value := os.Getenv(envVar); value != "" {
		return value
	}
	return defaultValue
}

// GetEnvIntWithDefault returns an environment variable parsed as int, or
// a default value if unset or unparsable.
func GetEnvIntWithDefault(envVar string, defaultValue int) int {
	if value := os.Getenv(envVar); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// PreRunEWithEnvVars builds a PreRunE that fills --dbname/--username/--host/--port
// from PGDATABASE/PGUSER/PGHOST/PGPORT when the flag was not set on the
// command line. It always returns nil; checking that dbname and username
// ended up non-empty is left to RequireDBAndUser.
func PreRunEWithEnvVars(dbPtr, userPtr, hostPtr *string, portPtr *int) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if !cmd.Flags().Changed("dbname") {
			if v := GetEnvWithDefault("PGDATABASE", ""); v != "" {
				*dbPtr = v
			}
		}
		if !cmd.Flags().Changed("username") {
			if v := GetEnvWithDefault("PGUSER", ""); v != "" {
				*userPtr = v
			}
		}
		if hostPtr != nil && !cmd.Flags().Changed("host") {
			if v := GetEnvWithDefault("PGHOST", ""); v != "" {
				*hostPtr = v
			}
		}
		if portPtr != nil && !cmd.Flags().Changed("port") {
			if v := GetEnvIntWithDefault("PGPORT", 0); v != 0 {
				*portPtr = v
			}
		}
		return nil
	}
}

// RequireDBAndUser returns an error naming the missing flag/env-var pair
// if either dbname or username ended up empty. Commands call this after
// PreRunEWithEnvVars and after checking for --uri, which makes both
// optional.
func RequireDBAndUser(db, user string) error {
	if db == "" {
		return fmt.Errorf("database name is required (use --dbname flag or PGDATABASE environment variable)")
	}
	if user == "" {
		return fmt.Errorf("database user is required (use --username flag or PGUSER environment variable)")
	}
	return nil
}
