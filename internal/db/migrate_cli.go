package db

import (
	"fmt"
	"io"
	"strconv"
)

// RunMigrateCommand handles the 'migrate' subcommand: up, down, status,
// version <n> and force <n>. Output goes to out.
func RunMigrateCommand(args []string, dbPath string, out io.Writer) error {
	if len(args) < 1 || args[0] == "help" {
		PrintMigrateHelp(out)
		if len(args) < 1 {
			return fmt.Errorf("missing migrate action")
		}
		return nil
	}

	// Open without migrating; the subcommand manages the schema.
	database, err := OpenDB(dbPath)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()
	migrations := MigrationsFS()

	switch action := args[0]; action {
	case "up":
		if err := database.MigrateUp(migrations); err != nil {
			return err
		}
	case "down":
		if err := database.MigrateDown(migrations); err != nil {
			return err
		}
	case "status":
	case "version", "force":
		if len(args) < 2 {
			return fmt.Errorf("usage: musicviz migrate %s <version_number>", action)
		}
		n, err := strconv.ParseUint(args[1], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid version number %q: %w", args[1], err)
		}
		if action == "version" {
			err = database.MigrateTo(migrations, uint(n))
		} else {
			err = database.MigrateForce(migrations, int(n))
		}
		if err != nil {
			return err
		}
	default:
		PrintMigrateHelp(out)
		return fmt.Errorf("unknown migrate action: %s", action)
	}

	version, dirty, err := database.MigrateVersion(migrations)
	if err != nil {
		return fmt.Errorf("failed to get migration status: %w", err)
	}
	fmt.Fprintf(out, "Current version: %d (dirty: %v)\n", version, dirty)
	if dirty {
		fmt.Fprintln(out, "WARNING: a migration failed mid-execution; inspect the database, then run: musicviz migrate force <version>")
	}
	return nil
}

// PrintMigrateHelp writes usage for the migrate subcommand.
func PrintMigrateHelp(out io.Writer) {
	fmt.Fprint(out, `Usage: musicviz migrate <action> [args]

Actions:
  up                 apply all pending migrations
  down               roll back the most recent migration
  status             show the current schema version
  version <n>        migrate up or down to version n
  force <n>          mark the schema as version n (recovery only)
  help               show this help
`)
}
