/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

/*
Package main provides the CLI commands for managing database migrations of the checkout session
table. Migrations only apply to the postgres data source.
*/

package main

import (
	"database/sql"
	"fmt"
	"log"

	"github.com/blnkfinance/checkout"
	"github.com/blnkfinance/checkout/config"
	pgconn "github.com/blnkfinance/checkout/internal/pg-conn"
	migrate "github.com/rubenv/sql-migrate"
	"github.com/spf13/cobra"
)

// migrateCommands creates the root command for migration-related operations.
func migrateCommands(app *checkoutInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "run checkout session migrations",
	}

	cmd.AddCommand(migrateUpCommands(app))
	cmd.AddCommand(migrateDownCommands(app))

	return cmd
}

func migrationSource() migrate.EmbedFileSystemMigrationSource {
	return migrate.EmbedFileSystemMigrationSource{
		FileSystem: checkout.SQLFiles,
		Root:       "sql",
	}
}

func migrationDB(cnf *config.Configuration) (*sql.DB, error) {
	if cnf.DataSource.Driver != config.DriverPostgres {
		return nil, fmt.Errorf("migrations need the postgres driver, configured driver is %q", cnf.DataSource.Driver)
	}
	db, err := pgconn.ConnectDB(cnf.DataSource)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec("CREATE SCHEMA IF NOT EXISTS checkout"); err != nil {
		_ = db.Close()
		return nil, err
	}
	migrate.SetSchema("checkout")
	return db, nil
}

// migrateUpCommands creates the command for applying migrations.
func migrateUpCommands(app *checkoutInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use: "up",
		Run: func(cmd *cobra.Command, args []string) {
			db, err := migrationDB(app.cnf)
			if err != nil {
				log.Printf("Error connecting to database: %v", err)
				return
			}
			defer db.Close()

			n, err := migrate.Exec(db, "postgres", migrationSource(), migrate.Up)
			if err != nil {
				log.Printf("Error migrating up: %v", err)
			} else {
				fmt.Printf("Applied %d migrations!\n", n)
			}
		},
	}

	return cmd
}

// migrateDownCommands creates the command for rolling back migrations.
func migrateDownCommands(app *checkoutInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use: "down",
		Run: func(cmd *cobra.Command, args []string) {
			db, err := migrationDB(app.cnf)
			if err != nil {
				log.Printf("Error connecting to database: %v", err)
				return
			}
			defer db.Close()

			n, err := migrate.Exec(db, "postgres", migrationSource(), migrate.Down)
			if err != nil {
				log.Printf("Error migrating down: %v", err)
			} else {
				fmt.Printf("Rolled back %d migrations!\n", n)
			}
		},
	}

	return cmd
}
