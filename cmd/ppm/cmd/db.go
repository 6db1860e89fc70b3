package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var importYes bool

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Export or import the database",
}

var dbExportCmd = &cobra.Command{
	Use:   "export <file>",
	Short: "Write a copy of the database to file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.Export(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Exported %s to %s\n", store.Path(), args[0])
		return nil
	},
}

var dbImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Replace the database with an exported copy",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		info, err := store.InspectImport(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%s: schema version %d, %d personas\n", info.Path, info.SchemaVersion, info.Personas)
		if !importYes {
			fmt.Fprintln(w, "This replaces every persona and token in the current database. Re-run with --yes to import.")
			return nil
		}

		if _, err := store.Import(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(w, "Imported into %s\n", store.Path())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(dbCmd)
	dbCmd.AddCommand(dbExportCmd)
	dbCmd.AddCommand(dbImportCmd)

	dbImportCmd.Flags().BoolVarP(&importYes, "yes", "y", false, "Import without asking")
}
