package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nfrund/namefeed/internal/config"
	"github.com/nfrund/namefeed/internal/names"
)

var namesFile string

var namesCmd = &cobra.Command{
	Use:   "names",
	Short: "List the names in a names file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := namesFile
		if path == "" {
			cfg, err := config.New()
			if err != nil {
				return err
			}
			path = cfg.NamesFile
		}
		if path == "" {
			return errors.New("no names file: set NAMES_FILE or pass --file")
		}

		all, err := names.NewOSFileStore(path).RetrieveAll(cmd.Context())
		if err != nil {
			return err
		}
		for _, n := range all {
			fmt.Fprintln(cmd.OutOrStdout(), n)
		}
		return nil
	},
}

func init() {
	namesCmd.Flags().StringVarP(&namesFile, "file", "f", "", "names file, defaults to NAMES_FILE")
	rootCmd.AddCommand(namesCmd)
}
