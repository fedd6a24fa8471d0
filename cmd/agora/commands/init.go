package commands

import (
	"github.com/spf13/cobra"

	"github.com/dyluth/agora/internal/printer"
	"github.com/dyluth/agora/internal/scaffold"
)

var (
	forceInit bool
	initDir   string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter agora.yml",
	Long: `Write an agora.yml with every setting at its default, ready to edit.

Use --force to overwrite an existing agora.yml.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&forceInit, "force", false, "Overwrite an existing agora.yml")
	initCmd.Flags().StringVar(&initDir, "dir", ".", "Directory to write agora.yml into")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	path, err := scaffold.Initialize(initDir, forceInit)
	if err != nil {
		return printer.Error("initialization failed", err.Error(), nil)
	}
	scaffold.PrintSuccess(cmd.OutOrStdout(), path)
	return nil
}
