package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"atlas-game-engine/internal/domain"
)

// NewValidateCmd checks a manifest file without starting the engine.
func NewValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:          "validate <manifest.json>",
		Short:        "Validate a game manifest and report defects",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			m, findings := domain.ParseManifest(raw)
			for _, f := range findings {
				fmt.Fprintln(cmd.OutOrStdout(), f.Error())
			}
			if m == nil {
				return fmt.Errorf("%s: %d fatal defect(s)", args[0], len(findings.Fatal()))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d scenes, %d warnings)\n",
				m.GameID, len(m.Scenes), len(findings.Warnings()))
			return nil
		},
	}
}
