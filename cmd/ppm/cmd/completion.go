package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

// completionCmd represents the completion command
var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate completion script",
	Long: `Generate shell completion scripts for ppm. Persona arguments complete
from the configured database.

Without an argument, setup instructions for the current shell are printed.`,
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.RangeArgs(0, 1), cobra.OnlyValidArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		w := cmd.OutOrStdout()
		if len(args) == 0 {
			shell := filepath.Base(os.Getenv("SHELL"))
			switch shell {
			case "bash":
				fmt.Fprintln(w, "source <(ppm completion bash)")
			case "zsh":
				fmt.Fprintln(w, "ppm completion zsh > \"${fpath[1]}/_ppm\"")
			case "fish":
				fmt.Fprintln(w, "ppm completion fish > ~/.config/fish/completions/ppm.fish")
			default:
				fmt.Fprintf(w, "Shell %q not detected; run ppm completion bash|zsh|fish|powershell\n", shell)
			}
			return nil
		}

		switch args[0] {
		case "bash":
			return cmd.Root().GenBashCompletionV2(w, true)
		case "zsh":
			return cmd.Root().GenZshCompletion(w)
		case "fish":
			return cmd.Root().GenFishCompletion(w, true)
		default:
			return cmd.Root().GenPowerShellCompletionWithDesc(w)
		}
	},
}

// completePersonas offers persona names for the first positional argument.
func completePersonas(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	if settings == nil {
		if err := setup(); err != nil {
			return nil, cobra.ShellCompDirectiveError
		}
	}

	store, err := openStore(cmd.Context())
	if err != nil {
		return nil, cobra.ShellCompDirectiveError
	}
	defer store.Close()

	personas, err := store.ListPersonas(cmd.Context())
	if err != nil {
		return nil, cobra.ShellCompDirectiveError
	}
	names := make([]string, 0, len(personas))
	for _, p := range personas {
		names = append(names, p.Name)
	}
	return names, cobra.ShellCompDirectiveNoFileComp
}

func init() {
	rootCmd.AddCommand(completionCmd)

	for _, c := range []*cobra.Command{
		personaDeleteCmd, personaDuplicateCmd,
		personaUpdateCmd, personaParamsCmd,
		tokenAddCmd, tokenListCmd, tokenMoveCmd,
		composeCmd, editCmd,
	} {
		c.ValidArgsFunction = completePersonas
	}
}
