package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"ppm/src/composer"
	"ppm/src/config"
	"ppm/src/draft"
	"ppm/src/tokenizer"
)

var (
	editScript string
	editDryRun bool
)

var editCmd = &cobra.Command{
	Use:   "edit <persona>",
	Short: "Stage a script of token changes and commit them together",
	Long: `Replay a TOML script of create, update and delete operations against a
draft of the persona's tokens, show the resulting prompts and commit every
change in one transaction. With --dry-run the draft is discarded instead.

A script name without a directory is also looked up in the scripts
directory ($XDG_CONFIG_HOME/ppm/scripts).

Example script:
  [[op]]
  kind = "create"
  granularity = "face"
  contents = "green eyes, freckles"

  [[op]]
  kind = "update"
  token = "red hair"
  set = { weight = 1.2 }

  [[op]]
  kind = "delete"
  token = "short hair"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sc, err := draft.LoadScript(scriptPath(editScript))
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		p, err := store.FindPersona(ctx, args[0])
		if err != nil {
			return err
		}
		snapshot, err := store.GetTokensByPersona(ctx, p.ID)
		if err != nil {
			return err
		}
		levels, err := store.GetGranularityLevels(ctx)
		if err != nil {
			return err
		}

		session := draft.New(p.ID, store, draft.WithLogger(logger))
		if err := session.Start(snapshot); err != nil {
			return err
		}
		if err := sc.Apply(session); err != nil {
			_, _ = session.Discard()
			return err
		}

		w := cmd.OutOrStdout()
		printPending(w, session.Pending())

		counter, closeCache, err := newCounter()
		if err != nil {
			_, _ = session.Discard()
			return err
		}
		defer closeCache()

		modelID, err := personaModel(cmd, store, p.ID)
		if err != nil {
			_, _ = session.Discard()
			return err
		}

		prompt := composer.Compose(session.CurrentView(), levels, settings.Prompt.ComposeOptions())
		pos, neg := tokenizer.Annotate(ctx, counter, &prompt, modelID)
		fmt.Fprintln(w)
		printPrompt(w, "Positive", prompt.PositivePrompt, pos)
		printPrompt(w, "Negative", prompt.NegativePrompt, neg)

		if editDryRun || !session.HasChanges() {
			if _, err := session.Discard(); err != nil {
				return err
			}
			fmt.Fprintln(w, "\nNothing committed")
			return nil
		}

		staged := len(session.Pending())
		committed, err := session.Commit(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "\nCommitted %d operations; %s now has %d tokens\n", staged, p.Name, len(committed))
		return nil
	},
}

func scriptPath(name string) string {
	if _, err := os.Stat(name); err == nil || strings.ContainsRune(name, filepath.Separator) {
		return name
	}
	candidate := filepath.Join(config.GetScriptsDir(), name)
	if filepath.Ext(candidate) == "" {
		candidate += ".toml"
	}
	return candidate
}

func printPending(w io.Writer, ops []draft.Operation) {
	if len(ops) == 0 {
		fmt.Fprintln(w, "No changes staged")
		return
	}
	fmt.Fprintf(w, "%d staged operations:\n", len(ops))
	for _, op := range ops {
		switch op.Kind {
		case draft.OpCreate:
			fmt.Fprintf(w, "  + %s [%s, %s]\n", op.Payload.FormatForPrompt(true), op.Payload.GranularityID, op.Payload.Polarity)
		case draft.OpUpdate:
			updated := op.Original
			updated.Apply(op.Changes)
			fmt.Fprintf(w, "  ~ %s -> %s\n", op.Original.FormatForPrompt(true), updated.FormatForPrompt(true))
		case draft.OpDelete:
			fmt.Fprintf(w, "  - %s\n", op.Original.FormatForPrompt(true))
		}
	}
}

func init() {
	rootCmd.AddCommand(editCmd)

	editCmd.Flags().StringVarP(&editScript, "script", "s", "", "Script file of staged operations")
	editCmd.Flags().BoolVar(&editDryRun, "dry-run", false, "Show the result without committing")
	editCmd.MarkFlagRequired("script")
}
