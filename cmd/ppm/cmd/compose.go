package cmd

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"ppm/src/composer"
	"ppm/src/database"
	"ppm/src/tokenizer"
)

var (
	composeNoWeights     bool
	composeSeparator     string
	composeOnly          []string
	composeAdhocPositive string
	composeAdhocNegative string
	composeAdhocPosition string
	composeBreakdown     bool
	composeJSON          bool
)

var composeCmd = &cobra.Command{
	Use:   "compose <persona>",
	Short: "Compose a persona's positive and negative prompts",
	Long: `Render a persona's committed tokens into prompt text, with token usage
for the configured model.

Examples:
  ppm compose Aria
  ppm compose Aria --only face,hair --no-weights
  ppm compose Aria --adhoc-positive "masterpiece, best quality" --adhoc-position beginning`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
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
		tokens, err := store.GetTokensByPersona(ctx, p.ID)
		if err != nil {
			return err
		}
		levels, err := store.GetGranularityLevels(ctx)
		if err != nil {
			return err
		}

		opts, err := composeOptions(cmd)
		if err != nil {
			return err
		}
		prompt := composer.Compose(tokens, levels, opts)

		counter, closeCache, err := newCounter()
		if err != nil {
			return err
		}
		defer closeCache()
		modelID, err := personaModel(cmd, store, p.ID)
		if err != nil {
			return err
		}
		pos, neg := tokenizer.Annotate(ctx, counter, &prompt, modelID)

		w := cmd.OutOrStdout()
		if composeJSON {
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]interface{}{
				"prompt":   prompt,
				"positive": pos,
				"negative": neg,
			})
		}

		if composeBreakdown {
			printBreakdown(w, prompt)
			fmt.Fprintln(w)
		}
		printPrompt(w, "Positive", prompt.PositivePrompt, pos)
		printPrompt(w, "Negative", prompt.NegativePrompt, neg)
		return nil
	},
}

// composeOptions starts from the configured prompt settings and applies the
// flags the user set.
func composeOptions(cmd *cobra.Command) (composer.Options, error) {
	opts := settings.Prompt.ComposeOptions()
	flags := cmd.Flags()

	if composeNoWeights {
		opts.IncludeWeights = false
	}
	if flags.Changed("separator") {
		opts.Separator = composeSeparator
	}
	opts.GranularityOrder = composeOnly
	opts.AdhocPositive = composeAdhocPositive
	opts.AdhocNegative = composeAdhocNegative
	if flags.Changed("adhoc-position") {
		switch pos := composer.AdhocPosition(composeAdhocPosition); pos {
		case composer.AdhocBeginning, composer.AdhocEnd:
			opts.AdhocPosition = pos
		default:
			return opts, fmt.Errorf("invalid --adhoc-position %q (beginning or end)", composeAdhocPosition)
		}
	}
	return opts, nil
}

// personaModel resolves the model to count against: an explicit --model
// flag, else the persona's model, else the configured default.
func personaModel(cmd *cobra.Command, store *database.Store, personaID string) (string, error) {
	if cmd.Flags().Changed("model") {
		return settings.Tokenizer.DefaultModel, nil
	}
	return store.PersonaModel(cmd.Context(), personaID, settings.Tokenizer.DefaultModel)
}

var countPersona string

var countCmd = &cobra.Command{
	Use:   "count <text>",
	Short: "Count the tokens of a prompt for a model",
	Long: `Count the tokens of a prompt. With --persona, the persona's model is used
unless --model is given.

Examples:
  ppm count "red hair, blue eyes"
  ppm count "red hair, blue eyes" --persona Aria`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		modelID := settings.Tokenizer.DefaultModel
		if countPersona != "" {
			store, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			p, err := store.FindPersona(cmd.Context(), countPersona)
			if err != nil {
				return err
			}
			if modelID, err = personaModel(cmd, store, p.ID); err != nil {
				return err
			}
		}

		counter, closeCache, err := newCounter()
		if err != nil {
			return err
		}
		defer closeCache()

		c, err := counter.CountTokens(cmd.Context(), args[0], modelID)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%s tokens (%.0f%% of %d usable, tokenizer %s)\n", c.Display(), c.UsagePercent, c.UsableTokens, c.TokenizerID)
		if c.ExceedsLimit {
			fmt.Fprintf(w, "Prompt exceeds the %d token limit of %s\n", c.UsableTokens, c.ModelID)
		}
		return nil
	},
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List models with a known tokenizer configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "MODEL\tFAMILY\tID\tTOKENIZER\tUSABLE/MAX")
		for _, m := range tokenizer.KnownModels() {
			marker := ""
			if m.ModelID == settings.Tokenizer.DefaultModel {
				marker = " *"
			}
			family := tokenizer.PromptContextForModel(m.ModelID).Family
			fmt.Fprintf(tw, "%s%s\t%s\t%s\t%s\t%d/%d\n", m.ShortName(), marker, family, m.ModelID, m.TokenizerID, m.UsableTokens, m.MaxTokens)
		}
		return tw.Flush()
	},
}

func init() {
	rootCmd.AddCommand(composeCmd)
	rootCmd.AddCommand(countCmd)
	rootCmd.AddCommand(modelsCmd)

	composeCmd.Flags().BoolVar(&composeNoWeights, "no-weights", false, "Render tokens without weight modifiers")
	composeCmd.Flags().StringVar(&composeSeparator, "separator", ", ", "Token separator")
	composeCmd.Flags().StringSliceVar(&composeOnly, "only", nil, "Granularity ids to include, in order")
	composeCmd.Flags().StringVar(&composeAdhocPositive, "adhoc-positive", "", "Extra text for the positive prompt")
	composeCmd.Flags().StringVar(&composeAdhocNegative, "adhoc-negative", "", "Extra text for the negative prompt")
	composeCmd.Flags().StringVar(&composeAdhocPosition, "adhoc-position", "end", "Where extra text goes: beginning or end")
	composeCmd.Flags().BoolVarP(&composeBreakdown, "breakdown", "b", false, "Show tokens per category")
	composeCmd.Flags().BoolVar(&composeJSON, "json", false, "Print the composition as JSON")

	countCmd.Flags().StringVarP(&countPersona, "persona", "p", "", "Count with this persona's model")
	countCmd.RegisterFlagCompletionFunc("persona", completePersonas)
}
