package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"ppm/src/reorder"
	"ppm/src/token"
)

var (
	tokenGranularity string
	tokenNegative    bool
	tokenWeight      float64

	updateContent     string
	updateWeight      float64
	updateGranularity string
	updatePolarity    string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage a persona's tokens directly",
	Long: `Add, list, update, delete and reorder tokens. Changes are written
immediately; use 'ppm edit' to stage several changes and commit them together.

Examples:
  ppm token add Aria "red hair, long hair" --granularity hair
  ppm token add Aria "blurry" --granularity general --negative
  ppm token update <token-id> --weight 1.3
  ppm token move Aria 0 2`,
}

func polarityFlag(negative bool) token.Polarity {
	if negative {
		return token.Negative
	}
	return token.Positive
}

var tokenAddCmd = &cobra.Command{
	Use:   "add <persona> <contents>",
	Short: "Add one token per comma separated segment",
	Args:  cobra.ExactArgs(2),
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

		req := token.BatchCreateRequest{
			PersonaID:     p.ID,
			GranularityID: tokenGranularity,
			Polarity:      polarityFlag(tokenNegative),
			Contents:      args[1],
			Weight:        tokenWeight,
		}.Normalize()
		if err := req.Validate(); err != nil {
			return err
		}

		created, err := store.CreateTokensBatch(ctx, req)
		if err != nil {
			return err
		}
		for _, t := range created {
			fmt.Fprintf(cmd.OutOrStdout(), "Added %s (%s)\n", t.FormatForPrompt(true), t.ID)
		}
		return nil
	},
}

var tokenListCmd = &cobra.Command{
	Use:   "list <persona>",
	Short: "List a persona's tokens",
	Args:  cobra.ExactArgs(1),
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
		printTokens(cmd.OutOrStdout(), tokens, levels)
		return nil
	},
}

var tokenUpdateCmd = &cobra.Command{
	Use:   "update <token-id>",
	Short: "Change a token's content, weight, category or polarity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var changes token.FieldChanges
		flags := cmd.Flags()
		if flags.Changed("content") {
			changes.Content = &updateContent
		}
		if flags.Changed("weight") {
			changes.Weight = &updateWeight
		}
		if flags.Changed("granularity") {
			changes.GranularityID = &updateGranularity
		}
		if flags.Changed("polarity") {
			p, err := token.ParsePolarity(updatePolarity)
			if err != nil {
				return err
			}
			changes.Polarity = &p
		}
		if err := changes.Validate(); err != nil {
			return err
		}

		store, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		t, err := store.UpdateToken(cmd.Context(), args[0], changes)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Updated %s\n", t.FormatForPrompt(true))
		return nil
	},
}

var tokenDeleteCmd = &cobra.Command{
	Use:   "delete <token-id>...",
	Short: "Delete tokens",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		for _, id := range args {
			if err := store.DeleteToken(cmd.Context(), id); err != nil {
				return fmt.Errorf("delete %s: %w", id, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", id)
		}
		return nil
	},
}

var tokenMoveCmd = &cobra.Command{
	Use:   "move <persona> <from> <to>",
	Short: "Move a token within its polarity group",
	Long: `Move the token at position <from> to position <to> of the persona's
positive (or, with --negative, negative) group. Positions are 0-based and
follow the group's current order.`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		from, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid position %q", args[1])
		}
		to, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("invalid position %q", args[2])
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
		current, err := store.GetTokensByPersona(ctx, p.ID)
		if err != nil {
			return err
		}

		polarity := polarityFlag(tokenNegative)
		order, err := reorder.Move(current, polarity, from, to)
		if err != nil {
			return err
		}
		tokens, err := reorder.NewReconciler(store, logger).Reorder(ctx, p.ID, polarity, current, order)
		if err != nil {
			return err
		}

		for i, t := range reorder.Group(tokens, polarity) {
			fmt.Fprintf(cmd.OutOrStdout(), "%2d  %s\n", i, t.FormatForPrompt(true))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.AddCommand(tokenAddCmd)
	tokenCmd.AddCommand(tokenListCmd)
	tokenCmd.AddCommand(tokenUpdateCmd)
	tokenCmd.AddCommand(tokenDeleteCmd)
	tokenCmd.AddCommand(tokenMoveCmd)

	tokenAddCmd.Flags().StringVarP(&tokenGranularity, "granularity", "g", token.General, "Granularity level id")
	tokenAddCmd.Flags().BoolVarP(&tokenNegative, "negative", "n", false, "Add to the negative prompt")
	tokenAddCmd.Flags().Float64VarP(&tokenWeight, "weight", "w", token.DefaultWeight, "Weight between 0.1 and 2.0")

	tokenMoveCmd.Flags().BoolVarP(&tokenNegative, "negative", "n", false, "Reorder the negative group")

	tokenUpdateCmd.Flags().StringVar(&updateContent, "content", "", "New content")
	tokenUpdateCmd.Flags().Float64Var(&updateWeight, "weight", token.DefaultWeight, "New weight")
	tokenUpdateCmd.Flags().StringVar(&updateGranularity, "granularity", "", "New granularity level id")
	tokenUpdateCmd.Flags().StringVar(&updatePolarity, "polarity", "", "New polarity (positive or negative)")
}
