package cmd

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"ppm/src/database"
)

var (
	personaDescription string
	personaTags        []string

	updateName        string
	updateDescription string
	updateTags        []string

	paramsModel     string
	paramsSeed      int64
	paramsSteps     int
	paramsCFGScale  float64
	paramsSampler   string
	paramsScheduler string
)

var personaCmd = &cobra.Command{
	Use:   "persona",
	Short: "Manage personas",
	Long: `Create, list, search, update, duplicate and delete personas.

Examples:
  ppm persona create Aria --tags fantasy,elf
  ppm persona list
  ppm persona search elf
  ppm persona update Aria --description "winter mage"
  ppm persona params Aria --model Kwai-Kolors/Kolors --steps 40
  ppm persona duplicate Aria "Aria (winter)"
  ppm persona delete Aria`,
}

var personaCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a persona",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		p, err := store.CreatePersona(cmd.Context(), database.CreatePersonaRequest{
			Name:        args[0],
			Description: personaDescription,
			Tags:        personaTags,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created persona %s (%s)\n", p.Name, p.ID)
		return nil
	},
}

var personaListCmd = &cobra.Command{
	Use:   "list",
	Short: "List personas",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		personas, err := store.ListPersonas(cmd.Context())
		if err != nil {
			return err
		}
		return printPersonas(cmd.OutOrStdout(), personas)
	},
}

var personaSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Find personas by name or description",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		personas, err := store.SearchPersonas(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printPersonas(cmd.OutOrStdout(), personas)
	},
}

func printPersonas(w io.Writer, personas []database.Persona) error {
	if len(personas) == 0 {
		fmt.Fprintln(w, "No personas found")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tTAGS\tUPDATED")
	for _, p := range personas {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.ID, p.Name, strings.Join(p.Tags, ","), p.UpdatedAt.Format("2006-01-02 15:04"))
	}
	return tw.Flush()
}

var personaUpdateCmd = &cobra.Command{
	Use:   "update <persona>",
	Short: "Rename a persona or change its description or tags",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		var req database.UpdatePersonaRequest
		if flags.Changed("name") {
			req.Name = &updateName
		}
		if flags.Changed("description") {
			req.Description = &updateDescription
		}
		if flags.Changed("tags") {
			req.Tags = &updateTags
		}
		if req.Name == nil && req.Description == nil && req.Tags == nil {
			return fmt.Errorf("nothing to update: set --name, --description or --tags")
		}

		store, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		p, err := store.FindPersona(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		updated, err := store.UpdatePersona(cmd.Context(), p.ID, req)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Updated persona %s (%s)\n", updated.Name, updated.ID)
		return nil
	},
}

var personaParamsCmd = &cobra.Command{
	Use:   "params <persona>",
	Short: "Show or change a persona's generation parameters",
	Long: `Show a persona's generation parameters. Any flag given is saved first.
An empty --model falls back to the configured tokenizer.default_model.`,
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
		params, err := store.GetGenerationParams(ctx, p.ID)
		if err != nil {
			return err
		}

		flags := cmd.Flags()
		changed := false
		set := func(name string, apply func()) {
			if flags.Changed(name) {
				apply()
				changed = true
			}
		}
		set("set-model", func() { params.ModelID = paramsModel })
		set("seed", func() { params.Seed = paramsSeed })
		set("steps", func() { params.Steps = paramsSteps })
		set("cfg-scale", func() { params.CFGScale = paramsCFGScale })
		set("sampler", func() { params.Sampler = paramsSampler })
		set("scheduler", func() { params.Scheduler = paramsScheduler })

		if changed {
			if err := store.UpdateGenerationParams(ctx, params); err != nil {
				return err
			}
			if params, err = store.GetGenerationParams(ctx, p.ID); err != nil {
				return err
			}
		}

		model := params.ModelID
		if model == "" {
			model = settings.Tokenizer.DefaultModel + " (default)"
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintf(tw, "Persona\t%s\n", p.Name)
		fmt.Fprintf(tw, "Model\t%s\n", model)
		fmt.Fprintf(tw, "Seed\t%d\n", params.Seed)
		fmt.Fprintf(tw, "Steps\t%d\n", params.Steps)
		fmt.Fprintf(tw, "CFG scale\t%.1f\n", params.CFGScale)
		fmt.Fprintf(tw, "Sampler\t%s\n", params.Sampler)
		fmt.Fprintf(tw, "Scheduler\t%s\n", params.Scheduler)
		return tw.Flush()
	},
}

var personaDeleteCmd = &cobra.Command{
	Use:   "delete <persona>",
	Short: "Delete a persona and all of its tokens",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		p, err := store.FindPersona(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if err := store.DeletePersona(cmd.Context(), p.ID); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted persona %s\n", p.Name)
		return nil
	},
}

var personaDuplicateCmd = &cobra.Command{
	Use:   "duplicate <persona> <new-name>",
	Short: "Copy a persona together with its tokens",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		src, err := store.FindPersona(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		p, err := store.DuplicatePersona(cmd.Context(), src.ID, args[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Duplicated %s as %s (%s)\n", src.Name, p.Name, p.ID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(personaCmd)
	personaCmd.AddCommand(personaCreateCmd)
	personaCmd.AddCommand(personaListCmd)
	personaCmd.AddCommand(personaSearchCmd)
	personaCmd.AddCommand(personaUpdateCmd)
	personaCmd.AddCommand(personaParamsCmd)
	personaCmd.AddCommand(personaDeleteCmd)
	personaCmd.AddCommand(personaDuplicateCmd)

	personaCreateCmd.Flags().StringVar(&personaDescription, "description", "", "Persona description")
	personaCreateCmd.Flags().StringSliceVar(&personaTags, "tags", nil, "Comma-separated tags")

	personaUpdateCmd.Flags().StringVar(&updateName, "name", "", "New name")
	personaUpdateCmd.Flags().StringVar(&updateDescription, "description", "", "New description")
	personaUpdateCmd.Flags().StringSliceVar(&updateTags, "tags", nil, "Replacement comma-separated tags")

	personaParamsCmd.Flags().StringVar(&paramsModel, "set-model", "", "Model id for this persona")
	personaParamsCmd.Flags().Int64Var(&paramsSeed, "seed", -1, "Seed, -1 for random")
	personaParamsCmd.Flags().IntVar(&paramsSteps, "steps", 30, "Sampling steps")
	personaParamsCmd.Flags().Float64Var(&paramsCFGScale, "cfg-scale", 7.0, "Classifier-free guidance scale")
	personaParamsCmd.Flags().StringVar(&paramsSampler, "sampler", "", "Sampler name")
	personaParamsCmd.Flags().StringVar(&paramsScheduler, "scheduler", "", "Scheduler name")
}
