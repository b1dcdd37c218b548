package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// newPersonasCmd creates the `personas` command.
func newPersonasCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "personas",
		Short: "List the personas known to the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			personas, err := a.client.ListPersonas(cmd.Context())
			if err != nil {
				return err
			}
			if len(personas) == 0 {
				fmt.Fprintln(a.out, color.YellowString("⚠")+" No personas configured. Create some through the API first.")
				return nil
			}
			for i, p := range personas {
				fmt.Fprintf(a.out, "%s %s (%s)\n", personaColor(i).Sprintf("#%d", p.ID), color.New(color.Bold).Sprint(p.Name), p.ModelType)
				fmt.Fprintf(a.out, "   Background: %s\n", p.Background)
				fmt.Fprintf(a.out, "   Goal:       %s\n", p.Goal)
			}
			return nil
		},
	}
}

// newModelsCmd creates the `models` command.
func newModelsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the model types a persona can use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			models, err := a.client.ListModels(cmd.Context())
			if err != nil {
				return err
			}
			for _, m := range models {
				fmt.Fprintf(a.out, "%-22s %-8s %s\n", color.CyanString(string(m.ID)), m.Provider, m.Name)
			}
			return nil
		},
	}
}
