package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/frogdesign/akart/internal/config"
)

var rosterCmd = &cobra.Command{
	Use:   "roster",
	Short: "Manage the cars in the game",
}

var rosterListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the roster",
	Long:  `List every car the locator tracks with the ids of its left and right markers.`,
	Example: `  # Table format (default)
  akart roster list

  # JSON format
  akart roster list --format json`,
	RunE: runRosterList,
}

var rosterAddCmd = &cobra.Command{
	Use:   "add ID LEFT RIGHT",
	Short: "Add a car to the roster",
	Example: `  # Add a car with markers 4 and 5
  akart roster add puffo 4 5`,
	Args: cobra.ExactArgs(3),
	RunE: runRosterAdd,
}

var rosterRemoveCmd = &cobra.Command{
	Use:   "remove ID",
	Short: "Remove a car from the roster",
	Args:  cobra.ExactArgs(1),
	RunE:  runRosterRemove,
}

var rosterFormat string

func init() {
	rootCmd.AddCommand(rosterCmd)
	rosterCmd.AddCommand(rosterListCmd)
	rosterCmd.AddCommand(rosterAddCmd)
	rosterCmd.AddCommand(rosterRemoveCmd)

	rosterListCmd.Flags().StringVarP(&rosterFormat, "format", "f", "table", "output format (table or json)")
}

func runRosterList(cmd *cobra.Command, args []string) error {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cars := configMgr.Get().Roster

	switch rosterFormat {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(cars)
	case "table":
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tLEFT\tRIGHT")
		for _, c := range cars {
			fmt.Fprintf(w, "%s\t%d\t%d\n", c.ID, c.Left, c.Right)
		}
		return w.Flush()
	default:
		return fmt.Errorf("unsupported format: %s (use 'table' or 'json')", rosterFormat)
	}
}

func runRosterAdd(cmd *cobra.Command, args []string) error {
	var left, right int
	if _, err := fmt.Sscanf(args[1], "%d", &left); err != nil {
		return fmt.Errorf("invalid marker id: %s", args[1])
	}
	if _, err := fmt.Sscanf(args[2], "%d", &right); err != nil {
		return fmt.Errorf("invalid marker id: %s", args[2])
	}

	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg := configMgr.Get()
	cfg.Roster = append(cfg.Roster, config.CarConfig{ID: args[0], Left: left, Right: right})
	if err := configMgr.Update(cfg); err != nil {
		return fmt.Errorf("failed to add %s: %w", args[0], err)
	}

	fmt.Printf("Added %s (markers %d, %d)\n", args[0], left, right)
	return nil
}

func runRosterRemove(cmd *cobra.Command, args []string) error {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg := configMgr.Get()

	kept := cfg.Roster[:0]
	for _, c := range cfg.Roster {
		if c.ID != args[0] {
			kept = append(kept, c)
		}
	}
	if len(kept) == len(cfg.Roster) {
		return fmt.Errorf("car not in roster: %s", args[0])
	}
	cfg.Roster = kept
	if err := configMgr.Update(cfg); err != nil {
		return err
	}

	fmt.Printf("Removed %s\n", args[0])
	return nil
}
