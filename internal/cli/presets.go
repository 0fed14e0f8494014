package cli

import (
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tutu-network/vpcsim/internal/domain"
)

func init() {
	presetsCmd.Flags().StringVarP(&presetsFormat, "format", "f", "toml", "Output format: toml, yaml or json")
	rootCmd.AddCommand(presetsCmd)
}

var presetsFormat string

var presetsCmd = &cobra.Command{
	Use:   "presets [NAME]",
	Short: "List policy presets or print one",
	Long: `Without arguments, list the preset names and the active policy. With a
name, print that preset in a form that can be saved as a policy file.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPresets,
}

func runPresets(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if len(args) == 0 {
		for _, name := range domain.PresetNames() {
			marker := " "
			if name == cfg.Policy.Name {
				marker = "*"
			}
			p, _ := domain.PolicyPreset(name)
			fmt.Fprintf(out, "%s %-10s %gMB / %g units, refresh %gs\n", marker, name, p.RAMMB, p.CPUUnits, p.RefreshInterval)
		}
		return nil
	}

	p, err := domain.PolicyPreset(args[0])
	if err != nil {
		return err
	}
	switch presetsFormat {
	case "toml":
		return toml.NewEncoder(out).Encode(p)
	case "yaml", "yml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(p); err != nil {
			return err
		}
		return enc.Close()
	case "json":
		return printJSON(out, p)
	default:
		return fmt.Errorf("unknown format %q (want toml, yaml or json)", presetsFormat)
	}
}
