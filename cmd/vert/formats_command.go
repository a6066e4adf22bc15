package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"vert/internal/conversion"
	"vert/internal/logging"
	"vert/internal/media"
)

func newFormatsCommand(ctx *commandContext) *cobra.Command {
	var kindFlag string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "formats",
		Short: "List the supported conversion routes",
		RunE: func(cmd *cobra.Command, args []string) error {
			var kind media.Kind
			if strings.TrimSpace(kindFlag) != "" {
				parsed, err := media.ParseKind(kindFlag)
				if err != nil {
					return err
				}
				kind = parsed
			}
			mgr, err := ctx.newManager(logging.NewNop())
			if err != nil {
				return err
			}
			capabilities := filterCapabilities(mgr.Registry().Capabilities(), kind)
			if asJSON {
				return writeJSON(cmd, capabilities)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderCapabilities(capabilities))
			return nil
		},
	}

	cmd.Flags().StringVar(&kindFlag, "kind", "", "Only show one kind: video, audio, image or document")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the routes as JSON")
	return cmd
}

func filterCapabilities(capabilities []conversion.Capability, kind media.Kind) []conversion.Capability {
	if kind == "" {
		return capabilities
	}
	var out []conversion.Capability
	for _, c := range capabilities {
		if c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

func renderCapabilities(capabilities []conversion.Capability) string {
	title := cases.Title(language.English)
	var rows [][]string
	for _, c := range capabilities {
		for _, route := range c.Routes {
			outputs := make([]string, 0, len(route.Outputs))
			for _, f := range route.Outputs {
				outputs = append(outputs, f.String())
			}
			rows = append(rows, []string{
				title.String(string(c.Kind)),
				c.Converter,
				route.Input.String(),
				strings.Join(outputs, ", "),
			})
		}
	}
	return renderTable([]string{"Kind", "Converter", "Input", "Outputs"}, rows, nil)
}
