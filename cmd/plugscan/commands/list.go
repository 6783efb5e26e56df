package commands

import (
	"io"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/snowmerak/plugscan/lib/descriptor"
	"github.com/spf13/cobra"
)

func newListCmd(g *globalFlags) *cobra.Command {
	var blacklisted bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cataloged addons",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(g)
			if err != nil {
				return err
			}
			h, err := openCatalog(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer h.Close()

			var rows []*descriptor.Descriptor
			for _, d := range h.catalog.All() {
				if blacklisted && !d.IsPlaceholder() {
					continue
				}
				rows = append(rows, d)
			}
			printCatalog(cmd.OutOrStdout(), rows)
			return nil
		},
	}
	cmd.Flags().BoolVar(&blacklisted, "blacklisted", false, "only show addons that could not be inspected")
	return cmd
}

// printCatalog writes one row per descriptor in the borderless layout used
// by every plugscan table.
func printCatalog(w io.Writer, ds []*descriptor.Descriptor) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Name", "Version", "Features", "Depends", "Status", "File"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)

	for _, d := range ds {
		status := "ok"
		if d.IsPlaceholder() {
			status = "blacklisted"
		}
		table.Append([]string{
			d.Name,
			d.Version,
			strconv.Itoa(len(d.Features)),
			strings.Join(d.Dependencies, ","),
			status,
			d.Filename,
		})
	}
	table.Render()
}
