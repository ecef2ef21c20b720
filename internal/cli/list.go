package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pitabwire/intake/model"
)

func newSchemasCmd(o *options) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "schemas",
		Short: "List the request templates offered by the backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := o.load()
			if err != nil {
				return err
			}
			defer e.logger.Sync()

			templates, err := e.gateway.Schemas(cmd.Context())
			if err != nil {
				return fmt.Errorf("loading schemas: %w", err)
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), templates)
			}
			return writeTemplates(cmd.OutOrStdout(), templates)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func newRequestsCmd(o *options) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "requests",
		Short: "List the requests stored by the backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := o.load()
			if err != nil {
				return err
			}
			defer e.logger.Sync()

			records, err := e.gateway.Requests(cmd.Context())
			if err != nil {
				return fmt.Errorf("loading requests: %w", err)
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), records)
			}
			return writeRecords(cmd.OutOrStdout(), records)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeTemplates(w io.Writer, templates []model.RequestData) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tSECTIONS\tFIELDS")
	for _, t := range templates {
		fields := 0
		for _, s := range t.Sections {
			fields += len(s.Fields)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\n", t.ID, t.Title, len(t.Sections), fields)
	}
	return tw.Flush()
}

func writeRecords(w io.Writer, records []model.RequestRecord) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tSTATUS\tCREATED\tANSWERS")
	for _, r := range records {
		answered := 0
		for _, q := range r.Questions {
			if q.Answer != nil {
				answered++
			}
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d/%d\n",
			r.ID, r.Title, r.Status, r.CreatedAt.Format("2006-01-02 15:04"), answered, len(r.Questions))
	}
	return tw.Flush()
}
