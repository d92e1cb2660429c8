package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/cuemby/gamefeed/pkg/storage"
	"github.com/cuemby/gamefeed/pkg/types"
	"github.com/spf13/cobra"
)

// Partition commands
var partitionsCmd = &cobra.Command{
	Use:   "partitions",
	Short: "Inspect persisted event partitions",
}

var partitionsListCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List partition files recorded in the catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, _ := cmd.Flags().GetString("dir")
		docType, _ := cmd.Flags().GetString("doc-type")

		if docType != "" && !types.DocType(docType).Valid() {
			return fmt.Errorf("unknown doc type %q", docType)
		}

		catalog, err := storage.NewBoltCatalog(dir)
		if err != nil {
			return err
		}
		defer catalog.Close()

		files, err := catalog.List(types.DocType(docType))
		if err != nil {
			return fmt.Errorf("failed to list partitions: %w", err)
		}
		if len(files) == 0 {
			fmt.Println("No partition files recorded")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "DOC TYPE\tDATE\tSESSION\tSEQ\tROWS\tPATH")
		for _, f := range files {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d-%d\t%d\t%s\n",
				f.DocType, f.Date, f.SessionID, f.FirstSeq, f.LastSeq, f.Rows, f.Path)
		}
		return w.Flush()
	},
}

func init() {
	partitionsCmd.AddCommand(partitionsListCmd)

	partitionsListCmd.Flags().String("dir", "data/events", "Event store directory")
	partitionsListCmd.Flags().String("doc-type", "", "Only list this doc type")
}
