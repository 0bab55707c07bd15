package cli

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/loqalabs/loqa-scribe/internal/export"
	"github.com/loqalabs/loqa-scribe/internal/protocol"
	"github.com/spf13/cobra"
)

var (
	listQuery     string
	listTag       string
	listFavorites bool
	listSort      string
	clearYes      bool
	unfavorite    bool
	exportFormat  string
	exportOutput  string
	exportRemote  bool
	shareDocument bool
)

var historyCmd = &cobra.Command{
	Use:     "history",
	Aliases: []string{"h"},
	Short:   "Browse and edit saved transcriptions",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved transcriptions, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		req := protocol.Request{Query: listQuery, Tag: listTag, Sort: listSort}
		if listFavorites {
			req.Favorite = &listFavorites
		}
		reply, err := call(cmd, protocol.SubjectHistoryList, req)
		if err != nil {
			return err
		}
		return printRecords(cmd.OutOrStdout(), reply.Records)
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one transcription",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reply, err := call(cmd, protocol.SubjectHistoryGet, protocol.Request{ID: args[0]})
		if err != nil {
			return err
		}
		return printRecord(cmd.OutOrStdout(), reply.Record)
	},
}

var historyDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete one transcription",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := call(cmd, protocol.SubjectHistoryDelete, protocol.Request{ID: args[0]}); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
		return nil
	},
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every saved transcription",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if !clearYes {
			return errors.New("refusing to clear history without --yes")
		}
		if _, err := call(cmd, protocol.SubjectHistoryClear, protocol.Request{}); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "history cleared")
		return nil
	},
}

var historyRenameCmd = &cobra.Command{
	Use:   "rename <id> <title>",
	Short: "Change a transcription's title",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		reply, err := call(cmd, protocol.SubjectHistoryUpdate, protocol.Request{ID: args[0], Title: args[1]})
		if err != nil {
			return err
		}
		return printRecord(cmd.OutOrStdout(), reply.Record)
	},
}

var historyFavoriteCmd = &cobra.Command{
	Use:   "favorite <id>",
	Short: "Mark a transcription as favorite (or --off to unmark)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fav := !unfavorite
		reply, err := call(cmd, protocol.SubjectHistoryUpdate, protocol.Request{ID: args[0], Favorite: &fav})
		if err != nil {
			return err
		}
		return printRecord(cmd.OutOrStdout(), reply.Record)
	},
}

var historyTagCmd = &cobra.Command{
	Use:   "tag <id> <tags...>",
	Short: "Replace a transcription's tags",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		tags := splitTags(args[1:])
		if len(tags) == 0 {
			return errors.New("no tags given")
		}
		reply, err := call(cmd, protocol.SubjectHistoryUpdate, protocol.Request{ID: args[0], Tags: tags})
		if err != nil {
			return err
		}
		return printRecord(cmd.OutOrStdout(), reply.Record)
	},
}

var historyExportCmd = &cobra.Command{
	Use:   "export <id>",
	Short: "Export a transcription as pdf, txt or md",
	Long: `Export a transcription as a document.

Examples:
  scribe history export 1f0c... --format pdf
  scribe history export 1f0c... --format md --output notes/standup.md
  scribe history export 1f0c... --format txt --remote`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

var historyShareCmd = &cobra.Command{
	Use:   "share <id>",
	Short: "Print the shareable text of a transcription, or write it as a PDF with --document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := protocol.Request{ID: args[0]}
		if shareDocument {
			req.Format = string(export.ShareDocument)
		}
		reply, err := call(cmd, protocol.SubjectHistoryShare, req)
		if err != nil {
			return err
		}
		if reply.Document == nil {
			_, err := io.WriteString(cmd.OutOrStdout(), reply.Text)
			return err
		}
		return writeExport(cmd, reply)
	},
}

func init() {
	historyListCmd.Flags().StringVarP(&listQuery, "query", "q", "", "match title or text")
	historyListCmd.Flags().StringVar(&listTag, "tag", "", "only records with this tag")
	historyListCmd.Flags().BoolVar(&listFavorites, "favorites", false, "only favorites")
	historyListCmd.Flags().StringVar(&listSort, "sort", "", "newest, oldest or title")
	historyClearCmd.Flags().BoolVarP(&clearYes, "yes", "y", false, "confirm deleting everything")
	historyFavoriteCmd.Flags().BoolVar(&unfavorite, "off", false, "remove the favorite mark")
	historyExportCmd.Flags().StringVarP(&exportFormat, "format", "f", "pdf", "pdf, txt or md")
	historyExportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "output path (defaults to the document's filename)")
	historyExportCmd.Flags().BoolVar(&exportRemote, "remote", false, "write into the daemon's export directory instead")
	historyShareCmd.Flags().BoolVar(&shareDocument, "document", false, "share as a PDF document")
	historyShareCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "output path for --document")

	historyCmd.AddCommand(
		historyListCmd,
		historyShowCmd,
		historyDeleteCmd,
		historyClearCmd,
		historyRenameCmd,
		historyFavoriteCmd,
		historyTagCmd,
		historyExportCmd,
		historyShareCmd,
	)
	rootCmd.AddCommand(historyCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	if _, err := export.ParseFormat(exportFormat); err != nil {
		return err
	}
	reply, err := call(cmd, protocol.SubjectHistoryExport, protocol.Request{ID: args[0], Format: exportFormat, Save: exportRemote})
	if err != nil {
		return err
	}
	if exportRemote {
		fmt.Fprintf(cmd.OutOrStdout(), "daemon wrote %s\n", reply.Path)
		return nil
	}
	return writeExport(cmd, reply)
}

func writeExport(cmd *cobra.Command, reply protocol.Reply) error {
	path := exportOutput
	if path == "" {
		path = reply.Filename
	}
	doc := export.Document{Data: reply.Document, Filename: filepath.Base(path), MIME: reply.MIME}
	if err := export.WriteDocument(path, doc); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes)\n", path, len(reply.Document))
	return nil
}

func printRecords(w io.Writer, records []protocol.Record) error {
	if jsonOutput {
		return printJSON(w, records)
	}
	if len(records) == 0 {
		fmt.Fprintln(w, "no saved transcriptions")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDATE\tTITLE\tTAGS\t")
	for _, r := range records {
		title := r.Title
		if r.Favorite {
			title = "* " + title
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t\n", r.ID, r.Date.Local().Format("2006-01-02 15:04"), title, joinTags(r.Tags))
	}
	return tw.Flush()
}

func printRecord(w io.Writer, r *protocol.Record) error {
	if r == nil {
		return nil
	}
	if jsonOutput {
		return printJSON(w, r)
	}
	fmt.Fprintf(w, "%s\n%s", r.Title, r.Date.Local().Format("Jan 2, 2006 at 3:04 PM"))
	if r.Favorite {
		fmt.Fprint(w, "  (favorite)")
	}
	fmt.Fprintf(w, "\nid: %s\n", r.ID)
	if len(r.Tags) > 0 {
		fmt.Fprintf(w, "tags: %s\n", joinTags(r.Tags))
	}
	fmt.Fprintln(w)
	if len(r.Segments) == 0 {
		fmt.Fprintln(w, r.Text)
		return nil
	}
	for _, seg := range r.Segments {
		fmt.Fprintf(w, "[%s] %s: %s\n", formatOffset(seg.Offset), seg.Speaker, seg.Text)
	}
	return nil
}

func joinTags(tags []string) string {
	if len(tags) == 0 {
		return ""
	}
	return "#" + strings.Join(tags, ", #")
}
