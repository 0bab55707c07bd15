package cli

import (
	"fmt"
	"io"

	"github.com/loqalabs/loqa-scribe/internal/protocol"
	"github.com/spf13/cobra"
)

var speakersCmd = &cobra.Command{
	Use:   "speakers",
	Short: "Manage saved speaker names",
}

func speakersCommand(use, short, subject string, args cobra.PositionalArgs) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			var req protocol.Request
			if len(args) > 0 {
				req.Speaker = args[0]
			}
			reply, err := call(cmd, subject, req)
			if err != nil {
				return err
			}
			return printSpeakers(cmd.OutOrStdout(), reply.Speakers)
		},
	}
}

func init() {
	speakersCmd.AddCommand(
		speakersCommand("list", "List saved speaker names", protocol.SubjectSpeakersList, cobra.NoArgs),
		speakersCommand("add <name>", "Save a speaker name", protocol.SubjectSpeakersAdd, cobra.ExactArgs(1)),
		speakersCommand("remove <name>", "Forget a speaker name", protocol.SubjectSpeakersRemove, cobra.ExactArgs(1)),
	)
	rootCmd.AddCommand(speakersCmd)
}

func printSpeakers(w io.Writer, names []string) error {
	if jsonOutput {
		if names == nil {
			names = []string{}
		}
		return printJSON(w, names)
	}
	for _, n := range names {
		fmt.Fprintln(w, n)
	}
	return nil
}
