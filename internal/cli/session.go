package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/loqalabs/loqa-scribe/internal/protocol"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
)

var (
	saveTitle    string
	saveTags     []string
	saveFavorite bool
)

var sessionCmd = &cobra.Command{
	Use:     "session",
	Aliases: []string{"s"},
	Short:   "Start, stop and inspect the recording session",
}

func stateCommand(use, short, subject string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reply, err := call(cmd, subject, protocol.Request{})
			if err != nil {
				return err
			}
			return printState(cmd.OutOrStdout(), reply.State)
		},
	}
}

var speakerCmd = &cobra.Command{
	Use:   "speaker <name>",
	Short: "Attribute the following speech to a different speaker",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reply, err := call(cmd, protocol.SubjectSessionSpeaker, protocol.Request{Speaker: args[0]})
		if err != nil {
			return err
		}
		return printState(cmd.OutOrStdout(), reply.State)
	},
}

var saveCmd = &cobra.Command{
	Use:   "save",
	Short: "Save the current transcript to history",
	Long: `Save the current transcript to history. A running session is stopped first.

Examples:
  scribe session save
  scribe session save --title "Weekly sync" --tag team,planning --favorite`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		req := protocol.Request{Title: saveTitle, Tags: splitTags(saveTags)}
		if saveFavorite {
			req.Favorite = &saveFavorite
		}
		reply, err := call(cmd, protocol.SubjectSessionSave, req)
		if err != nil {
			return err
		}
		return printRecord(cmd.OutOrStdout(), reply.Record)
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream session state changes until interrupted",
	Args:  cobra.NoArgs,
	RunE:  runWatch,
}

func init() {
	saveCmd.Flags().StringVarP(&saveTitle, "title", "t", "", "record title (defaults to the save time)")
	saveCmd.Flags().StringSliceVar(&saveTags, "tag", nil, "tags, comma separated or repeated")
	saveCmd.Flags().BoolVar(&saveFavorite, "favorite", false, "mark the record as favorite")

	sessionCmd.AddCommand(
		stateCommand("start", "Start recording and transcribing", protocol.SubjectSessionStart),
		stateCommand("stop", "Stop recording; the transcript is kept until saved or discarded", protocol.SubjectSessionStop),
		stateCommand("pause", "Pause the audio file recording", protocol.SubjectSessionPause),
		stateCommand("resume", "Resume a paused recording", protocol.SubjectSessionResume),
		stateCommand("discard", "Drop the current transcript", protocol.SubjectSessionDiscard),
		stateCommand("status", "Show the current session state", protocol.SubjectSessionStatus),
		stateCommand("dismiss", "Clear the displayed error", protocol.SubjectSessionDismiss),
		speakerCmd,
		saveCmd,
		watchCmd,
	)
	rootCmd.AddCommand(sessionCmd)
}

func runWatch(cmd *cobra.Command, _ []string) error {
	c, err := client(cmd.Context())
	if err != nil {
		return err
	}
	defer c.Close()

	out := cmd.OutOrStdout()
	sub, err := c.Conn().Subscribe(protocol.SubjectSessionState, func(msg *nats.Msg) {
		var st protocol.SessionState
		if err := json.Unmarshal(msg.Data, &st); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "bad state message: %v\n", err)
			return
		}
		_ = printState(out, &st)
	})
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)
	select {
	case <-sig:
	case <-cmd.Context().Done():
	}
	return nil
}

func printState(w io.Writer, st *protocol.SessionState) error {
	if st == nil {
		return nil
	}
	if jsonOutput {
		return printJSON(w, st)
	}
	status := "idle"
	switch {
	case st.Recording && st.Paused:
		status = "paused"
	case st.Recording:
		status = "recording"
	}
	elapsed := (time.Duration(st.ElapsedMS) * time.Millisecond).Round(time.Second)
	fmt.Fprintf(w, "%s  %s  speaker=%q\n", status, elapsed, st.Speaker)
	if st.Error != "" {
		fmt.Fprintf(w, "error: %s\n", st.Error)
	}
	for _, seg := range st.Segments {
		fmt.Fprintf(w, "  [%s] %s: %s\n", formatOffset(seg.Offset), seg.Speaker, seg.Text)
	}
	if len(st.Segments) == 0 && strings.TrimSpace(st.Transcript) != "" {
		fmt.Fprintf(w, "  %s\n", st.Transcript)
	}
	return nil
}

func formatOffset(sec float64) string {
	d := time.Duration(sec * float64(time.Second))
	return fmt.Sprintf("%02d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}
