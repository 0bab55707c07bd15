package cli

import (
	"fmt"
	"io"
	"sort"

	"github.com/loqalabs/loqa-scribe/internal/prefs"
	"github.com/loqalabs/loqa-scribe/internal/protocol"
	"github.com/spf13/cobra"
)

// prefKeys maps the short names accepted on the command line to stored keys.
var prefKeys = map[string]string{
	"onboarding": prefs.KeyOnboardingComplete,
	"use-case":   prefs.KeyUseCase,
}

func prefKey(name string) string {
	if key, ok := prefKeys[name]; ok {
		return key
	}
	return name
}

var prefsCmd = &cobra.Command{
	Use:   "prefs",
	Short: "Show or change user preferences",
}

var prefsGetCmd = &cobra.Command{
	Use:   "get [key]",
	Short: "Show onboarding state, use case and an optional named preference",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var req protocol.Request
		if len(args) == 1 {
			req.Key = prefKey(args[0])
		}
		reply, err := call(cmd, protocol.SubjectPrefsGet, req)
		if err != nil {
			return err
		}
		return printPrefs(cmd.OutOrStdout(), reply.Prefs)
	},
}

var prefsSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set onboarding (true|false), use-case or any named preference",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		value := args[1]
		reply, err := call(cmd, protocol.SubjectPrefsSet, protocol.Request{Key: prefKey(args[0]), Value: &value})
		if err != nil {
			return err
		}
		return printPrefs(cmd.OutOrStdout(), reply.Prefs)
	},
}

func init() {
	prefsCmd.AddCommand(prefsGetCmd, prefsSetCmd)
	rootCmd.AddCommand(prefsCmd)
}

func printPrefs(w io.Writer, p *protocol.Preferences) error {
	if p == nil {
		p = &protocol.Preferences{}
	}
	if jsonOutput {
		return printJSON(w, p)
	}
	fmt.Fprintf(w, "onboarding: %t\n", p.OnboardingComplete)
	fmt.Fprintf(w, "use-case:   %s\n", p.UseCase)
	names := make([]string, 0, len(p.Values))
	for name := range p.Values {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "%s: %s\n", name, p.Values[name])
	}
	return nil
}
