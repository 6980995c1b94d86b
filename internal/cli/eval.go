package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/auditflow/internal/logging"
	"github.com/telhawk-systems/auditflow/internal/metrics"
)

var (
	evalEvent  string
	evalFile   string
	evalOutput string
)

var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Show which pipelines an event would be routed to",
	Long: `Evaluates every pipeline condition against one event without calling
any transformer or sink. The event is read from --event, from --file, or from
standard input when --file is "-".`,
	Example: `  auditflow eval --event '{"eventType":"user.login","user":{"role":"admin"}}'
  cat event.json | auditflow eval --file -`,
	Args: cobra.NoArgs,
	RunE: runEval,
}

func init() {
	evalCmd.Flags().StringVarP(&evalEvent, "event", "e", "", "event JSON")
	evalCmd.Flags().StringVarP(&evalFile, "file", "f", "", "file holding the event JSON, - for stdin")
	evalCmd.Flags().StringVarP(&evalOutput, "output", "o", "table", "output format: table, json")
	evalCmd.MarkFlagsMutuallyExclusive("event", "file")
	rootCmd.AddCommand(evalCmd)
}

// Decision is the routing outcome of one pipeline for the evaluated event.
type Decision struct {
	Pipeline string `json:"pipeline"`
	Outcome  string `json:"outcome"`
}

func runEval(cmd *cobra.Command, args []string) error {
	raw, err := readEvent(cmd.InOrStdin())
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	orch, dispatchers, err := buildOrchestrator(cfg, logging.Default(), staticResolvers(cfg))
	if err != nil {
		return err
	}
	defer dispatchers.Close()

	matched := orch.Match(raw)
	decisions := make([]Decision, 0, len(orch.Pipelines()))
	for _, p := range orch.Pipelines() {
		outcome := metrics.OutcomeNotMatched
		switch {
		case !p.Enabled:
			outcome = metrics.OutcomeDisabled
		case slices.Contains(matched, p.Name):
			outcome = "matched"
		}
		decisions = append(decisions, Decision{Pipeline: p.Name, Outcome: outcome})
	}

	out := cmd.OutOrStdout()
	switch evalOutput {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(decisions)
	case "table", "":
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "PIPELINE\tOUTCOME")
		for _, d := range decisions {
			fmt.Fprintf(w, "%s\t%s\n", d.Pipeline, d.Outcome)
		}
		return w.Flush()
	}
	return fmt.Errorf("unknown output format %q", evalOutput)
}

func readEvent(stdin io.Reader) ([]byte, error) {
	switch evalFile {
	case "":
		if evalEvent == "" {
			return nil, errors.New("an event is required: use --event or --file")
		}
		return []byte(evalEvent), nil
	case "-":
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read event from stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(evalFile)
	if err != nil {
		return nil, fmt.Errorf("read event: %w", err)
	}
	return data, nil
}
