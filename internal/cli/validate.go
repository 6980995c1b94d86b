package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/telhawk-systems/auditflow/internal/config"
	"github.com/telhawk-systems/auditflow/internal/logging"
)

var validateOutput string

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration and list the pipelines",
	Long: `Loads the configuration, applies defaults and environment overrides,
and checks every pipeline: names, sink kinds, condition operators and match
modes. Exits non-zero when the configuration is invalid. No broker or
service is contacted.`,
	Args: cobra.NoArgs,
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().StringVarP(&validateOutput, "output", "o", "table", "output format: table, yaml")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	orch, dispatchers, err := buildOrchestrator(cfg, logging.Default(), staticResolvers(cfg))
	if err != nil {
		return err
	}
	defer dispatchers.Close()

	out := cmd.OutOrStdout()
	switch validateOutput {
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(map[string]any{"pipelines": orch.Pipelines()}); err != nil {
			return fmt.Errorf("encode pipelines: %w", err)
		}
		return enc.Close()
	case "table", "":
		printPipelines(out, orch.Pipelines())
		fmt.Fprintf(out, "\nConfiguration is valid (%d pipelines, %d enabled)\n",
			len(cfg.Pipelines), len(cfg.EnabledPipelines()))
		return nil
	}
	return fmt.Errorf("unknown output format %q", validateOutput)
}

func printPipelines(out io.Writer, pipelines []config.Pipeline) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tENABLED\tMATCH\tRULES\tTRANSFORMER\tSINK")
	for _, p := range pipelines {
		transformer := p.TransformerName()
		if transformer == "" {
			transformer = "-"
		}
		rules := 0
		if p.Condition != nil {
			rules = len(p.Condition.Rules)
		}
		fmt.Fprintf(w, "%s\t%t\t%s\t%d\t%s\t%s:%s\n",
			p.Name, p.Enabled, p.Condition.Mode(), rules, transformer, p.Sink.Kind, p.Sink.Name)
	}
	w.Flush()
}
