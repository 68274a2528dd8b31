// Package main provides the vgw-cli command-line tool for managing the VantageGateway.
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	aigateway "github.com/vantagegw/llm-gateway"
	"github.com/vantagegw/llm-gateway/abtest"
	"github.com/vantagegw/llm-gateway/cost"
	"github.com/vantagegw/llm-gateway/internal/version"
	"github.com/vantagegw/llm-gateway/plugin"

	// Register built-in plugins so they appear in the plugin list.
	_ "github.com/vantagegw/llm-gateway/internal/plugins/cache"
	_ "github.com/vantagegw/llm-gateway/internal/plugins/logger"
	_ "github.com/vantagegw/llm-gateway/internal/plugins/maxtoken"
	_ "github.com/vantagegw/llm-gateway/internal/plugins/wordfilter"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "vgw-cli",
		Short:         "VantageGateway command line tool",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(
		newValidateCmd(),
		newPluginsCmd(),
		newVersionCmd(),
		newRegistryCmd(),
		newBudgetCmd(),
		newExperimentCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version info",
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "vgw-cli %s\n", version.String())
			return nil
		},
	}
}

func newPluginsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plugins",
		Short: "List all registered plugins",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			names := plugin.RegisteredPlugins()
			if len(names) == 0 {
				fmt.Fprintln(out, "No plugins registered.")
				return nil
			}
			fmt.Fprintln(out, "Registered plugins:")
			for _, name := range names {
				factory, _ := plugin.GetFactory(name)
				p := factory()
				fmt.Fprintf(out, "  %-20s type=%s\n", name, p.Type())
			}
			return nil
		},
	}
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <config-file>",
		Short: "Validate a gateway configuration file (JSON/YAML)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			cfg, err := aigateway.LoadConfig(args[0])
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if err := aigateway.ValidateConfig(*cfg); err != nil {
				return fmt.Errorf("validation error: %w", err)
			}

			fmt.Fprintf(out, "✓ Config is valid\n")
			fmt.Fprintf(out, "  Strategy:  %s\n", cfg.Strategy.Mode)
			fmt.Fprintf(out, "  Targets:   %d\n", len(cfg.Targets))

			var targetNames []string
			for _, t := range cfg.Targets {
				targetNames = append(targetNames, t.VirtualKey)
			}
			fmt.Fprintf(out, "  Providers: %s\n", strings.Join(targetNames, ", "))

			if len(cfg.Plugins) > 0 {
				var pluginNames []string
				for _, p := range cfg.Plugins {
					status := "disabled"
					if p.Enabled {
						status = "enabled"
					}
					pluginNames = append(pluginNames, fmt.Sprintf("%s (%s)", p.Name, status))
				}
				fmt.Fprintf(out, "  Plugins:   %s\n", strings.Join(pluginNames, ", "))
			}
			if len(cfg.Registry.Mappings) > 0 {
				fmt.Fprintf(out, "  Models:    %d mapping(s)\n", len(cfg.Registry.Mappings))
			}
			return nil
		},
	}
}

// ── registry ──────────────────────────────────────────────────────────────

func newRegistryCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "registry",
		Short: "Inspect the model registry mappings declared in a gateway config",
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "gateway config file (JSON/YAML)")
	_ = cmd.MarkPersistentFlagRequired("config")

	list := &cobra.Command{
		Use:   "list",
		Short: "List all configured model mappings",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := aigateway.LoadConfig(configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			out := cmd.OutOrStdout()
			if len(cfg.Registry.Mappings) == 0 {
				fmt.Fprintln(out, "No model mappings configured.")
				return nil
			}
			for _, m := range cfg.Registry.Mappings {
				fmt.Fprintf(out, "  %-30s provider=%-12s provider_model=%s\n", m.ModelID, m.Provider, m.ProviderModelID)
			}
			return nil
		},
	}

	show := &cobra.Command{
		Use:   "show <model-id>",
		Short: "Show the full mapping for a single model ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := aigateway.LoadConfig(configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			for _, m := range cfg.Registry.Mappings {
				if m.ModelID != args[0] {
					continue
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Model:            %s\n", m.ModelID)
				fmt.Fprintf(out, "Display name:     %s\n", m.DisplayName)
				fmt.Fprintf(out, "Provider:         %s\n", m.Provider)
				fmt.Fprintf(out, "Provider model:   %s\n", m.ProviderModelID)
				fmt.Fprintf(out, "Context window:   %d\n", m.ContextWindow)
				fmt.Fprintf(out, "Input $/token:    %v\n", m.InputPricePerToken)
				fmt.Fprintf(out, "Output $/token:   %v\n", m.OutputPricePerToken)
				fmt.Fprintf(out, "Fallbacks:        %s\n", strings.Join(m.Fallbacks, ", "))
				return nil
			}
			return fmt.Errorf("model %q not found in registry mappings", args[0])
		},
	}

	cmd.AddCommand(list, show)
	return cmd
}

// ── budget ────────────────────────────────────────────────────────────────

func newBudgetCmd() *cobra.Command {
	var dialect, dsn string
	cmd := &cobra.Command{
		Use:   "budget",
		Short: "Manage spend budgets (C9 cost engine storage)",
	}
	cmd.PersistentFlags().StringVar(&dialect, "dialect", "memory", "storage dialect: memory|sqlite|postgres")
	cmd.PersistentFlags().StringVar(&dsn, "dsn", "", "storage DSN (ignored for memory)")

	cmd.AddCommand(
		newBudgetCreateCmd(&dialect, &dsn),
		newBudgetListCmd(&dialect, &dsn),
		newBudgetShowCmd(&dialect, &dsn),
		newBudgetDeleteCmd(&dialect, &dsn),
	)
	return cmd
}

func newBudgetCreateCmd(dialect, dsn *string) *cobra.Command {
	var id, userID, projectID, resetPeriod string
	var amount, alertPct float64
	var enforce bool
	c := &cobra.Command{
		Use:   "create",
		Short: "Create a budget",
		RunE: func(cmd *cobra.Command, _ []string) error {
			repo, err := openCostRepo(*dialect, *dsn)
			if err != nil {
				return err
			}
			if id == "" {
				id = userID + "-" + strconv.FormatInt(time.Now().UnixNano(), 36)
			}
			b := cost.Budget{
				ID:                id,
				OwnerUserID:       userID,
				ProjectID:         projectID,
				AmountUSD:         amount,
				StartDate:         time.Now().UTC(),
				ResetPeriod:       cost.ResetPeriod(resetPeriod),
				AlertThresholdPct: alertPct,
				Enforce:           enforce,
				CreatedAt:         time.Now().UTC(),
				UpdatedAt:         time.Now().UTC(),
			}
			if err := repo.CreateBudget(cmd.Context(), b); err != nil {
				return fmt.Errorf("create budget: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created budget %s ($%.2f/%s for user %s)\n", id, amount, resetPeriod, userID)
			return nil
		},
	}
	c.Flags().StringVar(&id, "id", "", "budget ID (generated if omitted)")
	c.Flags().StringVar(&userID, "user", "", "owner user ID")
	c.Flags().StringVar(&projectID, "project", "", "project ID (optional)")
	c.Flags().Float64Var(&amount, "amount", 0, "budget amount in USD")
	c.Flags().StringVar(&resetPeriod, "reset-period", string(cost.ResetMonthly), "never|daily|weekly|monthly|quarterly|yearly")
	c.Flags().Float64Var(&alertPct, "alert-pct", 80, "alert threshold percentage")
	c.Flags().BoolVar(&enforce, "enforce", true, "hard-enforce the budget (reject over-budget requests)")
	_ = c.MarkFlagRequired("user")
	return c
}

func newBudgetListCmd(dialect, dsn *string) *cobra.Command {
	var userID, projectID string
	c := &cobra.Command{
		Use:   "list",
		Short: "List budgets for a user (and optional project)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			repo, err := openCostRepo(*dialect, *dsn)
			if err != nil {
				return err
			}
			budgets, err := repo.GetBudgetsForUserAndProject(cmd.Context(), userID, projectID)
			if err != nil {
				return fmt.Errorf("list budgets: %w", err)
			}
			out := cmd.OutOrStdout()
			if len(budgets) == 0 {
				fmt.Fprintln(out, "No budgets found.")
				return nil
			}
			for _, b := range budgets {
				fmt.Fprintf(out, "  %-20s $%-10.2f reset=%-10s enforce=%v\n", b.ID, b.AmountUSD, b.ResetPeriod, b.Enforce)
			}
			return nil
		},
	}
	c.Flags().StringVar(&userID, "user", "", "owner user ID")
	c.Flags().StringVar(&projectID, "project", "", "project ID (optional)")
	_ = c.MarkFlagRequired("user")
	return c
}

func newBudgetShowCmd(dialect, dsn *string) *cobra.Command {
	return &cobra.Command{
		Use:   "show <budget-id>",
		Short: "Show a single budget's usage report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openCostRepo(*dialect, *dsn)
			if err != nil {
				return err
			}
			b, ok, err := repo.GetBudget(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("get budget: %w", err)
			}
			if !ok {
				return fmt.Errorf("budget %q not found", args[0])
			}
			start, end := cost.PeriodWindow(b, time.Now())
			endStr := "none"
			if end != nil {
				endStr = end.Format(time.RFC3339)
			}
			total, err := repo.GetTotalCost(cmd.Context(), b.OwnerUserID, b.ProjectID, start, time.Now().UTC())
			if err != nil {
				return fmt.Errorf("get total cost: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ID:             %s\n", b.ID)
			fmt.Fprintf(out, "User/project:   %s / %s\n", b.OwnerUserID, b.ProjectID)
			fmt.Fprintf(out, "Amount:         $%.2f (%s)\n", b.AmountUSD, b.ResetPeriod)
			fmt.Fprintf(out, "Period:         %s .. %s\n", start.Format(time.RFC3339), endStr)
			fmt.Fprintf(out, "Spent:          $%.2f\n", total)
			fmt.Fprintf(out, "Enforce:        %v\n", b.Enforce)
			return nil
		},
	}
}

func newBudgetDeleteCmd(dialect, dsn *string) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <budget-id>",
		Short: "Delete a budget",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openCostRepo(*dialect, *dsn)
			if err != nil {
				return err
			}
			if err := repo.DeleteBudget(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("delete budget: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted budget %s\n", args[0])
			return nil
		},
	}
}

func openCostRepo(dialect, dsn string) (cost.Repo, error) {
	switch dialect {
	case "", "memory":
		return cost.NewMemoryRepo(), nil
	case "sqlite":
		return cost.NewSQLiteRepo(dsn)
	case "postgres":
		return cost.NewPostgresRepo(dsn)
	default:
		return nil, fmt.Errorf("unknown budget dialect: %s", dialect)
	}
}

// ── experiment ────────────────────────────────────────────────────────────

func newExperimentCmd() *cobra.Command {
	var dialect, dsn string
	cmd := &cobra.Command{
		Use:   "experiment",
		Short: "Manage A/B experiments (C5 experiment engine storage)",
	}
	cmd.PersistentFlags().StringVar(&dialect, "dialect", "memory", "storage dialect: memory|sqlite|postgres")
	cmd.PersistentFlags().StringVar(&dsn, "dsn", "", "storage DSN (ignored for memory)")

	cmd.AddCommand(
		newExperimentCreateCmd(&dialect, &dsn),
		newExperimentListCmd(&dialect, &dsn),
		newExperimentShowCmd(&dialect, &dsn),
		newExperimentDeleteCmd(&dialect, &dsn),
	)
	return cmd
}

func newExperimentCreateCmd(dialect, dsn *string) *cobra.Command {
	var id, name, control, treatment string
	var trafficPct float64
	var active bool
	c := &cobra.Command{
		Use:   "create",
		Short: "Create an A/B experiment",
		RunE: func(cmd *cobra.Command, _ []string) error {
			repo, err := openABRepo(*dialect, *dsn)
			if err != nil {
				return err
			}
			if id == "" {
				id = strings.ReplaceAll(strings.ToLower(name), " ", "-") + "-" + strconv.FormatInt(time.Now().UnixNano(), 36)
			}
			exp := abtest.Experiment{
				ID:                   id,
				Name:                 name,
				Active:               active,
				StartDate:            time.Now().UTC(),
				TrafficAllocationPct: trafficPct,
				ControlModelID:       control,
				TreatmentModelID:     treatment,
				CreatedAt:            time.Now().UTC(),
			}
			if err := repo.CreateExperiment(cmd.Context(), exp); err != nil {
				return fmt.Errorf("create experiment: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created experiment %s (%s vs %s @ %.0f%%)\n", id, control, treatment, trafficPct)
			return nil
		},
	}
	c.Flags().StringVar(&id, "id", "", "experiment ID (generated if omitted)")
	c.Flags().StringVar(&name, "name", "", "experiment name")
	c.Flags().StringVar(&control, "control", "", "control model ID")
	c.Flags().StringVar(&treatment, "treatment", "", "treatment model ID")
	c.Flags().Float64Var(&trafficPct, "traffic-pct", 50, "percentage of eligible traffic allocated to the experiment")
	c.Flags().BoolVar(&active, "active", true, "activate the experiment immediately")
	_ = c.MarkFlagRequired("name")
	_ = c.MarkFlagRequired("control")
	_ = c.MarkFlagRequired("treatment")
	return c
}

func newExperimentListCmd(dialect, dsn *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all experiments",
		RunE: func(cmd *cobra.Command, _ []string) error {
			repo, err := openABRepo(*dialect, *dsn)
			if err != nil {
				return err
			}
			exps, err := repo.ListExperiments(cmd.Context())
			if err != nil {
				return fmt.Errorf("list experiments: %w", err)
			}
			out := cmd.OutOrStdout()
			if len(exps) == 0 {
				fmt.Fprintln(out, "No experiments found.")
				return nil
			}
			for _, e := range exps {
				status := "inactive"
				if e.IsLive(time.Now()) {
					status = "live"
				}
				fmt.Fprintf(out, "  %-20s %-10s %s vs %s @ %.0f%%\n", e.ID, status, e.ControlModelID, e.TreatmentModelID, e.TrafficAllocationPct)
			}
			return nil
		},
	}
}

func newExperimentShowCmd(dialect, dsn *string) *cobra.Command {
	return &cobra.Command{
		Use:   "show <experiment-id>",
		Short: "Show a single experiment and its recorded results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openABRepo(*dialect, *dsn)
			if err != nil {
				return err
			}
			exp, ok, err := repo.GetExperiment(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("get experiment: %w", err)
			}
			if !ok {
				return fmt.Errorf("experiment %q not found", args[0])
			}
			results, err := repo.GetResults(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("get results: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ID:          %s\n", exp.ID)
			fmt.Fprintf(out, "Name:        %s\n", exp.Name)
			fmt.Fprintf(out, "Control:     %s\n", exp.ControlModelID)
			fmt.Fprintf(out, "Treatment:   %s\n", exp.TreatmentModelID)
			fmt.Fprintf(out, "Traffic:     %.0f%%\n", exp.TrafficAllocationPct)
			fmt.Fprintf(out, "Live:        %v\n", exp.IsLive(time.Now()))
			fmt.Fprintf(out, "Results:     %d recorded\n", len(results))
			return nil
		},
	}
}

func newExperimentDeleteCmd(dialect, dsn *string) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <experiment-id>",
		Short: "Delete an experiment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openABRepo(*dialect, *dsn)
			if err != nil {
				return err
			}
			if err := repo.DeleteExperiment(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("delete experiment: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted experiment %s\n", args[0])
			return nil
		},
	}
}

func openABRepo(dialect, dsn string) (abtest.Repo, error) {
	switch dialect {
	case "", "memory":
		return abtest.NewMemoryRepo(), nil
	case "sqlite":
		return abtest.NewSQLiteRepo(dsn)
	case "postgres":
		return abtest.NewPostgresRepo(dsn)
	default:
		return nil, fmt.Errorf("unknown ab_test dialect: %s", dialect)
	}
}
