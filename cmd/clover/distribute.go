package main

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	appctx "github.com/Ramsey-B/clover/pkg/context"
	"github.com/Ramsey-B/clover/pkg/distribution"
	"github.com/Ramsey-B/clover/pkg/models"
)

type distributeOptions struct {
	strategy string
	quantity int
	status   string
	province string
	agentIDs []string
}

func newDistributeCmd(root *rootOptions) *cobra.Command {
	var opts distributeOptions

	cmd := &cobra.Command{
		Use:   "distribute --strategy equitable --quantity 10",
		Short: "Assign unassigned leads to agents",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDistribute(cmd.Context(), root, opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.strategy, "strategy", string(distribution.StrategyEquitable), "equitable or regional")
	cmd.Flags().IntVar(&opts.quantity, "quantity", 0, "number of leads to assign")
	cmd.Flags().StringVar(&opts.status, "status", "", "only distribute leads with this status")
	cmd.Flags().StringVar(&opts.province, "province", "", "only distribute leads in this province")
	cmd.Flags().StringSliceVar(&opts.agentIDs, "agents", nil, "agent ids to distribute to (default every active agent)")
	_ = cmd.MarkFlagRequired("quantity")
	return cmd
}

func (o distributeOptions) request() (distribution.Request, error) {
	strategy, err := distribution.ParseStrategy(o.strategy)
	if err != nil {
		return distribution.Request{}, err
	}

	var status models.LeadStatus
	if o.status != "" {
		if status, err = models.ParseLeadStatus(o.status); err != nil {
			return distribution.Request{}, err
		}
	}

	return distribution.Request{
		Strategy:   strategy,
		Quantity:   o.quantity,
		Criteria:   distribution.Criteria{Status: status, Province: o.province},
		AgentIDs:   o.agentIDs,
		AssignedBy: cliUser,
	}, nil
}

func runDistribute(ctx context.Context, root *rootOptions, opts distributeOptions, out io.Writer) error {
	req, err := opts.request()
	if err != nil {
		return err
	}
	if req.Quantity <= 0 {
		return distribution.ErrInvalidQuantity
	}

	a := newApp(root.cfg, root.logger, appOptions{Kafka: true})
	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.Background())
		return err
	}
	defer func() { _ = a.Stop(context.Background()) }()

	ctx = appctx.SetUserID(ctx, cliUser)
	ctx = appctx.SetUserRole(ctx, appctx.RoleAdmin)
	result, distErr := a.planner.Distribute(ctx, req)
	printDistribution(out, req, result)
	return distErr
}

func printDistribution(out io.Writer, req distribution.Request, result distribution.Result) {
	_, _ = color.New(color.Bold).Fprintf(out, "Distributed %d/%d leads (%s)\n", result.AssignedCount, req.Quantity, req.Strategy)

	agents := make([]string, 0, len(result.PerAgent))
	for id := range result.PerAgent {
		agents = append(agents, id)
	}
	sort.Strings(agents)
	for _, id := range agents {
		fmt.Fprintf(out, "  %s: %d\n", id, result.PerAgent[id])
	}
	if result.Skipped > 0 {
		_, _ = color.New(color.FgYellow).Fprintf(out, "  skipped (claimed concurrently): %d\n", result.Skipped)
	}
}
