package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/dealer-gatherer/internal/crawler"
)

type gatherOptions struct {
	url      string
	sourceID int64
	botKey   string
	build    []string
}

func newGatherCmd() *cobra.Command {
	var opts gatherOptions
	cmd := &cobra.Command{
		Use:   "gather",
		Short: "Crawl one data source synchronously and print the result",
		Long: `gather runs a single work order in the foreground. Without --build it is a
GATHER of the whole site; with --build it is a BUILD of the listed pages. The
updated data source is printed as JSON.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			order, err := opts.workOrder()
			if err != nil {
				return err
			}
			a, err := appFrom(cmd.Context())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			ds, err := a.Gather(ctx, order)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(ds); err != nil {
				return fmt.Errorf("encode data source: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.url, "url", "", "dealer site URL (required)")
	cmd.Flags().Int64Var(&opts.sourceID, "source-id", 0, "data source id")
	cmd.Flags().StringVar(&opts.botKey, "bot", "", "registered site bot key")
	cmd.Flags().StringSliceVar(&opts.build, "build", nil, "listing URLs to build instead of gathering")
	return cmd
}

func (o gatherOptions) workOrder() (crawler.WorkOrder, error) {
	if o.url == "" {
		return crawler.WorkOrder{}, errors.New("--url is required")
	}
	order := crawler.WorkOrder{
		Type: crawler.OrderGather,
		Source: crawler.DataSource{
			ID:     o.sourceID,
			URL:    o.url,
			BotKey: o.botKey,
		},
	}
	if len(o.build) > 0 {
		order.Type = crawler.OrderBuild
		order.URLsToWork = o.build
	}
	return order, nil
}
