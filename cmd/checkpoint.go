package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/arcgis-catalog-crawler/internal/app"
	"github.com/JakeFAU/arcgis-catalog-crawler/internal/crawler"
)

// newCheckpointCmd creates the 'checkpoint' command group.
func newCheckpointCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Inspects or resets completed roots",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Prints completed roots",
		Args:  cobra.NoArgs,
		RunE:  runCheckpointList,
	})

	var all bool
	reset := &cobra.Command{
		Use:   "reset [root...]",
		Short: "Forgets completed roots so the next crawl revisits them",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheckpointReset(cmd, args, all)
		},
	}
	reset.Flags().BoolVar(&all, "all", false, "forget every completed root")
	cmd.AddCommand(reset)
	return cmd
}

func runCheckpointList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	e, err := resolveEnv(ctx)
	if err != nil {
		return err
	}
	store, err := app.NewStore(ctx, e.cfg, e.logger)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	roots, err := store.Completed(ctx)
	if err != nil {
		return fmt.Errorf("list checkpoints: %w", err)
	}
	for _, root := range roots {
		fmt.Fprintln(cmd.OutOrStdout(), root)
	}
	return nil
}

func runCheckpointReset(cmd *cobra.Command, args []string, all bool) error {
	if len(args) == 0 && !all {
		return errors.New("name roots to reset or pass --all")
	}
	if len(args) > 0 && all {
		return errors.New("--all cannot be combined with root arguments")
	}
	ctx := cmd.Context()
	e, err := resolveEnv(ctx)
	if err != nil {
		return err
	}
	store, err := app.NewStore(ctx, e.cfg, e.logger)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	roots := make([]string, 0, len(args))
	for _, arg := range args {
		roots = append(roots, crawler.CanonicalRoot(arg))
	}
	if err := store.Reset(ctx, roots...); err != nil {
		return fmt.Errorf("reset checkpoints: %w", err)
	}
	e.logger.Info("Checkpoint reset", zap.Strings("roots", roots), zap.Bool("all", all))
	return nil
}
