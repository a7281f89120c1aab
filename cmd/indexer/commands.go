package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gordonmurray/eth-blockchain-pipeline/internal/checkpoint"
	"github.com/gordonmurray/eth-blockchain-pipeline/internal/common"
	"github.com/gordonmurray/eth-blockchain-pipeline/internal/config"
	"github.com/gordonmurray/eth-blockchain-pipeline/internal/logger"
	"github.com/gordonmurray/eth-blockchain-pipeline/internal/metrics"
	pkgconfig "github.com/gordonmurray/eth-blockchain-pipeline/pkg/config"
	"github.com/invopop/jsonschema"
	"github.com/spf13/cobra"
)

var resetHeight uint64

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Inspect or reset the indexing checkpoint",
}

var checkpointGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Print the stored checkpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCheckpoints(cmd.Context(), func(ctx context.Context, cp *checkpoint.Store) error {
			c, err := cp.Get(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "name:    %s\n", cp.Name())
			if c.Fresh {
				fmt.Fprintf(out, "height:  none (indexing starts at block %d)\n", cp.Start())
				return nil
			}
			fmt.Fprintf(out, "height:  %d\n", c.Height)
			fmt.Fprintf(out, "hash:    %s\n", c.Hash.Hex())
			fmt.Fprintf(out, "updated: %s\n", c.UpdatedAt.UTC().Format(time.RFC3339))
			return nil
		})
	},
}

var checkpointResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Move the checkpoint to the given height",
	Long: `reset forces the checkpoint to --height, including moving it backwards.
Stored rows are kept; blocks above the new height are indexed again on the next
run and deduplicated on insert.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCheckpoints(cmd.Context(), func(ctx context.Context, cp *checkpoint.Store) error {
			if err := cp.Reset(ctx, resetHeight); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "checkpoint %q reset to block %d\n", cp.Name(), resetHeight)
			return nil
		})
	},
}

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the JSON schema of the configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		r := &jsonschema.Reflector{
			FieldNameTag:   "json",
			DoNotReference: true,
		}
		s := r.Reflect(&pkgconfig.Config{})
		s.Title = "Purchase indexer configuration"

		data, err := json.MarshalIndent(s, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode schema: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	},
}

func init() {
	checkpointResetCmd.Flags().Uint64Var(&resetHeight, "height", 0, "block height to reset the checkpoint to")
	_ = checkpointResetCmd.MarkFlagRequired("height")

	checkpointCmd.AddCommand(checkpointGetCmd, checkpointResetCmd)
}

// withCheckpoints opens the configured store and hands its checkpoint to fn.
func withCheckpoints(ctx context.Context, fn func(ctx context.Context, cp *checkpoint.Store) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	st, _, err := openStore(ctx, cfg, metrics.New())
	if err != nil {
		return err
	}
	defer st.Close()

	cp := checkpoint.New(
		st,
		cfg.Indexer.CheckpointName,
		cfg.Indexer.StartBlock,
		logger.NewComponentLoggerFromConfig(common.ComponentCheckpoint, cfg.Logging),
	)
	return fn(ctx, cp)
}
