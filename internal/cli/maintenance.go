package cli

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/movies-search-etl/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/movies-search-etl/internal/pipeline/loader"
	"github.com/Adithya-Monish-Kumar-K/movies-search-etl/internal/state"
	apperrors "github.com/Adithya-Monish-Kumar-K/movies-search-etl/pkg/errors"
)

func newResetCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "reset [table...]",
		Short: "Rewind watermarks so the next run reindexes everything",
		Long: `Sets the watermark of each named table, or of every configured table when
none is named, back to 1900-01-01. Documents are upserted by id, so the
following run rewrites the indices without creating duplicates.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			tables := args
			if len(tables) == 0 {
				tables = opts.cfg.ETL.Tables
			}
			for _, table := range tables {
				if !catalog.IsKnown(table) {
					return apperrors.UnknownTable(table)
				}
			}

			d := newDeps(opts.cfg)
			defer d.Close()
			store, err := d.openState()
			if err != nil {
				return err
			}
			marks := state.NewWatermarks(store)
			for _, table := range tables {
				if err := marks.Reset(cmd.Context(), table); err != nil {
					return err
				}
				cmd.Printf("%s: watermark reset to %s\n", table, state.Format(state.Epoch))
			}
			return nil
		},
	}
}

func newIndicesCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "indices",
		Short: "Create missing indices with their mappings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			d := newDeps(opts.cfg)
			defer d.Close()
			es, err := d.openElastic()
			if err != nil {
				return err
			}
			l := loader.New(es, d.retrier, d.metrics)
			for _, table := range opts.cfg.ETL.Tables {
				index := opts.cfg.ETL.IndexFor(table)
				if err := l.EnsureIndex(cmd.Context(), table, index); err != nil {
					return err
				}
				cmd.Printf("%s: index %s ready\n", table, index)
			}
			return nil
		},
	}
}

func newMappingCommand() *cobra.Command {
	return &cobra.Command{
		Use:       "mapping <table>",
		Short:     "Print the index settings and mappings for a table",
		Args:      cobra.ExactArgs(1),
		ValidArgs: catalog.Tables,
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := loader.IndexBody(args[0])
			if err != nil {
				return err
			}
			var out bytes.Buffer
			if err := json.Indent(&out, []byte(body), "", "  "); err != nil {
				return fmt.Errorf("formatting mapping: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), out.String())
			return err
		},
	}
}
