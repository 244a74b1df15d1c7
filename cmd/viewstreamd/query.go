package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/protobuf/types/known/structpb"
)

var (
	createQueryID        string
	createQueryName      string
	createQueryText      string
	createQuerySources   []string
	createQueryRetain    string
	createQueryRetainTTL time.Duration
)

func init() {
	createQueryCmd.Flags().StringVar(&createQueryID, "id", "", "query id (required)")
	createQueryCmd.Flags().StringVar(&createQueryName, "name", "", "human-readable query name")
	createQueryCmd.Flags().StringVar(&createQueryText, "text", "", "MATCH/WHERE/RETURN query text (required)")
	createQueryCmd.Flags().StringSliceVar(&createQuerySources, "source", nil, "source id this query subscribes to (repeatable)")
	createQueryCmd.Flags().StringVar(&createQueryRetain, "retention", "latest", "retention policy: latest, all, or expire")
	createQueryCmd.Flags().DurationVar(&createQueryRetainTTL, "retention-ttl", 0, "TTL for the expire retention policy")
	createQueryCmd.MarkFlagRequired("id")
	createQueryCmd.MarkFlagRequired("text")

	rootCmd.AddCommand(createQueryCmd, deleteQueryCmd, listQueriesCmd, getResultsCmd, getResultsAtCmd, subscribeCmd, ingestCmd)
}

var createQueryCmd = &cobra.Command{
	Use:   "create-query",
	Short: "Register a new continuous query",
	RunE: func(cmd *cobra.Command, args []string) error {
		sources := make([]any, len(createQuerySources))
		for i, s := range createQuerySources {
			sources[i] = s
		}
		out, err := callUnary(context.Background(), "CreateQuery", map[string]any{
			"id":           createQueryID,
			"name":         createQueryName,
			"text":         createQueryText,
			"sourceIds":    sources,
			"retention":    strings.ToUpper(createQueryRetain),
			"retentionTTL": createQueryRetainTTL.Nanoseconds(),
		})
		if err != nil {
			return err
		}
		return printStruct(out)
	},
}

var deleteQueryCmd = &cobra.Command{
	Use:   "delete-query [id]",
	Short: "Remove a continuous query and its cached results",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := callUnary(context.Background(), "DeleteQuery", map[string]any{"id": args[0]})
		if err != nil {
			return err
		}
		return printStruct(out)
	},
}

var listQueriesCmd = &cobra.Command{
	Use:   "list-queries",
	Short: "List every registered query id",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := callUnary(context.Background(), "ListQueries", nil)
		if err != nil {
			return err
		}
		return printStruct(out)
	},
}

var getResultsCmd = &cobra.Command{
	Use:   "get-results [id]",
	Short: "Print a query's current answer set",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := callUnary(context.Background(), "GetResults", map[string]any{"id": args[0]})
		if err != nil {
			return err
		}
		return printStruct(out)
	},
}

var getResultsAtInstant string

var getResultsAtCmd = &cobra.Command{
	Use:   "get-results-at [id]",
	Short: "Print a query's answer set as of a past RFC3339 instant",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := callUnary(context.Background(), "GetResultsAt", map[string]any{
			"id":      args[0],
			"instant": getResultsAtInstant,
		})
		if err != nil {
			return err
		}
		return printStruct(out)
	},
}

var subscribeCmd = &cobra.Command{
	Use:   "subscribe [id]",
	Short: "Stream replay-then-live deltas for a query",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return callSubscribeStream(context.Background(), args[0], func(delta *structpb.Struct) {
			_ = printStruct(delta)
		})
	},
}

var ingestFieldsJSON string

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Submit one JSON-encoded ChangeEvent to the engine",
	RunE: func(cmd *cobra.Command, args []string) error {
		var fields map[string]any
		if err := json.Unmarshal([]byte(ingestFieldsJSON), &fields); err != nil {
			return fmt.Errorf("ingest: --event is not valid JSON: %w", err)
		}
		out, err := callUnary(context.Background(), "Ingest", fields)
		if err != nil {
			return err
		}
		return printStruct(out)
	},
}

func init() {
	getResultsAtCmd.Flags().StringVar(&getResultsAtInstant, "instant", "", "RFC3339 instant to query the view at (required)")
	getResultsAtCmd.MarkFlagRequired("instant")
	ingestCmd.Flags().StringVar(&ingestFieldsJSON, "event", "", `JSON ChangeEvent, e.g. {"type":"INSERT","sourceId":"s1","entityType":"Order","entityId":"1","after":{"status":"PENDING"}}`)
	ingestCmd.MarkFlagRequired("event")
}

func printStruct(s *structpb.Struct) error {
	data, err := json.MarshalIndent(s.AsMap(), "", "  ")
	if err != nil {
		return fmt.Errorf("print: %w", err)
	}
	fmt.Println(string(data))
	return nil
}
