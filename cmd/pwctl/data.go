package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/piewallah/pw-gateway/internal/fetch"
	"github.com/piewallah/pw-gateway/internal/model"
)

var (
	scheduleBatches []string
	getParams       []string
	getNoCache      bool
	eventsLimit     int
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Class schedules",
}

var scheduleTodayCmd = &cobra.Command{
	Use:   "today",
	Short: "Today's classes across one or more batches, ordered by start time",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(scheduleBatches) == 0 {
			return fmt.Errorf("--batch is required")
		}
		req := model.RequestContext{TargetPath: "/api/schedule/today"}
		req.SetQuery("batchIds", strings.Join(scheduleBatches, ","))
		res, err := cli.client.CachedGet(cmd.Context(), req)
		if err != nil {
			return err
		}
		return printBody(cmd, res)
	},
}

// getCmd calls any gateway route, e.g. pwctl get /api/topics -p batchId=b1 -p subjectId=s1
var getCmd = &cobra.Command{
	Use:   "get <path>",
	Short: "GET a gateway route with the current session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := model.RequestContext{Method: http.MethodGet, TargetPath: args[0]}
		for _, p := range getParams {
			k, v, ok := strings.Cut(p, "=")
			if !ok || k == "" {
				return fmt.Errorf("bad param %q, want key=value", p)
			}
			req.SetQuery(k, v)
		}
		var (
			res *fetch.Response
			err error
		)
		if getNoCache {
			res, err = cli.client.DoWithRetry(cmd.Context(), req)
		} else {
			res, err = cli.client.CachedGet(cmd.Context(), req)
		}
		if err != nil {
			return err
		}
		return printBody(cmd, res)
	},
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Recent logins, refreshes and logouts of this account",
	RunE: func(cmd *cobra.Command, args []string) error {
		req := model.RequestContext{TargetPath: "/api/session/events"}
		req.SetQuery("limit", strconv.Itoa(eventsLimit))
		res, err := cli.client.DoWithRetry(cmd.Context(), req)
		if err != nil {
			return err
		}
		return printBody(cmd, res)
	},
}

func printBody(cmd *cobra.Command, res *fetch.Response) error {
	if !res.JSON {
		_, err := cmd.OutOrStdout().Write(res.Raw)
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(res.Body)
}

func init() {
	scheduleCmd.AddCommand(scheduleTodayCmd)
	rootCmd.AddCommand(scheduleCmd, getCmd, eventsCmd)
	scheduleTodayCmd.Flags().StringSliceVarP(&scheduleBatches, "batch", "b", nil, "batch id, repeatable or comma-separated")
	getCmd.Flags().StringArrayVarP(&getParams, "param", "p", nil, "query parameter as key=value, repeatable")
	getCmd.Flags().BoolVar(&getNoCache, "no-cache", false, "skip the local response cache")
	eventsCmd.Flags().IntVar(&eventsLimit, "limit", 20, "number of events")
}
