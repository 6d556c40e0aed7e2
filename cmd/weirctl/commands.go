package main

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Migrate buffered events into the durable store",
}

var syncAllCmd = &cobra.Command{
	Use:   "all",
	Short: "Sync every buffered event",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(http.MethodPost, gatewayURL()+"/admin/sync/all")
	},
}

var syncTraceCmd = &cobra.Command{
	Use:   "trace <trace-id>",
	Short: "Sync the buffered events of one trace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(http.MethodPost, gatewayURL()+"/admin/sync/trace/"+url.PathEscape(args[0]))
	},
}

var syncUserCmd = &cobra.Command{
	Use:   "user <user-id>",
	Short: "Sync the buffered events of one user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(http.MethodPost, gatewayURL()+"/admin/sync/user/"+url.PathEscape(args[0]))
	},
}

var syncClearCmd = &cobra.Command{
	Use:   "clear-and-sync",
	Short: "Clear the buffer, then sync whatever arrives next",
	Long: `Clears the buffer to establish a clean window for a fresh debugging
session, then runs a full sync over whatever new data has arrived.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(http.MethodPost, gatewayURL()+"/admin/sync/clear-and-sync")
	},
}

var bufferCmd = &cobra.Command{
	Use:   "buffer",
	Short: "Inspect or clear the TTL buffer",
}

var bufferStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show live buffer statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(http.MethodGet, gatewayURL()+"/buffer/stats")
	},
}

var bufferClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every buffered event",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(http.MethodPost, gatewayURL()+"/admin/buffer/clear")
	},
}

var quotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "Inspect or reset the rate-limit coordinator",
}

var quotaStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show coordinator configuration and the current window",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(http.MethodGet, coordinatorURL()+"/status")
	},
}

var quotaResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Zero all counters and start a new window",
	Long: `Resets the quota window immediately. Required after changing quota
configuration so a window never mixes old and new limits.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(http.MethodPost, coordinatorURL()+"/reset")
	},
}

var timelineCmd = &cobra.Command{
	Use:   "timeline <trace-id>",
	Short: "Reconstruct the ordered timeline of one trace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(http.MethodGet, fmt.Sprintf("%s/traces/%s/timeline", gatewayURL(), url.PathEscape(args[0])))
	},
}

func init() {
	syncCmd.AddCommand(syncAllCmd, syncTraceCmd, syncUserCmd, syncClearCmd)
	bufferCmd.AddCommand(bufferStatsCmd, bufferClearCmd)
	quotaCmd.AddCommand(quotaStatusCmd, quotaResetCmd)
}
