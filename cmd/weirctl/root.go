package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "weirctl",
	Short: "Operate the log pipeline",
	Long: `weirctl drives the log pipeline's operator surfaces.

Sync operations migrate buffered events into the durable store:
  weirctl sync all
  weirctl sync trace <trace-id>
  weirctl sync user <user-id>
  weirctl sync clear-and-sync

Buffer and quota inspection:
  weirctl buffer stats
  weirctl buffer clear
  weirctl quota status
  weirctl quota reset
  weirctl timeline <trace-id>`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $HOME/.weirctl.yaml)")
	rootCmd.PersistentFlags().String("gateway-url", "http://localhost:8080", "base URL of the ingestion gateway")
	rootCmd.PersistentFlags().String("coordinator-url", "", "base URL of the coordinator (defaults to the gateway, which hosts it in single-node deployments)")
	rootCmd.PersistentFlags().Duration("timeout", 30*time.Second, "request timeout")

	viper.BindPFlag("gateway_url", rootCmd.PersistentFlags().Lookup("gateway-url"))
	viper.BindPFlag("coordinator_url", rootCmd.PersistentFlags().Lookup("coordinator-url"))
	viper.BindPFlag("timeout", rootCmd.PersistentFlags().Lookup("timeout"))

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(bufferCmd)
	rootCmd.AddCommand(quotaCmd)
	rootCmd.AddCommand(timelineCmd)
}

// initConfig reads the config file and environment variables.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
			viper.SetConfigName(".weirctl")
			viper.SetConfigType("yaml")
		}
	}

	viper.SetEnvPrefix("LOGWEIR")
	viper.AutomaticEnv()

	// Missing config file is fine; flags and env cover everything.
	_ = viper.ReadInConfig()
}

func gatewayURL() string {
	return strings.TrimRight(viper.GetString("gateway_url"), "/")
}

func coordinatorURL() string {
	if url := viper.GetString("coordinator_url"); url != "" {
		return strings.TrimRight(url, "/")
	}
	return gatewayURL()
}

func httpClient() *http.Client {
	return &http.Client{Timeout: viper.GetDuration("timeout")}
}

// call performs a request and pretty-prints the JSON response.
func call(method, url string) error {
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		return err
	}

	resp, err := httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("calling %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned HTTP %d: %s", url, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var pretty map[string]any
	if err := json.Unmarshal(body, &pretty); err != nil {
		fmt.Println(string(body))
		return nil
	}
	out, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		fmt.Println(string(body))
		return nil
	}
	fmt.Println(string(out))
	return nil
}
