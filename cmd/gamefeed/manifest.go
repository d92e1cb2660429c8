package main

import (
	"fmt"
	"time"

	"github.com/cuemby/gamefeed/pkg/health"
	"github.com/cuemby/gamefeed/pkg/manifest"
	"github.com/spf13/cobra"
)

// Manifest commands
var manifestCmd = &cobra.Command{
	Use:   "manifest",
	Short: "Work with service manifests",
}

var manifestVerifyCmd = &cobra.Command{
	Use:   "verify DIR",
	Short: "Verify the service manifests under DIR",
	Long: `Verify reads DIR/<service>/manifest.json for every service and checks
names, ports, layer port ranges and upstream dependencies. With --probe it
also checks each service's health endpoint and upstream on --host.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		probe, _ := cmd.Flags().GetBool("probe")
		host, _ := cmd.Flags().GetString("host")
		retries, _ := cmd.Flags().GetInt("retries")
		timeout, _ := cmd.Flags().GetDuration("timeout")

		manifests, err := manifest.LoadDir(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Verifying %d services in %s\n", len(manifests), args[0])

		violations := manifest.Verify(manifests)
		for _, v := range violations {
			fmt.Printf("  ✗ %s\n", v.Error())
		}
		if len(violations) == 0 {
			fmt.Println("✓ Manifests are valid")
		}

		unhealthy := 0
		if probe {
			cfg := health.DefaultConfig()
			cfg.Retries = retries
			cfg.Timeout = timeout

			fmt.Println()
			fmt.Printf("Probing services on %s\n", host)
			for _, r := range manifest.Probe(cmd.Context(), manifests, host, cfg) {
				mark := "✓"
				if !r.Healthy() {
					mark = "✗"
					unhealthy++
				}
				fmt.Printf("  %s %-20s %s\n", mark, r.Service, r.Health.LastResult.Message)
				if r.Upstream != nil {
					fmt.Printf("      upstream %s: %s\n", r.Upstream.Target, r.Upstream.LastResult.Message)
				}
			}
		}

		if len(violations) > 0 || unhealthy > 0 {
			return fmt.Errorf("%d violations, %d unhealthy services", len(violations), unhealthy)
		}
		return nil
	},
}

func init() {
	manifestCmd.AddCommand(manifestVerifyCmd)

	manifestVerifyCmd.Flags().Bool("probe", false, "Probe each service's health endpoint")
	manifestVerifyCmd.Flags().String("host", "localhost", "Host the services listen on")
	manifestVerifyCmd.Flags().Int("retries", 3, "Failed probes before a service is unhealthy")
	manifestVerifyCmd.Flags().Duration("timeout", 2*time.Second, "Timeout for a single probe")
}
