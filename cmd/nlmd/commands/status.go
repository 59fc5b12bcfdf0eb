package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/lockd/nlmd/internal/adminserver"
)

// jsonContentSubtype must match the codec name adminserver registers via
// encoding.RegisterCodec; importing that package for its message types
// also runs that registration as a side effect.
const jsonContentSubtype = "json"

var (
	statusAdminAddr   string
	statusMetricsAddr string
	statusJSON        bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether a running nlmd is healthy and what it has registered",
	Long: `status queries a running nlmd's health endpoint and admin service and
prints a short summary of its uptime and currently registered hosts.

Examples:
  nlmd status
  nlmd status --admin-addr 127.0.0.1:7045 --metrics-addr 127.0.0.1:9090
  nlmd status --json`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusAdminAddr, "admin-addr", "127.0.0.1:7045", "admin gRPC address to query")
	statusCmd.Flags().StringVar(&statusMetricsAddr, "metrics-addr", "127.0.0.1:9090", "metrics/health HTTP address to query")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print machine-readable JSON instead of a summary")
}

type statusReport struct {
	Health    *healthPayload         `json:"health,omitempty"`
	HealthErr string                 `json:"health_error,omitempty"`
	Hosts     []adminserver.HostInfo `json:"hosts,omitempty"`
	HostsErr  string                 `json:"hosts_error,omitempty"`
}

type healthPayload struct {
	Status    string `json:"status"`
	StartedAt string `json:"started_at"`
	Uptime    string `json:"uptime"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	report := statusReport{}

	if health, err := fetchHealth(statusMetricsAddr); err != nil {
		report.HealthErr = err.Error()
	} else {
		report.Health = health
	}

	if hosts, err := fetchHosts(statusAdminAddr); err != nil {
		report.HostsErr = err.Error()
	} else {
		report.Hosts = hosts
	}

	if statusJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	printStatusReport(cmd, report)
	return nil
}

func fetchHealth(addr string) (*healthPayload, error) {
	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://%s/health", addr))
	if err != nil {
		return nil, fmt.Errorf("unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	var h healthPayload
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return nil, fmt.Errorf("decode health response: %w", err)
	}
	return &h, nil
}

func fetchHosts(addr string) ([]adminserver.HostInfo, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(jsonContentSubtype)),
	)
	if err != nil {
		return nil, fmt.Errorf("dial admin service: %w", err)
	}
	defer conn.Close()

	req := &adminserver.ListHostsRequest{}
	resp := &adminserver.ListHostsResponse{}
	if err := conn.Invoke(ctx, "/nlmd.admin.Admin/ListHosts", req, resp); err != nil {
		return nil, fmt.Errorf("list hosts: %w", err)
	}
	return resp.Hosts, nil
}

func printStatusReport(cmd *cobra.Command, report statusReport) {
	out := cmd.OutOrStdout()

	if report.Health != nil {
		fmt.Fprintf(out, "health:  %s (uptime %s)\n", report.Health.Status, report.Health.Uptime)
	} else {
		fmt.Fprintf(out, "health:  unknown (%s)\n", report.HealthErr)
	}

	if report.HostsErr != "" {
		fmt.Fprintf(out, "hosts:   unavailable (%s)\n", report.HostsErr)
		return
	}

	fmt.Fprintf(out, "hosts:   %d registered\n", len(report.Hosts))
	for _, h := range report.Hosts {
		fmt.Fprintf(out, "  sysid=%-4d %-20s netid=%-5s addr=%-20s monitored=%-5t reclaiming=%-5t refs=%-3d vholds=%d\n",
			h.Sysid, h.Name, h.Netid, h.Address, h.Monitored, h.Reclaiming, h.Refs, h.VholdCount)
	}
}
