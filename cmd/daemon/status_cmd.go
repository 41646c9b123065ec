// SPDX-License-Identifier: MIT
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/netpulse-io/netpulse/internal/engine"
)

// runStatusCLI queries the running daemon and prints a channel summary.
func runStatusCLI(args []string) int {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	addr := fs.String("addr", "127.0.0.1:8484", "API address to query")
	asJSON := fs.Bool("json", false, "print the raw JSON status")
	timeout := fs.Duration("timeout", 5*time.Second, "request timeout")

	if err := fs.Parse(args); err != nil {
		return 2
	}

	client := http.Client{Timeout: *timeout}
	resp, err := client.Get(fmt.Sprintf("http://%s/api/v1/status", *addr))
	if err != nil {
		fmt.Fprintf(os.Stderr, "daemon not reachable at %s: %v\n", *addr, err)
		return 1
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "status request failed: %s\n", resp.Status)
		return 1
	}

	var status engine.Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		fmt.Fprintf(os.Stderr, "decode status: %v\n", err)
		return 1
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(status)
		return 0
	}

	fmt.Printf("role: %s", status.Role)
	if status.Paused {
		fmt.Print("  (paused)")
	}
	fmt.Println()
	if status.Watch != nil {
		fmt.Printf("watch: session %s active since %s\n",
			status.Watch.ID, time.UnixMilli(status.Watch.StartTS).Format(time.RFC3339))
	}

	for _, cs := range status.Channels {
		line := fmt.Sprintf("%-20s %-8s failures=%d", cs.Channel.ID, cs.State.State, cs.State.ConsecutiveFailures)
		if cs.OpenOutage != nil {
			line += fmt.Sprintf("  OUTAGE since %s", time.UnixMilli(cs.OpenOutage.ConfirmedTS).Format(time.RFC3339))
		}
		fmt.Println(line)
	}
	if len(status.Channels) == 0 {
		fmt.Println("no channels configured")
	}
	return 0
}
