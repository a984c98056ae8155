package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	httphandler "github.com/ericfisherdev/opscenter/internal/adapter/driving/http"
)

// Container healthcheck for opscenter. Exits 0 when /api/v1/health answers 200
// with a reachable database. A degraded audit log prints a warning and only
// fails the check with -strict-audit.
func main() {
	strictAudit := flag.Bool("strict-audit", false, "fail while the audit log is degraded")
	flag.Parse()

	url := fmt.Sprintf("http://%s/api/v1/health", normalizeAddr(os.Getenv("OPSCENTER_LISTEN_ADDR")))
	os.Exit(check(&http.Client{Timeout: 2 * time.Second}, url, *strictAudit, os.Stderr))
}

func check(client *http.Client, url string, strictAudit bool, out io.Writer) int {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		fmt.Fprintf(out, "healthcheck: %v\n", err)
		return 1
	}

	resp, err := client.Do(req)
	if err != nil {
		fmt.Fprintf(out, "healthcheck: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	var report httphandler.HealthResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&report); err != nil {
		fmt.Fprintf(out, "healthcheck: status %d, unreadable body\n", resp.StatusCode)
		return 1
	}

	if resp.StatusCode != http.StatusOK || report.Database != "ok" {
		fmt.Fprintf(out, "healthcheck: unhealthy, database %s\n", report.Database)
		return 1
	}

	if report.AuditDegraded {
		fmt.Fprintf(out, "healthcheck: audit log degraded, %d failed writes\n", report.AuditFailures)
		if strictAudit {
			return 1
		}
	}

	return 0
}

// normalizeAddr ensures the healthcheck connects to loopback rather than the
// bind-all address. Docker containers bind 0.0.0.0 but the healthcheck runs
// inside the same container, so loopback is reachable and more correct.
func normalizeAddr(raw string) string {
	if raw == "" {
		return "127.0.0.1:8080"
	}

	host, port, err := net.SplitHostPort(raw)
	if err != nil {
		return "127.0.0.1:8080"
	}

	switch host {
	case "", "0.0.0.0":
		host = "127.0.0.1"
	case "::", "[::]":
		host = "::1"
	}

	return net.JoinHostPort(host, port)
}
