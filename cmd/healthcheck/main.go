// Command healthcheck probes a running rotavault daemon and exits non-zero
// unless it reports healthy. It is meant for container HEALTHCHECK lines.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"
)

const defaultAddr = "127.0.0.1:5001"

func main() {
	os.Exit(check(os.Getenv("ROTAVAULT_LISTEN_ADDR")))
}

type healthBody struct {
	Status string `json:"status"`
}

func check(listenAddr string) int {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	url := fmt.Sprintf("http://%s/api/v1/health", probeAddr(listenAddr))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 1
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 1
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return 1
	}

	var body healthBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Status != "ok" {
		return 1
	}
	return 0
}

// probeAddr turns the daemon's bind address into one the probe can dial.
// Wildcard hosts become loopback because the probe runs beside the daemon.
func probeAddr(raw string) string {
	if raw == "" {
		return defaultAddr
	}

	host, port, err := net.SplitHostPort(raw)
	if err != nil {
		return defaultAddr
	}

	switch host {
	case "", "0.0.0.0":
		host = "127.0.0.1"
	case "::":
		host = "::1"
	}

	return net.JoinHostPort(host, port)
}
