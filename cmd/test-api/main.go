// Package main is a smoke-test utility that verifies the hub's HTTP API is
// reachable and returning valid responses. It hits the health probe and the
// public catalog and prints status codes and bodies, making it useful for
// quick post-deployment checks without external tooling like curl.
package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
)

func main() {
	base := os.Getenv("BPH_BASE_URL")
	if base == "" {
		base = "http://localhost:8080"
	}

	for _, path := range []string{"/healthz", "/api/catalog?limit=5"} {
		resp, err := http.Get(base + path)
		if err != nil {
			fmt.Printf("GET %s error: %v\n", path, err)
			os.Exit(1)
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			fmt.Printf("GET %s: error reading body: %v\n", path, err)
			os.Exit(1)
		}

		fmt.Printf("GET %s → %d\n%s\n\n", path, resp.StatusCode, string(body))
	}
}
