// cmd/engram-mcp is the entry point for the engram MCP (Model Context
// Protocol) server. It wires the local episode store, the search engine, the
// replication worker, and the event side channels behind the service facade
// and serves JSON-RPC 2.0 requests from stdin.
//
// CRITICAL: ALL logging MUST go to stderr. Any bytes written to stdout that
// are not valid JSON-RPC 2.0 response frames will corrupt the protocol.
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/engram-sh/engram/internal/api/mcp"
	"github.com/engram-sh/engram/internal/app"
	"github.com/engram-sh/engram/internal/config"
)

func main() {
	// Redirect the default logger to stderr so that any incidental log calls
	// from imported packages never pollute the stdout JSON-RPC stream.
	log.SetOutput(os.Stderr)
	log.SetPrefix("engram-mcp: ")
	log.SetFlags(log.LstdFlags)
	logger := log.Default()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("received shutdown signal")
		cancel()
	}()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("failed to assemble application: %v", err)
	}
	defer func() {
		if err := application.Close(); err != nil {
			log.Printf("shutdown error: %v", err)
		}
	}()

	if err := application.Start(ctx); err != nil {
		log.Fatalf("failed to start background workers: %v", err)
	}

	server := mcp.NewServer(application.Service, mcp.WithLogger(logger))
	transport := mcp.NewStdioTransport(server, os.Stdin, os.Stdout)

	log.Printf("serving MCP over stdio, database at %s", cfg.DBPath())
	if err := transport.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("transport error: %v", err)
	}
}
