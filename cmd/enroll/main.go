// Package main starts the registration runtime and handles termination.
//
// The process hosts the conversation engine, the cached table store, and the
// admin operations behind one HTTP listener; the chat transport itself is an
// external collaborator that calls the event ingress.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	enrollcmd "github.com/civicmesh/enroll/internal/cmd/enroll"
)

func main() {
	cfg, err := enrollcmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	log.SetPrefix("[ENROLL] ")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := enrollcmd.Run(ctx, cfg); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
}
