package main

import (
	"fmt"

	// Packages
	httpclient "github.com/mutablelogic/go-pgbroker/pkg/broker/httpclient"
)

///////////////////////////////////////////////////////////////////////////////
// TYPES

type QueueCommands struct {
	ListQueue ListQueueCommand `cmd:"" name:"queues" help:"List message counts by queue and state." group:"QUEUE"`
}

type ListQueueCommand struct {
	Queue string `arg:"" name:"queue" help:"Queue name" optional:""`
}

///////////////////////////////////////////////////////////////////////////////
// COMMANDS

func (cmd *ListQueueCommand) Run(ctx *Globals) (err error) {
	client, err := ctx.Client()
	if err != nil {
		return err
	}

	// OTEL
	parent, endSpan := ctx.StartSpan("ListQueueCommand")
	defer func() { endSpan(err) }()

	// List queue stats
	stats, err := client.ListQueueStats(parent, httpclient.WithQueue(cmd.Queue))
	if err != nil {
		return err
	}

	// Print
	fmt.Println(stats)
	return nil
}
