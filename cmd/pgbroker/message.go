package main

import (
	"encoding/json"
	"fmt"
	"time"

	// Packages
	httpclient "github.com/mutablelogic/go-pgbroker/pkg/broker/httpclient"
	schema "github.com/mutablelogic/go-pgbroker/pkg/broker/schema"
)

///////////////////////////////////////////////////////////////////////////////
// TYPES

type MessageCommands struct {
	ListMessages   ListMessagesCommand   `cmd:"" name:"messages" help:"List messages." group:"MESSAGE"`
	GetMessage     GetMessageCommand     `cmd:"" name:"message" help:"Get message." group:"MESSAGE"`
	EnqueueMessage EnqueueMessageCommand `cmd:"" name:"enqueue" help:"Enqueue a message." group:"MESSAGE"`
	Requeue        RequeueCommand        `cmd:"" name:"requeue" help:"Return messages to the queued state." group:"MESSAGE"`
	Purge          PurgeCommand          `cmd:"" name:"purge" help:"Delete settled messages." group:"MESSAGE"`
}

type ListMessagesCommand struct {
	Queue  string       `name:"queue" help:"Queue name"`
	State  schema.State `name:"state" help:"Message state (queued, consumed, rejected, done)"`
	Offset uint64       `name:"offset" help:"Offset for pagination"`
	Limit  *uint64      `name:"limit" help:"Limit for pagination"`
}

type GetMessageCommand struct {
	Id string `arg:"" name:"id" help:"Message id"`
}

type EnqueueMessageCommand struct {
	Queue  string        `arg:"" name:"queue" help:"Queue name"`
	Actor  string        `arg:"" name:"actor" help:"Actor name"`
	Args   string        `name:"args" help:"Positional arguments as a JSON array" default:"[]"`
	Kwargs string        `name:"kwargs" help:"Keyword arguments as a JSON object" default:"{}"`
	Delay  time.Duration `name:"delay" help:"Delay before the message is delivered"`
}

type RequeueCommand struct {
	Ids []string `arg:"" name:"id" help:"Message ids"`
}

type PurgeCommand struct {
	Retention *time.Duration `name:"retention" help:"Delete settled messages older than this, defaults to the server retention"`
}

///////////////////////////////////////////////////////////////////////////////
// COMMANDS

func (cmd *ListMessagesCommand) Run(ctx *Globals) (err error) {
	client, err := ctx.Client()
	if err != nil {
		return err
	}

	// OTEL
	parent, endSpan := ctx.StartSpan("ListMessagesCommand")
	defer func() { endSpan(err) }()

	// List messages
	messages, err := client.ListMessages(parent,
		httpclient.WithQueue(cmd.Queue),
		httpclient.WithState(cmd.State),
		httpclient.WithOffsetLimit(cmd.Offset, cmd.Limit),
	)
	if err != nil {
		return err
	}

	// Print
	fmt.Println(messages)
	return nil
}

func (cmd *GetMessageCommand) Run(ctx *Globals) (err error) {
	client, err := ctx.Client()
	if err != nil {
		return err
	}

	// OTEL
	parent, endSpan := ctx.StartSpan("GetMessageCommand")
	defer func() { endSpan(err) }()

	// Get one message
	message, err := client.GetMessage(parent, cmd.Id)
	if err != nil {
		return err
	}

	// Print
	fmt.Println(message)
	return nil
}

func (cmd *EnqueueMessageCommand) Run(ctx *Globals) (err error) {
	var args []any
	var kwargs map[string]any
	if err := json.Unmarshal([]byte(cmd.Args), &args); err != nil {
		return fmt.Errorf("args: %w", err)
	}
	if err := json.Unmarshal([]byte(cmd.Kwargs), &kwargs); err != nil {
		return fmt.Errorf("kwargs: %w", err)
	}

	client, err := ctx.Client()
	if err != nil {
		return err
	}

	// OTEL
	parent, endSpan := ctx.StartSpan("EnqueueMessageCommand")
	defer func() { endSpan(err) }()

	// Enqueue the message
	message, err := client.Enqueue(parent, schema.NewMessage(cmd.Queue, cmd.Actor, args, kwargs), cmd.Delay)
	if err != nil {
		return err
	}

	// Print
	fmt.Println(message)
	return nil
}

func (cmd *RequeueCommand) Run(ctx *Globals) (err error) {
	client, err := ctx.Client()
	if err != nil {
		return err
	}

	// OTEL
	parent, endSpan := ctx.StartSpan("RequeueCommand")
	defer func() { endSpan(err) }()

	// Requeue the messages
	count, err := client.Requeue(parent, cmd.Ids...)
	if err != nil {
		return err
	}

	// Print
	fmt.Println(schema.CountResponse{Count: count})
	return nil
}

func (cmd *PurgeCommand) Run(ctx *Globals) (err error) {
	client, err := ctx.Client()
	if err != nil {
		return err
	}

	// OTEL
	parent, endSpan := ctx.StartSpan("PurgeCommand")
	defer func() { endSpan(err) }()

	// Purge settled messages
	count, err := client.Purge(parent, cmd.Retention)
	if err != nil {
		return err
	}

	// Print
	fmt.Println(schema.CountResponse{Count: count})
	return nil
}
