// Package httpclient provides a typed Go client for the broker REST API.
//
// Create a client with:
//
//	client, err := httpclient.New("http://localhost:8080/api/v1")
//	if err != nil {
//	   panic(err)
//	}
//
// Then use the client to inspect and manage messages:
//
//	stats, err := client.ListQueueStats(ctx)
//	messages, err := client.ListMessages(ctx, httpclient.WithQueue("emails"))
//	message, err := client.Enqueue(ctx, schema.NewMessage("emails", "send", nil, nil), time.Minute)
//	count, err := client.Requeue(ctx, message.MessageId)
package httpclient
