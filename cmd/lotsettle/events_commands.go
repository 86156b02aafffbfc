package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"

	natspkg "github.com/miiworld/lotsettle/service/nats"
)

// subscribeCommand streams settlement and distribution events from JetStream.
func subscribeCommand() *cli.Command {
	return &cli.Command{
		Name:      "subscribe",
		Usage:     "Subscribe to settlement and distribution events",
		ArgsUsage: "[subject]",
		Description: `Subscribe to real-time events published to NATS JetStream.

Settlement events are published to settlements.{listing_id} and distribution
events to distributions.{owner_wallet}. With no argument, all subjects on the
stream are consumed.

Example:
  lotsettle events subscribe "distributions.*" --json`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "durable",
				Aliases: []string{"d"},
				Usage:   "Create a durable consumer (survives restarts)",
			},
			&cli.StringFlag{
				Name:  "consumer-name",
				Usage: "Consumer name (required for durable)",
				Value: "lotsettle-cli",
			},
		},
		Action: func(c *cli.Context) error {
			subject := c.Args().Get(0)
			return streamEvents(subject, c.String("nats-url"), c.Bool("durable"), c.String("consumer-name"), c.Bool("json"))
		},
	}
}

func streamEvents(subject, natsURL string, durable bool, consumerName string, jsonOutput bool) error {
	nc, err := nats.Connect(natsURL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	if !jsonOutput {
		if subject == "" {
			fmt.Printf("Subscribing to all events on stream %s\n", natspkg.StreamName)
		} else {
			fmt.Printf("Subscribing to: %s\n", subject)
		}
		fmt.Printf("   NATS: %s\n", natsURL)
		fmt.Printf("\nWaiting for events... (Ctrl-C to exit)\n\n")
	}

	consumerConfig := jetstream.ConsumerConfig{
		AckPolicy: jetstream.AckExplicitPolicy,
	}
	if subject != "" {
		consumerConfig.FilterSubject = subject
	}
	if durable {
		consumerConfig.Durable = consumerName
		consumerConfig.Name = consumerName
	}

	cons, err := js.CreateOrUpdateConsumer(context.Background(), natspkg.StreamName, consumerConfig)
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	msgChan := make(chan jetstream.Msg, 10)
	go func() {
		_, _ = cons.Consume(func(msg jetstream.Msg) {
			msgChan <- msg
		})
	}()

	count := 0
	for {
		select {
		case msg := <-msgChan:
			count++
			printEvent(msg, count, jsonOutput)
			msg.Ack()
		case <-sigChan:
			if !jsonOutput {
				fmt.Printf("\nReceived %d events\n", count)
			}
			return nil
		}
	}
}

func printEvent(msg jetstream.Msg, count int, jsonOutput bool) {
	if jsonOutput {
		fmt.Println(string(msg.Data()))
		return
	}

	fmt.Printf("─────────────────────────────────────────────────────\n")
	fmt.Printf("Event #%d  (%s)\n", count, msg.Subject())
	fmt.Printf("─────────────────────────────────────────────────────\n")

	var pretty map[string]any
	if err := json.Unmarshal(msg.Data(), &pretty); err != nil {
		fmt.Println(string(msg.Data()))
		return
	}
	for _, key := range []string{"listing_id", "user_id", "buyer_wallet", "owner_wallet", "token_amount", "signature", "published_at"} {
		if v, ok := pretty[key]; ok {
			fmt.Printf("%-14s %v\n", key+":", v)
		}
	}
	fmt.Println()
}
