/*
Package herald orchestrates asynchronous model runs for chat surfaces.

A run starts with a prompt from a requester, is acknowledged immediately with
a receipt, and then proceeds in the background: the engine calls the model
gateway, routes any tool calls through the tool broker, and feeds the results
back to the model until it produces a final message or runs out of rounds.
Progress streams over a per-run event topic that subscribers can join late
and resume after a disconnect.

# Basic Usage

	gateway := openai.New("gpt-4o-mini")

	tools, _ := broker.New(broker.WithProvider("demo", broker.NewLocalProvider("demo",
		broker.LocalTool{
			Name:        "clock",
			Description: "Tells the current time",
			Handler: func(ctx context.Context, args json.RawMessage) (string, error) {
				return time.Now().Format(time.Kitchen), nil
			},
		},
	)))
	_ = tools.Discover(ctx)

	engine, _ := herald.New(
		herald.WithGateway(gateway),
		herald.WithToolBroker(tools),
	)

	receipt, _ := engine.Submit(ctx, herald.Request{
		Prompt:    "what time is it?",
		Requester: api.Requester{Provider: "slack", ID: "U123"},
	})

	engine.Subscribe(ctx, receipt.RunID, myHook)

# Architecture

The package is built from a few independent pieces:

  - Engine: accepts submissions, owns run state, and reports outcomes
  - Bus: ordered, replayable per-run event streams with heartbeats
  - Broker: discovers provider tools and routes fully qualified tool calls
  - Provider: the model gateway abstraction
  - Audit: a start/finish accounting trail per run

Each piece is usable on its own; the engine only wires them together.
*/
package herald
