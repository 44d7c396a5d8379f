/*
Package eventgpt provides a generative transformer over sequences of
structured, multi-modal events.

# Overview

Each event of a subject's sequence carries a timestamp and a bundle of
measurements: single and multi categorical codes, scalar and vector
regressions, a time to event, and functional values such as time of day
that are computed rather than predicted. A measurement schema declares
every measurement and assigns it to a dependency graph level. The model
factorizes each event level by level, so measurements at level l are
conditioned on the event history and on the levels below l of the same
event.

# Basic Usage

Build a schema, a model, and a batch, then compute the loss:

	s, err := schema.New().
	    Add(schema.MeasurementSpec{Name: "time_to_event", Kind: schema.TimeToEvent, Level: 0}).
	    Add(schema.MeasurementSpec{Name: "event_type", Kind: schema.SingleCategorical, VocabSize: 8, Level: 0}).
	    Add(schema.MeasurementSpec{Name: "lab", Kind: schema.Regression, Level: 1}).
	    Compile()
	if err != nil {
	    log.Fatal(err)
	}

	model, err := eventgpt.New(s, eventgpt.DefaultModelConfig())
	if err != nil {
	    log.Fatal(err)
	}

	result, err := model.ForwardAndLoss(ctx, batch)
	if err != nil {
	    log.Fatal(err)
	}
	result.Backward()

# Generation

Generate extends seed sequences event by event and level by level:

	out, err := model.Generate(ctx, seed, 10, eventgpt.SamplingPolicy{Temperature: 0.8, Seed: 1},
	    eventgpt.WithTimeHorizon(7*24*60),
	    eventgpt.WithStepHook(func(s eventgpt.Step) { ... }),
	)

Every step produces a new immutable sequence snapshot and re-runs the
attention stack over it. Generation stops per sequence on the new event
limit, the maximum sequence length, a stop category, or the time horizon.

# Error Handling

Errors are typed and match sentinels via errors.Is:

	var cfgErr *eventgpt.ConfigurationError
	if errors.As(err, &cfgErr) {
	    log.Printf("measurement %s: %s", cfgErr.Measurement, cfgErr.Reason)
	}

The errors subpackage categorizes them for training harnesses: invalid
distribution parameters retry the step with a lower learning rate, shape
mismatches and unknown measurements skip the batch.

# Observability

	model, err := eventgpt.New(s, cfg,
	    eventgpt.WithLogger(logger),
	    eventgpt.WithMetrics(true),
	    eventgpt.WithTracing(true),
	)

Metrics and spans use the global OpenTelemetry providers.
*/
package eventgpt
