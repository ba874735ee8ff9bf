// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

// Package generation runs a batch of prompts against the image backend and
// stores every produced image. Individual failures never abort a batch;
// they are collected next to the successes so the caller can decide what
// the batch as a whole means.
package generation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"postforge/internal/ai"
	"postforge/internal/metrics"
	"postforge/internal/models"
)

// DefaultDelay is the pause between consecutive prompts. It keeps a batch
// under the backend's request rate limit.
const DefaultDelay = 2 * time.Second

// ArtifactStore persists generated images and returns their public URL.
type ArtifactStore interface {
	UploadArtifact(ctx context.Context, data []byte, mimeType, namespace string) (string, error)
}

// Batch is one ordered set of prompts sharing references and settings.
type Batch struct {
	Prompts    []string
	References []models.ReferenceImage
	Settings   models.Settings
	Namespace  string
}

// Success is a prompt whose image was generated and stored.
type Success struct {
	Prompt   string `json:"prompt"`
	ImageURL string `json:"imageUrl"`
	Order    int    `json:"order"`
}

// Failure is a prompt that produced no stored image.
type Failure struct {
	PromptIndex  int    `json:"promptIndex"`
	Prompt       string `json:"prompt"`
	ErrorMessage string `json:"errorMessage"`
}

// Result aggregates a batch. Both slices are in prompt order and together
// cover every prompt exactly once.
type Result struct {
	Successes []Success
	Failures  []Failure
}

// Options tune pacing. Zero values select the defaults.
type Options struct {
	// Delay is waited after every prompt except the last.
	Delay time.Duration
	// Concurrency bounds in-flight prompts. 1 means strictly sequential.
	Concurrency int
}

// Orchestrator is safe for concurrent use; it holds no per-batch state.
type Orchestrator struct {
	gen         ai.ImageGenerator
	store       ArtifactStore
	delay       time.Duration
	concurrency int
	wait        func(ctx context.Context, d time.Duration) error
}

// New creates an orchestrator. A negative delay disables pacing.
func New(gen ai.ImageGenerator, store ArtifactStore, opts Options) *Orchestrator {
	delay := opts.Delay
	if delay == 0 {
		delay = DefaultDelay
	}
	if delay < 0 {
		delay = 0
	}
	concurrency := opts.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	return &Orchestrator{
		gen:         gen,
		store:       store,
		delay:       delay,
		concurrency: concurrency,
		wait:        sleepContext,
	}
}

// Run generates one image per prompt. The same references are sent with
// every prompt; an empty reference set yields text-only generations.
func (o *Orchestrator) Run(ctx context.Context, b Batch) Result {
	start := time.Now()
	outcomes := make([]outcome, len(b.Prompts))

	if o.concurrency == 1 {
		for i := range b.Prompts {
			outcomes[i] = o.runOne(ctx, b, i)
			o.pace(ctx, i, len(b.Prompts))
		}
	} else {
		var g errgroup.Group
		g.SetLimit(o.concurrency)
		for i := range b.Prompts {
			g.Go(func() error {
				outcomes[i] = o.runOne(ctx, b, i)
				o.pace(ctx, i, len(b.Prompts))
				return nil
			})
		}
		_ = g.Wait()
	}

	var res Result
	for i, out := range outcomes {
		if out.err != nil {
			res.Failures = append(res.Failures, Failure{
				PromptIndex:  i,
				Prompt:       b.Prompts[i],
				ErrorMessage: out.err.Error(),
			})
			continue
		}
		res.Successes = append(res.Successes, Success{
			Prompt:   b.Prompts[i],
			ImageURL: out.url,
			Order:    i,
		})
	}

	metrics.ObserveBatch(b.Namespace, time.Since(start).Seconds())
	slog.Info("generation batch finished",
		"namespace", b.Namespace,
		"prompts", len(b.Prompts),
		"successes", len(res.Successes),
		"failures", len(res.Failures),
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return res
}

type outcome struct {
	url string
	err error
}

func (o *Orchestrator) runOne(ctx context.Context, b Batch, i int) outcome {
	prompt := b.Prompts[i]

	img, err := o.gen.GenerateImage(ctx, ai.ImageRequest{
		Prompt:      prompt,
		References:  b.References,
		AspectRatio: b.Settings.AspectRatio,
		ImageSize:   b.Settings.ImageSize,
		Style:       b.Settings.Style,
	})
	if err != nil {
		return o.fail(b.Namespace, i, fmt.Errorf("generate: %w", err))
	}

	url, err := o.store.UploadArtifact(ctx, img.Data, img.MimeType, b.Namespace)
	if err != nil {
		return o.fail(b.Namespace, i, fmt.Errorf("upload: %w", err))
	}

	metrics.RecordImage(b.Namespace, metrics.OutcomeSuccess)
	return outcome{url: url}
}

func (o *Orchestrator) fail(namespace string, i int, err error) outcome {
	metrics.RecordImage(namespace, metrics.OutcomeFailure)
	slog.Warn("prompt generation failed", "namespace", namespace, "index", i, "error", err)
	return outcome{err: err}
}

// pace waits the configured delay unless i is the last prompt.
func (o *Orchestrator) pace(ctx context.Context, i, n int) {
	if o.delay <= 0 || i == n-1 {
		return
	}
	_ = o.wait(ctx, o.delay)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
