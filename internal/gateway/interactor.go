// internal/gateway/interactor.go
package gateway

import (
	"context"

	"github.com/google/uuid"

	"github.com/viksva/lobbyd/internal/engine"
	"github.com/viksva/lobbyd/internal/models"
)

// The gateway implements engine.Interactor by mapping each operation onto
// bridge frames.
var _ engine.Interactor = (*Gateway)(nil)

// IssuePrompt sends the candidate prompt to the guild's bridge and registers
// a pending slot for its selection events.
func (g *Gateway) IssuePrompt(ctx context.Context, guild string, prompt models.DisambiguationPrompt) (engine.PromptHandle, error) {
	g.mu.Lock()
	conn, ok := g.bridges[guild]
	if !ok {
		g.mu.Unlock()
		return engine.PromptHandle{}, ErrNoBridge
	}

	promptID := uuid.NewString()
	g.pending[promptID] = &pendingPrompt{
		guild: guild,
		ch:    make(chan models.SelectionEvent, 1),
	}
	g.mu.Unlock()

	conn.write(g.logger, map[string]interface{}{
		"type":      "disambiguation_prompt",
		"prompt_id": promptID,
		"prompt":    prompt,
	})
	return engine.PromptHandle{ID: promptID}, nil
}

// AttachSelectors tells the bridge which selector symbols to offer on the
// prompt (the presentation layer maps them onto reactions).
func (g *Gateway) AttachSelectors(ctx context.Context, guild string, handle engine.PromptHandle, symbols []string) error {
	conn, err := g.bridge(guild)
	if err != nil {
		return err
	}
	conn.write(g.logger, map[string]interface{}{
		"type":      "attach_selectors",
		"prompt_id": handle.ID,
		"selectors": symbols,
	})
	return nil
}

// AwaitSelection blocks until a selection event satisfying valid arrives
// for the prompt, the context expires, or the bridge disconnects.
// Non-qualifying events are ignored and the wait continues.
func (g *Gateway) AwaitSelection(ctx context.Context, guild string, handle engine.PromptHandle, valid func(models.SelectionEvent) bool) (models.SelectionEvent, error) {
	g.mu.Lock()
	p, ok := g.pending[handle.ID]
	g.mu.Unlock()
	if !ok {
		return models.SelectionEvent{}, errBridgeGone
	}
	defer g.dropPending(handle.ID)

	for {
		select {
		case <-ctx.Done():
			return models.SelectionEvent{}, ctx.Err()
		case ev, open := <-p.ch:
			if !open {
				return models.SelectionEvent{}, errBridgeGone
			}
			if valid(ev) {
				return ev, nil
			}
			g.logger.Debugf("ignoring non-qualifying selection on prompt %s", handle.ID)
		}
	}
}

// UpdatePrompt replaces the prompt content with the final leave outcome.
func (g *Gateway) UpdatePrompt(ctx context.Context, guild string, handle engine.PromptHandle, outcome models.LeaveOutcome) error {
	conn, err := g.bridge(guild)
	if err != nil {
		return err
	}
	conn.write(g.logger, map[string]interface{}{
		"type":      "prompt_update",
		"prompt_id": handle.ID,
		"outcome":   outcome,
	})
	return nil
}

func (g *Gateway) bridge(guild string) (*bridgeConn, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	conn, ok := g.bridges[guild]
	if !ok {
		return nil, ErrNoBridge
	}
	return conn, nil
}

func (g *Gateway) dropPending(promptID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.pending, promptID)
}
