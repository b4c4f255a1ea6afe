package platform

import (
	"context"

	"github.com/pkg/errors"

	"playground/internal/model"
	"playground/internal/render"
	"playground/internal/training"
)

// consume drains run's events in delivery order and persists the run once
// its event stream closes. A restart after a failed save finds the stream
// already drained and retries only the save.
func (p *Playground) consume(ctx context.Context, run *training.Run, record model.RunRecord) error {
	events := run.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-events:
			if !ok {
				return p.persistRun(ctx, run, record)
			}
			p.applyEvent(event)
		}
	}
}

// applyEvent refreshes activations from the epoch's model and publishes a
// frame. Events from a superseded session are counted and dropped.
func (p *Playground) applyEvent(event model.EpochEvent) {
	p.mu.Lock()
	if p.handle == nil || event.SessionGeneration != p.handle.Generation() {
		p.mu.Unlock()
		p.staleDropped.Inc()
		return
	}
	data := p.datasets.Current()
	x := p.pool.Acquire(data.Len(), model.InputWidth)
	for i, pt := range data.Points {
		x.Set(i, 0, pt.X)
		x.Set(i, 1, pt.Y)
	}
	err := p.handle.RefreshActivations(x)
	p.pool.Release(x)
	switch {
	case model.IsStaleSession(err):
		p.mu.Unlock()
		p.staleDropped.Inc()
		return
	case err != nil:
		p.logf("run=%s epoch=%d activations err=%v", event.RunID, event.Epoch, err)
	}
	frame, ferr := p.renderLocked()
	p.mu.Unlock()
	p.publish(frame, ferr)
}

func (p *Playground) persistRun(ctx context.Context, run *training.Run, record model.RunRecord) error {
	result := run.Result()
	record.Status = result.Status
	record.CompletedEpochs = result.CompletedEpochs
	record.FinalLoss = result.FinalLoss
	record.Diverged = result.Diverged

	if err := p.store.SaveRun(ctx, record); err != nil {
		return errors.Wrapf(err, "save run %s", record.ID)
	}
	if err := p.store.SaveLossHistory(ctx, record.ID, result.LossHistory); err != nil {
		return errors.Wrapf(err, "save loss history %s", record.ID)
	}
	p.logf("run=%s status=%s epochs=%d/%d final_loss=%.6f diverged=%t",
		record.ID, record.Status, record.CompletedEpochs, record.TotalEpochs, record.FinalLoss, record.Diverged)

	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return nil
	}
	frame, ferr := p.renderLocked()
	p.mu.Unlock()
	p.publish(frame, ferr)
	return nil
}

// Subscribe registers a frame stream. A slow subscriber loses its oldest
// queued frame rather than blocking the publisher. The returned func
// unsubscribes and closes the channel.
func (p *Playground) Subscribe() (<-chan render.Frame, func()) {
	ch := make(chan render.Frame, p.cfg.SubscriberBuffer)
	p.subMu.Lock()
	if p.isClosed() {
		p.subMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := p.nextSub
	p.nextSub++
	p.subscribers[id] = ch
	p.subMu.Unlock()

	return ch, func() {
		p.subMu.Lock()
		defer p.subMu.Unlock()
		if sub, ok := p.subscribers[id]; ok {
			delete(p.subscribers, id)
			close(sub)
		}
	}
}

func (p *Playground) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Playground) publish(frame render.Frame, err error) {
	if err != nil {
		p.logf("render err=%v", err)
		return
	}
	p.subMu.Lock()
	defer p.subMu.Unlock()
	for _, ch := range p.subscribers {
		select {
		case ch <- frame:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- frame:
			default:
			}
		}
		p.framesSent.Inc()
	}
}
