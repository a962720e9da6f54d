package bot

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	kit "bioscout/internal/transport"
)

// chatReplier is the transport.Replier of one chat. Progress edits are
// throttled; the newest skipped text is kept and written by Flush.
type chatReplier struct {
	adapter kit.Adapter
	chat    kit.ChatTarget
	limiter *rate.Limiter

	mu      sync.Mutex
	ref     *kit.MessageRef
	last    string
	pending string
}

func newChatReplier(a kit.Adapter, chat kit.ChatTarget, every time.Duration) *chatReplier {
	lim := rate.Limit(rate.Inf)
	if every > 0 {
		lim = rate.Every(every)
	}
	return &chatReplier{adapter: a, chat: chat, limiter: rate.NewLimiter(lim, 1)}
}

func (r *chatReplier) SendText(ctx context.Context, text string) error {
	_, err := r.adapter.SendText(ctx, r.chat, text, &kit.SendOptions{DisablePreview: true})
	return err
}

func (r *chatReplier) SendDocument(ctx context.Context, name string, data []byte, caption string) error {
	_, err := r.adapter.SendDocument(ctx, r.chat, name, data, caption)
	return err
}

func (r *chatReplier) EditProgress(ctx context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if text == r.last {
		r.pending = ""
		return nil
	}
	if r.ref == nil {
		ref, err := r.adapter.SendText(ctx, r.chat, text, nil)
		if err != nil {
			return err
		}
		r.ref = &ref
		r.last = text
		r.limiter.Allow()
		return nil
	}
	if !r.limiter.Allow() {
		r.pending = text
		return nil
	}
	return r.editLocked(ctx, text)
}

// Flush writes the last throttled progress text, if any.
func (r *chatReplier) Flush(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending == "" || r.ref == nil {
		return nil
	}
	return r.editLocked(ctx, r.pending)
}

func (r *chatReplier) editLocked(ctx context.Context, text string) error {
	if err := r.adapter.EditText(ctx, *r.ref, text, nil); err != nil {
		return err
	}
	r.last = text
	r.pending = ""
	return nil
}
