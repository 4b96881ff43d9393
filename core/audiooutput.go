package orchestration

import "context"

// replyPlayer wraps the optional reply player. Without a player every clip
// completes immediately so turns still return to listening.
type replyPlayer struct {
	player ReplyPlayer
}

func (p *replyPlayer) Set(player ReplyPlayer) {
	p.player = nil
	if isNilInterface(player) {
		return
	}
	p.player = player
}

func (p *replyPlayer) IsConfigured() bool { return p != nil && p.player != nil }

func (p *replyPlayer) PlayResponse(ctx context.Context, payload []byte, mimeType string, onComplete func()) error {
	if !p.IsConfigured() {
		if onComplete != nil {
			go onComplete()
		}
		return nil
	}
	return p.player.PlayResponse(ctx, payload, mimeType, onComplete)
}

func (p *replyPlayer) Flush() {
	if p.IsConfigured() {
		p.player.Flush()
	}
}

func (p *replyPlayer) Close() error {
	if !p.IsConfigured() {
		return nil
	}
	return p.player.Close()
}

func (p *replyPlayer) Reopen() {
	if p.IsConfigured() {
		p.player.Reopen()
	}
}
