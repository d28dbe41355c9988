package main

import (
	"encoding/json"
	"io"
	"sync"

	"negotiation-chat/internal/domain"
)

// printer turns timeline snapshots into per-message lines. Message and typing
// callbacks arrive from different subscriptions, hence the lock.
type printer struct {
	mu   sync.Mutex
	enc  *json.Encoder
	seen map[string]bool // message id -> read receipt already printed
}

func newPrinter(w io.Writer) *printer {
	return &printer{enc: json.NewEncoder(w), seen: make(map[string]bool)}
}

func (p *printer) timeline(msgs []domain.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range msgs {
		m := msgs[i]
		if m.Provisional() {
			continue
		}
		read, ok := p.seen[m.ID]
		switch {
		case !ok:
			p.seen[m.ID] = m.ReadAt != nil
			_ = p.enc.Encode(line{Kind: "message", Message: &m})
		case !read && m.ReadAt != nil:
			p.seen[m.ID] = true
			_ = p.enc.Encode(line{Kind: "read", Message: &m})
		}
	}
}

func (p *printer) typing(st domain.TypingStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.enc.Encode(line{Kind: "typing", Typing: &st})
}
