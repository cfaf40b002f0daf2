package advisor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"kimhanh/internal/identity"
	"kimhanh/internal/pkg/logger"
	"kimhanh/internal/pkg/ratelimit"
)

type fakeGenerator struct {
	mu    sync.Mutex
	reply string
	err   error
	calls [][]Message
}

func (f *fakeGenerator) Generate(ctx context.Context, contents []Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]Message(nil), contents...))
	return f.reply, f.err
}

type fakeLimiter struct{ err error }

func (f fakeLimiter) Acquire(ctx context.Context, scope string) error { return f.err }

type memDeduper struct{ seen map[string]bool }

func (m *memDeduper) IsDuplicate(ctx context.Context, key string) (bool, error) {
	if m.seen == nil {
		m.seen = make(map[string]bool)
	}
	dup := m.seen[key]
	m.seen[key] = true
	return dup, nil
}

func weddingIdentity() identity.Identity {
	return identity.Identity{
		PurchaseType: identity.Wedding,
		Primary:      identity.Person{Name: "Nguyễn Văn An", DOB: "1990-02-03"},
		Partner:      &identity.Person{Name: "Trần Thị Bình", DOB: "1992-05-06"},
		Phone:        "0901",
	}
}

func TestFengShuiPrompt_IncludesPartnerOnlyForWedding(t *testing.T) {
	id := weddingIdentity()
	p := FengShuiPrompt(id)
	if !strings.Contains(p, "Nguyễn Văn An") || !strings.Contains(p, "Trần Thị Bình") || !strings.Contains(p, "trang sức cưới") {
		t.Fatalf("wedding prompt missing details:\n%s", p)
	}

	id.PurchaseType = identity.Regular
	p = FengShuiPrompt(id)
	if strings.Contains(p, "Trần Thị Bình") || !strings.Contains(p, "cá nhân") {
		t.Fatalf("regular prompt should not mention partner:\n%s", p)
	}
}

func TestAdvisor_InitialAdvice(t *testing.T) {
	gen := &fakeGenerator{reply: "  Nên chọn vàng 18K.  "}
	a := New(gen, nil, nil, logger.Discard())

	got := a.InitialAdvice(context.Background(), "s1", weddingIdentity())
	if got != "Nên chọn vàng 18K." {
		t.Fatalf("unexpected advice %q", got)
	}
	if len(gen.calls) != 1 || len(gen.calls[0]) != 1 || gen.calls[0][0].Role != RoleUser {
		t.Fatalf("unexpected generator input: %+v", gen.calls)
	}
}

func TestAdvisor_ReplySendsPromptHistoryAndMessage(t *testing.T) {
	gen := &fakeGenerator{reply: "Dạ, được ạ."}
	a := New(gen, nil, nil, logger.Discard())

	history := []Message{{Role: RoleModel, Content: "Chào anh"}}
	got := a.Reply(context.Background(), "s1", weddingIdentity(), history, "Tôi mệnh Kim")
	if got != "Dạ, được ạ." {
		t.Fatalf("unexpected reply %q", got)
	}
	sent := gen.calls[0]
	if len(sent) != 3 || sent[1].Content != "Chào anh" || sent[2].Content != "Tôi mệnh Kim" || sent[2].Role != RoleUser {
		t.Fatalf("unexpected conversation: %+v", sent)
	}
}

func TestAdvisor_Fallbacks(t *testing.T) {
	ctx := context.Background()
	id := weddingIdentity()

	failing := New(&fakeGenerator{err: errors.New("quota")}, nil, nil, logger.Discard())
	if got := failing.InitialAdvice(ctx, "s1", id); got != FallbackInitial {
		t.Fatalf("initial fallback = %q", got)
	}
	if got := failing.Reply(ctx, "s1", id, nil, "hi"); got != FallbackReply {
		t.Fatalf("reply fallback = %q", got)
	}

	empty := New(&fakeGenerator{reply: "   "}, nil, nil, logger.Discard())
	if got := empty.Reply(ctx, "s1", id, nil, "hi"); got != FallbackReply {
		t.Fatalf("empty reply fallback = %q", got)
	}

	limited := New(&fakeGenerator{reply: "ok"}, fakeLimiter{err: ratelimit.ErrRateLimitTimeout}, nil, logger.Discard())
	if got := limited.Reply(ctx, "s1", id, nil, "hi"); got != FallbackBusy {
		t.Fatalf("rate limited reply = %q", got)
	}

	disabled := New(nil, nil, nil, logger.Discard())
	if disabled.Enabled() || disabled.InitialAdvice(ctx, "s1", id) != DisabledMessage {
		t.Fatalf("disabled advisor should return DisabledMessage")
	}
}

func TestAdvisor_NudgeDeduplicated(t *testing.T) {
	gen := &fakeGenerator{reply: "Anh xem thử nhẫn trơn nhé?"}
	a := New(gen, nil, &memDeduper{}, logger.Discard())

	text, ok := a.Nudge(context.Background(), "s1", weddingIdentity(), nil)
	if !ok || text != "Anh xem thử nhẫn trơn nhé?" {
		t.Fatalf("first nudge = %q, %v", text, ok)
	}
	if _, ok := a.Nudge(context.Background(), "s1", weddingIdentity(), nil); ok {
		t.Fatalf("second nudge in window should be skipped")
	}
	if len(gen.calls) != 1 {
		t.Fatalf("expected one generation, got %d", len(gen.calls))
	}
}
