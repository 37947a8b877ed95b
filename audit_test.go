package workgate

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type countingSink struct {
	count atomic.Int64
}

func (s *countingSink) Emit(context.Context, AuditEvent) {
	s.count.Add(1)
}

func (s *countingSink) Count() int64 {
	return s.count.Load()
}

func collectEvents(sink *ChannelSink, max int, wait time.Duration) []AuditEvent {
	events := make([]AuditEvent, 0, max)
	timeout := time.After(wait)
	for len(events) < max {
		select {
		case ev := <-sink.Events():
			events = append(events, ev)
		case <-timeout:
			return events
		}
	}
	return events
}

func TestAuditDisabledNoSinkCalls(t *testing.T) {
	cfg := engineTestConfig()
	cfg.Audit.Enabled = false
	sink := &countingSink{}
	env := newTestEnv(t, cfg, func(b *Builder) { b.WithAuditSink(sink) })

	_, _ = env.engine.Login(WithClientIP(context.Background(), "203.0.113.1"), KindEmployee, "emp42", "wrong-password", "")
	time.Sleep(30 * time.Millisecond)

	if sink.Count() != 0 {
		t.Fatalf("expected no audit sink calls when disabled, got %d", sink.Count())
	}
}

func TestAuditLoginFailureCarriesCodeAndIP(t *testing.T) {
	cfg := engineTestConfig()
	cfg.Audit.Enabled = true
	cfg.Audit.DropIfFull = false
	sink := NewChannelSink(8)
	env := newTestEnv(t, cfg, func(b *Builder) { b.WithAuditSink(sink) })

	ctx := WithClientIP(context.Background(), "198.51.100.33")
	_, _ = env.engine.Login(ctx, KindEmployee, "emp42", "super-secret-password", "")

	for _, ev := range collectEvents(sink, 4, 500*time.Millisecond) {
		if ev.EventType != auditEventLoginFailure {
			continue
		}
		if ev.IP != "198.51.100.33" || ev.Error != CodeInvalidCredentials || ev.Success {
			t.Fatalf("unexpected event %+v", ev)
		}
		if ev.Metadata["identifier"] != "emp42" {
			t.Fatalf("expected identifier metadata, got %+v", ev.Metadata)
		}
		return
	}
	t.Fatal("login_failure event not delivered")
}

func TestAuditTwoFactorEvents(t *testing.T) {
	cfg := engineTestConfig()
	cfg.Audit.Enabled = true
	cfg.Audit.DropIfFull = false
	sink := NewChannelSink(32)
	env := newTestEnv(t, cfg, func(b *Builder) { b.WithAuditSink(sink) })

	res := env.login(t, KindAdmin, "boss")
	_ = env.engine.RequireFreshTwoFactor(context.Background(), res.Context, payrollArea)
	_ = env.engine.VerifyTwoFactor(context.Background(), res.Context, "000000x")
	code := lastCode(t, env.mailer)
	if err := env.engine.VerifyTwoFactor(context.Background(), res.Context, code); err != nil {
		t.Fatalf("verify failed: %v", err)
	}

	seen := map[string]AuditEvent{}
	for _, ev := range collectEvents(sink, 8, time.Second) {
		seen[ev.EventType] = ev
	}
	for _, want := range []string{auditEventTwoFactorRequired, auditEventTwoFactorFailure, auditEventTwoFactorSuccess} {
		ev, ok := seen[want]
		if !ok {
			t.Fatalf("missing %s event, saw %v", want, seen)
		}
		if ev.PrincipalID != testAdminID || ev.JTI != res.Context.JTI {
			t.Fatalf("%s: unexpected identity %+v", want, ev)
		}
	}
	if seen[auditEventTwoFactorRequired].Route != payrollArea {
		t.Fatalf("expected route on two_factor_required, got %q", seen[auditEventTwoFactorRequired].Route)
	}
}

func TestAuditNoSecretsInEvents(t *testing.T) {
	cfg := engineTestConfig()
	cfg.Audit.Enabled = true
	cfg.Audit.BufferSize = 32
	cfg.Audit.DropIfFull = false
	sink := NewChannelSink(32)
	env := newTestEnv(t, cfg, func(b *Builder) { b.WithAuditSink(sink) })

	res := env.login(t, KindAdmin, "boss")
	_ = env.engine.RequireFreshTwoFactor(context.Background(), res.Context, payrollArea)
	code := lastCode(t, env.mailer)
	if err := env.engine.VerifyTwoFactor(context.Background(), res.Context, code); err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if err := env.engine.Logout(context.Background(), res.Context); err != nil {
		t.Fatalf("logout failed: %v", err)
	}

	p, err := env.store.FindPrincipal(context.Background(), KindAdmin, "boss")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	needles := []string{testSecret, res.Token, p.PasswordHash, code}

	events := collectEvents(sink, 8, time.Second)
	if len(events) == 0 {
		t.Fatal("expected at least one audit event")
	}
	for _, ev := range events {
		for _, needle := range needles {
			if strings.Contains(ev.Error, needle) {
				t.Fatalf("sensitive value leaked in audit error field: %q", needle)
			}
			for k, v := range ev.Metadata {
				if strings.Contains(k, needle) || strings.Contains(v, needle) {
					t.Fatalf("sensitive value leaked in audit metadata: %q", needle)
				}
			}
		}
	}
}

func TestAuditJSONWriterSinkWritesJSONLines(t *testing.T) {
	var buf syncBuffer
	sink := NewJSONWriterSink(&buf)
	sink.Emit(context.Background(), AuditEvent{
		Timestamp:   time.Now().UTC(),
		EventType:   auditEventLoginSuccess,
		PrincipalID: 42,
		Kind:        string(KindEmployee),
		IP:          "127.0.0.1",
		Success:     true,
	})

	if !buf.Contains("login_success") {
		t.Fatal("expected JSON log line to contain event type")
	}
	if !buf.Contains(`"principal_id":42`) {
		t.Fatal("expected JSON log line to contain principal id")
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *syncBuffer) Contains(v string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Contains(string(b.buf), v)
}
