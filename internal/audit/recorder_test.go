// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 VeloAuth Contributors

package audit_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/fR0Z863xF/VeloAuth/internal/audit"
)

// gatedWriter blocks every Write until the gate opens, signalling the
// first attempt. It lets tests hold the consumer mid-write.
type gatedWriter struct {
	started chan struct{}
	gate    chan struct{}
	once    sync.Once

	mu  sync.Mutex
	buf bytes.Buffer
}

func newGatedWriter() *gatedWriter {
	return &gatedWriter{
		started: make(chan struct{}),
		gate:    make(chan struct{}),
	}
}

func (w *gatedWriter) Write(p []byte) (int, error) {
	w.once.Do(func() { close(w.started) })
	<-w.gate

	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}

func (w *gatedWriter) lines(t *testing.T) []map[string]any {
	t.Helper()
	w.mu.Lock()
	defer w.mu.Unlock()
	return decodeLines(t, w.buf.Bytes())
}

func decodeLines(t *testing.T, raw []byte) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range bytes.Split(bytes.TrimSpace(raw), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal(line, &m))
		out = append(out, m)
	}
	return out
}

func nicknames(lines []map[string]any) []string {
	var out []string
	for _, line := range lines {
		if name, ok := line["nickname"].(string); ok {
			out = append(out, name)
		}
	}
	return out
}

func TestLogRecorder_Lifecycle(t *testing.T) {
	defer goleak.VerifyNone(t)

	var buf bytes.Buffer
	r := audit.NewLogRecorder(slog.New(slog.NewJSONHandler(&buf, nil)), 0, nil)

	r.Record(audit.Event{Type: audit.TypeRegistration, Nickname: "Notch"})
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	lines := decodeLines(t, buf.Bytes())
	require.Len(t, lines, 1)
	assert.Equal(t, "REGISTRATION", lines[0]["msg"])
}

func TestLogRecorder_RecordsFields(t *testing.T) {
	var buf bytes.Buffer
	r := audit.NewLogRecorder(slog.New(slog.NewJSONHandler(&buf, nil)), 0, nil)

	id := uuid.MustParse("069a79f4-44e9-4726-a5be-fca90e38aaf5")
	r.Record(audit.Event{
		Type:       audit.TypeLoginSuccess,
		Nickname:   "Notch",
		PlayerUUID: &id,
		IP:         "203.0.113.7",
		Detail:     map[string]any{"session_count": 1},
	})
	require.NoError(t, r.Close())

	lines := decodeLines(t, buf.Bytes())
	require.Len(t, lines, 1)
	line := lines[0]
	assert.Equal(t, "LOGIN_SUCCESS", line["msg"])
	assert.Equal(t, "INFO", line["level"])
	assert.Equal(t, "Notch", line["nickname"])
	assert.Equal(t, id.String(), line["uuid"])
	assert.Equal(t, "203.0.113.7", line["ip"])
	assert.Equal(t, float64(1), line["session_count"])
	assert.NotEmpty(t, line["at"])

	auditID, _ := line["audit_id"].(string)
	assert.Len(t, auditID, 26, "expected a ULID event id")
}

func TestLogRecorder_SecurityEventsWriteImmediately(t *testing.T) {
	var buf bytes.Buffer
	r := audit.NewLogRecorder(slog.New(slog.NewJSONHandler(&buf, nil)), 0, nil)
	t.Cleanup(func() { _ = r.Close() })

	r.Record(audit.Event{
		Type:     audit.TypeSessionHijack,
		Nickname: "Notch",
		IP:       "198.51.100.9",
		Reason:   "address mismatch",
	})

	// No Close needed: the warning went out in the calling goroutine.
	lines := decodeLines(t, buf.Bytes())
	require.Len(t, lines, 1)
	assert.Equal(t, "SESSION_HIJACK", lines[0]["msg"])
	assert.Equal(t, "WARN", lines[0]["level"])
	assert.Equal(t, "address mismatch", lines[0]["reason"])
}

func TestLogRecorder_DrainOnClose(t *testing.T) {
	w := newGatedWriter()
	r := audit.NewLogRecorder(slog.New(slog.NewJSONHandler(w, nil)), 8, nil)

	r.Record(audit.Event{Type: audit.TypeSessionStart, Nickname: "a"})
	r.Record(audit.Event{Type: audit.TypeSessionStart, Nickname: "b"})
	r.Record(audit.Event{Type: audit.TypeSessionStart, Nickname: "c"})

	close(w.gate)
	require.NoError(t, r.Close())

	assert.ElementsMatch(t, []string{"a", "b", "c"}, nicknames(w.lines(t)))
}

func TestLogRecorder_DropsWhenQueueFull(t *testing.T) {
	w := newGatedWriter()
	r := audit.NewLogRecorder(slog.New(slog.NewJSONHandler(w, nil)), 1, nil)

	// The consumer takes "a" and parks inside the blocked write; "b"
	// fills the queue; "c" has nowhere to go.
	r.Record(audit.Event{Type: audit.TypeSessionStart, Nickname: "a"})
	<-w.started
	r.Record(audit.Event{Type: audit.TypeSessionStart, Nickname: "b"})
	r.Record(audit.Event{Type: audit.TypeSessionStart, Nickname: "c"})

	close(w.gate)
	require.NoError(t, r.Close())

	assert.ElementsMatch(t, []string{"a", "b"}, nicknames(w.lines(t)))
}

func TestLogRecorder_StampsUniqueIDs(t *testing.T) {
	var buf bytes.Buffer
	r := audit.NewLogRecorder(slog.New(slog.NewJSONHandler(&buf, nil)), 0, nil)

	r.Record(audit.Event{Type: audit.TypeSessionEnd, Nickname: "Notch"})
	r.Record(audit.Event{Type: audit.TypeSessionEnd, Nickname: "Notch"})
	require.NoError(t, r.Close())

	lines := decodeLines(t, buf.Bytes())
	require.Len(t, lines, 2)
	assert.NotEqual(t, lines[0]["audit_id"], lines[1]["audit_id"])
}

func TestLogRecorder_KeepsProvidedID(t *testing.T) {
	var buf bytes.Buffer
	r := audit.NewLogRecorder(slog.New(slog.NewJSONHandler(&buf, nil)), 0, nil)

	r.Record(audit.Event{ID: "01K5ZQ5YCR4H2M8T3V9WXABCDE", Type: audit.TypeAdminAction})
	require.NoError(t, r.Close())

	lines := decodeLines(t, buf.Bytes())
	require.Len(t, lines, 1)
	assert.Equal(t, "01K5ZQ5YCR4H2M8T3V9WXABCDE", lines[0]["audit_id"])
}

func TestNopRecorder(t *testing.T) {
	var r audit.NopRecorder
	r.Record(audit.Event{Type: audit.TypeLoginSuccess})
	assert.NoError(t, r.Close())
}

func TestType_Level(t *testing.T) {
	warn := []audit.Type{
		audit.TypeLoginFailure, audit.TypeSessionHijack, audit.TypeRateLimit,
		audit.TypePreLoginRateLimit, audit.TypeBruteForceBlock,
		audit.TypeConcurrentSessionLimit, audit.TypePremiumConflictBlocked,
		audit.TypeGeoBlock,
	}
	for _, typ := range warn {
		assert.Equal(t, slog.LevelWarn, typ.Level(), "type %s", typ)
	}

	info := []audit.Type{
		audit.TypeLoginSuccess, audit.TypeRegistration, audit.TypePasswordChange,
		audit.TypeSessionStart, audit.TypeSessionEnd, audit.TypeAccountDeletion,
		audit.TypeAllSessionsInvalidated, audit.TypePremiumStatus,
		audit.TypeConflictEnter, audit.TypeConflictAccess, audit.TypeAdminAction,
	}
	for _, typ := range info {
		assert.Equal(t, slog.LevelInfo, typ.Level(), "type %s", typ)
	}
}
