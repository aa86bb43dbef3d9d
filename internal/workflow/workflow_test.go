package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/qrhub/internal/apperr"
	"github.com/starford/qrhub/internal/encoder"
	"github.com/starford/qrhub/internal/history"
	"github.com/starford/qrhub/internal/models"
	"github.com/starford/qrhub/internal/testutil"
)

// stubEncoder returns a fixed image, fails when err is set, and blocks on
// gate when it is non-nil.
type stubEncoder struct {
	mu       sync.Mutex
	err      error
	gate     chan struct{}
	entered  chan struct{}
	payloads []string
}

func (s *stubEncoder) Encode(ctx context.Context, payload string) (*encoder.Image, error) {
	s.mu.Lock()
	s.payloads = append(s.payloads, payload)
	gate, entered, err := s.gate, s.entered, s.err
	s.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	png := []byte("png:" + payload)
	return &encoder.Image{PNG: png, DataURL: encoder.DataURL(png)}, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingNotifier) Notify(name string, _ any) {
	r.mu.Lock()
	r.events = append(r.events, name)
	r.mu.Unlock()
}

func (r *recordingNotifier) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func newTestWorkflow(t *testing.T, enc Encoder) (*Workflow, *testutil.MemStore, *recordingNotifier) {
	t.Helper()
	mem := testutil.NewMemStore()
	n := &recordingNotifier{}
	clock := func() time.Time { return time.UnixMilli(1_700_000_000_000) }
	w := New(history.New(mem, ""), enc, mem, WithNotifier(n), WithClock(clock))
	w.Init()
	return w, mem, n
}

func TestGenerate_EndToEnd(t *testing.T) {
	enc, err := encoder.New(encoder.DefaultOptions())
	require.NoError(t, err)
	w, _, _ := newTestWorkflow(t, enc)
	ctx := context.Background()

	require.NoError(t, w.SetField(models.FieldText, "hello"))
	d, err := w.Generate(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, d.DataURL)
	assert.NotEmpty(t, d.PNG())
	assert.Equal(t, "qr-text-1700000000000.png", d.Filename())

	hist := w.History()
	require.Len(t, hist, 1)
	assert.Equal(t, "hello", hist[0].Content)
	assert.Equal(t, models.KindText, hist[0].Kind)
	assert.Equal(t, d.RecordID, hist[0].ID)

	// Empty input is rejected and adds nothing.
	require.NoError(t, w.SetField(models.FieldText, ""))
	_, err = w.Generate(ctx)
	var formErr *FormError
	require.ErrorAs(t, err, &formErr)
	assert.Equal(t, "Text is required.", formErr.Fields[models.FieldText])
	assert.Len(t, w.History(), 1)

	shown, ok := w.Display()
	require.True(t, ok)
	assert.Equal(t, d.DataURL, shown.DataURL, "failed validation must keep the previous image")
}

func TestGenerate_PayloadAndLabel(t *testing.T) {
	enc := &stubEncoder{}
	w, _, _ := newTestWorkflow(t, enc)

	require.NoError(t, w.SelectKind(models.KindUPI))
	require.NoError(t, w.SetFields(map[string]string{"upiId": "a@b", "amount": "10"}))
	d, err := w.Generate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"upi://pay?pa=a@b&pn=Payment&am=10&cu=INR"}, enc.payloads)
	assert.Equal(t, "a@b - ₹10", d.Label)
	assert.Equal(t, "a@b - ₹10", w.History()[0].Content)
}

func TestGenerate_EncodeFailureKeepsState(t *testing.T) {
	enc := &stubEncoder{}
	w, _, n := newTestWorkflow(t, enc)
	ctx := context.Background()

	require.NoError(t, w.SetField(models.FieldText, "first"))
	first, err := w.Generate(ctx)
	require.NoError(t, err)

	enc.mu.Lock()
	enc.err = encoder.ErrEncode
	enc.mu.Unlock()
	require.NoError(t, w.SetField(models.FieldText, "second"))
	eventsBefore := len(n.names())

	_, err = w.Generate(ctx)
	assert.ErrorIs(t, err, encoder.ErrEncode)
	assert.Len(t, w.History(), 1)
	shown, ok := w.Display()
	require.True(t, ok)
	assert.Equal(t, first.DataURL, shown.DataURL)
	assert.Len(t, n.names(), eventsBefore, "failed encode must not publish events")
}

func TestGenerate_RejectsConcurrentTrigger(t *testing.T) {
	enc := &stubEncoder{gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	w, _, _ := newTestWorkflow(t, enc)
	require.NoError(t, w.SetField(models.FieldText, "once"))

	done := make(chan error, 1)
	go func() {
		_, err := w.Generate(context.Background())
		done <- err
	}()
	<-enc.entered

	_, err := w.Generate(context.Background())
	assert.ErrorIs(t, err, apperr.ErrBusy)
	_, err = w.Submit(context.Background(), models.KindURL, models.Fields{"url": "x.io"})
	assert.ErrorIs(t, err, apperr.ErrBusy)
	assert.Equal(t, models.KindText, w.Form().Kind, "busy submit must not touch the form")

	close(enc.gate)
	require.NoError(t, <-done)
	assert.Len(t, w.History(), 1)
}

func TestGenerate_KindChangeDuringEncodeKeepsDisplayClear(t *testing.T) {
	enc := &stubEncoder{gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	w, _, n := newTestWorkflow(t, enc)
	require.NoError(t, w.SetField(models.FieldText, "late"))

	done := make(chan error, 1)
	go func() {
		_, err := w.Generate(context.Background())
		done <- err
	}()
	<-enc.entered

	require.NoError(t, w.SelectKind(models.KindWiFi))
	close(enc.gate)
	require.NoError(t, <-done)

	assert.Equal(t, models.KindWiFi, w.Form().Kind)
	_, shown := w.Display()
	assert.False(t, shown, "image of the old kind must not be shown")
	hist := w.History()
	require.Len(t, hist, 1)
	assert.Equal(t, models.KindText, hist[0].Kind)
	assert.Equal(t, []string{"display.changed", "history.appended"}, n.names())
}

func TestGenerate_LoadRecordDuringEncodeWins(t *testing.T) {
	enc := &stubEncoder{}
	w, _, _ := newTestWorkflow(t, enc)
	require.NoError(t, w.SetField(models.FieldText, "old"))
	first, err := w.Generate(context.Background())
	require.NoError(t, err)

	enc.mu.Lock()
	enc.gate, enc.entered = make(chan struct{}), make(chan struct{}, 1)
	enc.mu.Unlock()
	require.NoError(t, w.SetField(models.FieldText, "new"))

	done := make(chan error, 1)
	go func() {
		_, err := w.Generate(context.Background())
		done <- err
	}()
	<-enc.entered

	_, err = w.LoadRecord(first.RecordID)
	require.NoError(t, err)
	close(enc.gate)
	require.NoError(t, <-done)

	shown, ok := w.Display()
	require.True(t, ok)
	assert.Equal(t, first.RecordID, shown.RecordID)
	assert.Len(t, w.History(), 2)
}

func TestGenerateWithFields(t *testing.T) {
	enc := &stubEncoder{gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	w, _, _ := newTestWorkflow(t, enc)
	require.NoError(t, w.SetField(models.FieldText, "first"))

	done := make(chan error, 1)
	go func() {
		_, err := w.Generate(context.Background())
		done <- err
	}()
	<-enc.entered

	_, err := w.GenerateWithFields(context.Background(), map[string]string{"text": "second"})
	assert.ErrorIs(t, err, apperr.ErrBusy)
	assert.Equal(t, "first", w.Form().Fields["text"], "busy trigger must not touch the form")

	close(enc.gate)
	require.NoError(t, <-done)

	enc.mu.Lock()
	enc.gate, enc.entered = nil, nil
	enc.mu.Unlock()
	d, err := w.GenerateWithFields(context.Background(), map[string]string{"text": "second"})
	require.NoError(t, err)
	assert.Equal(t, "second", d.Label)

	_, err = w.GenerateWithFields(context.Background(), map[string]string{"bogus": "x"})
	assert.ErrorIs(t, err, ErrUnknownField)
}

func TestSelectKind_ClearsFieldsAndDisplay(t *testing.T) {
	w, _, _ := newTestWorkflow(t, &stubEncoder{})
	require.NoError(t, w.SetField(models.FieldText, "hi"))
	_, err := w.Generate(context.Background())
	require.NoError(t, err)

	require.NoError(t, w.SelectKind(models.KindWiFi))
	form := w.Form()
	assert.Equal(t, models.KindWiFi, form.Kind)
	assert.Empty(t, form.Fields)
	assert.False(t, form.Ready)
	assert.Equal(t, "SSID is required.", form.Errors["ssid"])
	_, shown := w.Display()
	assert.False(t, shown)
	assert.Len(t, w.History(), 1, "history survives a kind change")

	assert.Error(t, w.SelectKind(models.Kind("sms")))
}

func TestSetField_Unknown(t *testing.T) {
	w, _, _ := newTestWorkflow(t, &stubEncoder{})
	assert.ErrorIs(t, w.SetField("nickname", "x"), ErrUnknownField)
	assert.ErrorIs(t, w.SetFields(map[string]string{"text": "a", "bogus": "b"}), ErrUnknownField)
	assert.Empty(t, w.Form().Fields)
}

func TestFieldsOfOtherKindsAreIgnored(t *testing.T) {
	enc := &stubEncoder{}
	w, _, _ := newTestWorkflow(t, enc)
	require.NoError(t, w.SetFields(map[string]string{"text": "hi", "ssid": "Net"}))
	_, err := w.Generate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"hi"}, enc.payloads)
	assert.Equal(t, "Net", w.Form().Fields["ssid"])
}

func TestFieldMessage(t *testing.T) {
	w, _, _ := newTestWorkflow(t, &stubEncoder{})
	require.NoError(t, w.SelectKind(models.KindVCard))
	assert.Equal(t, "Phone is required.", w.FieldMessage("phone"))
	require.NoError(t, w.SetField("phone", "123"))
	assert.Equal(t, "", w.FieldMessage("phone"))
}

func TestSubmit(t *testing.T) {
	enc := &stubEncoder{}
	w, _, _ := newTestWorkflow(t, enc)

	d, err := w.Submit(context.Background(), models.KindWiFi, models.Fields{"ssid": "Net"})
	require.NoError(t, err)
	assert.Equal(t, "Net (Open)", d.Label)
	assert.Equal(t, []string{"WIFI:T:WPA;S:Net;P:;;"}, enc.payloads)
	assert.Equal(t, models.KindWiFi, w.Form().Kind)
}

func TestLoadRecord_RestoresImageNotFields(t *testing.T) {
	w, _, _ := newTestWorkflow(t, &stubEncoder{})
	ctx := context.Background()

	first, err := w.Submit(ctx, models.KindURL, models.Fields{"url": "example.com"})
	require.NoError(t, err)
	_, err = w.Submit(ctx, models.KindText, models.Fields{"text": "later"})
	require.NoError(t, err)

	d, err := w.LoadRecord(first.RecordID)
	require.NoError(t, err)
	assert.Equal(t, first.DataURL, d.DataURL)
	assert.Equal(t, "https://example.com", d.Label)
	assert.Equal(t, []byte("png:https://example.com"), d.PNG())

	form := w.Form()
	assert.Equal(t, models.KindURL, form.Kind)
	assert.Empty(t, form.Fields)

	_, err = w.LoadRecord("missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestClearHistory(t *testing.T) {
	w, mem, n := newTestWorkflow(t, &stubEncoder{})
	_, err := w.Submit(context.Background(), models.KindText, models.Fields{"text": "x"})
	require.NoError(t, err)

	require.NoError(t, w.ClearHistory())
	assert.Empty(t, w.History())
	_, err = mem.Get(history.DefaultKey)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Contains(t, n.names(), "history.cleared")
}

func TestImportHistory(t *testing.T) {
	w, _, n := newTestWorkflow(t, &stubEncoder{})
	_, err := w.Submit(context.Background(), models.KindText, models.Fields{"text": "keep"})
	require.NoError(t, err)

	err = w.ImportHistory([]byte(`{"id":"x"}`))
	assert.ErrorIs(t, err, apperr.ErrInvalidImport)
	require.Len(t, w.History(), 1)
	assert.Equal(t, "keep", w.History()[0].Content)

	data, _ := json.Marshal([]models.Record{testutil.Record(1), testutil.Record(2)})
	require.NoError(t, w.ImportHistory(data))
	assert.Len(t, w.History(), 2)
	assert.Contains(t, n.names(), "history.imported")

	exported, err := w.ExportHistory()
	require.NoError(t, err)
	var back []models.Record
	require.NoError(t, json.Unmarshal(exported, &back))
	assert.Equal(t, w.History(), back)
}

func TestInit_CorruptHistoryNotice(t *testing.T) {
	mem := testutil.NewMemStore()
	require.NoError(t, mem.Put(history.DefaultKey, []byte("{broken")))

	w := New(history.New(mem, ""), &stubEncoder{}, mem)
	w.Init()

	assert.Empty(t, w.History())
	notices := w.Notices()
	require.Len(t, notices, 1)
	assert.Contains(t, notices[0], "reset")
	assert.Empty(t, w.Notices(), "notices are reported once")

	_, err := w.Submit(context.Background(), models.KindText, models.Fields{"text": "ok"})
	require.NoError(t, err)
	assert.Len(t, w.History(), 1)
}

func TestGenerate_PersistFailureIsNotice(t *testing.T) {
	w, mem, _ := newTestWorkflow(t, &stubEncoder{})
	mem.Fail = true

	d, err := w.Submit(context.Background(), models.KindText, models.Fields{"text": "x"})
	require.NoError(t, err)
	assert.NotEmpty(t, d.DataURL)
	assert.Len(t, w.History(), 1)
	assert.Len(t, w.Notices(), 1)
}

func TestTheme(t *testing.T) {
	w, mem, _ := newTestWorkflow(t, &stubEncoder{})
	assert.Equal(t, ThemeLight, w.Theme())

	require.NoError(t, w.SetTheme(ThemeDark))
	assert.Equal(t, ThemeDark, w.Theme())
	assert.Error(t, w.SetTheme("sepia"))

	reopened := New(history.New(mem, ""), &stubEncoder{}, mem)
	reopened.Init()
	assert.Equal(t, ThemeDark, reopened.Theme())
}

func TestGenerate_ErrorsAreDistinct(t *testing.T) {
	w, _, _ := newTestWorkflow(t, &stubEncoder{err: errors.New("boom")})
	_, err := w.Submit(context.Background(), models.KindText, models.Fields{"text": "x"})
	require.Error(t, err)
	var formErr *FormError
	assert.False(t, errors.As(err, &formErr))
	assert.NotErrorIs(t, err, apperr.ErrBusy)
}
