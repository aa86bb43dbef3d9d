// Package workflow coordinates form state, validation, payload assembly,
// encoding and history for a single user session.
//
// A generation attempt moves Idle → Validating → Encoding → Committing → Idle.
// Only one attempt runs at a time; a trigger that arrives while another is in
// flight is rejected with apperr.ErrBusy.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/starford/qrhub/internal/apperr"
	"github.com/starford/qrhub/internal/content"
	"github.com/starford/qrhub/internal/encoder"
	"github.com/starford/qrhub/internal/history"
	"github.com/starford/qrhub/internal/models"
	"github.com/starford/qrhub/internal/storage"
	"github.com/starford/qrhub/internal/validate"
)

// Encoder renders a payload into an image.
type Encoder interface {
	Encode(ctx context.Context, payload string) (*encoder.Image, error)
}

// Notifier receives workflow events such as "history.appended" or
// "display.changed".
type Notifier interface {
	Notify(name string, data any)
}

// Input errors. Both wrap apperr.ErrInvalidInput.
var (
	ErrUnknownKind  = fmt.Errorf("%w: unknown qr kind", apperr.ErrInvalidInput)
	ErrUnknownField = fmt.Errorf("%w: unknown form field", apperr.ErrInvalidInput)
)

// FormError reports per-field validation failures.
type FormError struct {
	Fields map[string]string
}

func (e *FormError) Error() string {
	return fmt.Sprintf("form is not ready: %d field(s) invalid", len(e.Fields))
}

// Display is the image currently shown to the user.
type Display struct {
	Kind      models.Kind `json:"kind"`
	Label     string      `json:"label"`
	DataURL   string      `json:"qrDataUrl"`
	Timestamp int64       `json:"timestamp"`
	RecordID  string      `json:"recordId,omitempty"`

	png []byte
}

// PNG returns the raw image bytes.
func (d *Display) PNG() []byte { return d.png }

// Filename returns the download name, qr-<kind>-<millis>.png.
func (d *Display) Filename() string {
	return encoder.Filename(d.Kind.String(), d.Timestamp)
}

// Form is a snapshot of the form state.
type Form struct {
	Kind   models.Kind       `json:"kind"`
	Fields models.Fields     `json:"fields"`
	Ready  bool              `json:"ready"`
	Errors map[string]string `json:"errors,omitempty"`
}

// Workflow is the orchestrator. It is safe for concurrent use.
type Workflow struct {
	mu      sync.Mutex
	kind    models.Kind
	fields  models.Fields
	display *Display
	epoch   uint64 // bumped whenever the form is replaced
	theme   string
	notices []string

	inflight *semaphore.Weighted
	enc      Encoder
	history  *history.Store
	prefs    storage.Provider
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Workflow.
type Option func(*Workflow)

// WithNotifier sets the event sink.
func WithNotifier(n Notifier) Option {
	return func(w *Workflow) { w.notifier = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Workflow) { w.logger = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(w *Workflow) { w.now = now }
}

// New creates a Workflow with an empty text form. prefs stores small
// settings such as the theme; it is usually the same provider that backs
// the history store.
func New(store *history.Store, enc Encoder, prefs storage.Provider, opts ...Option) *Workflow {
	w := &Workflow{
		kind:     models.KindText,
		fields:   models.Fields{},
		theme:    ThemeLight,
		inflight: semaphore.NewWeighted(1),
		enc:      enc,
		history:  store,
		prefs:    prefs,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Init loads persisted state. Unreadable history is reported once through
// Notices and the session starts with an empty list; it never fails the
// workflow.
func (w *Workflow) Init() {
	if err := w.history.Load(); err != nil {
		w.logger.Warn("history load failed", slog.String("error", err.Error()))
		msg := "Saved history could not be read and was reset."
		if !errors.Is(err, apperr.ErrCorrupt) {
			msg = "Saved history could not be loaded."
		}
		w.addNotice(msg)
	} else {
		w.logger.Info("history loaded", slog.Int("records", w.history.Len()))
	}
	w.loadTheme()
}

// SelectKind switches the active kind. Fields and the displayed image are
// cleared; history is not touched.
func (w *Workflow) SelectKind(k models.Kind) error {
	if !k.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownKind, k)
	}
	w.mu.Lock()
	w.kind = k
	w.fields = models.Fields{}
	w.display = nil
	w.epoch++
	w.mu.Unlock()

	w.notify("display.changed", nil)
	return nil
}

// SetField stores a single field value.
func (w *Workflow) SetField(name, value string) error {
	if !models.KnownField(name) {
		return fmt.Errorf("%w: %s", ErrUnknownField, name)
	}
	w.mu.Lock()
	w.fields[name] = value
	w.mu.Unlock()
	return nil
}

// SetFields stores several values at once. Nothing is applied if any name is
// unknown.
func (w *Workflow) SetFields(values map[string]string) error {
	for name := range values {
		if !models.KnownField(name) {
			return fmt.Errorf("%w: %s", ErrUnknownField, name)
		}
	}
	w.mu.Lock()
	for name, v := range values {
		w.fields[name] = v
	}
	w.mu.Unlock()
	return nil
}

// FieldMessage returns the inline message for field given the current form.
func (w *Workflow) FieldMessage(field string) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return validate.FieldMessage(w.kind, field, w.fields)
}

// Form returns a snapshot of the form state.
func (w *Workflow) Form() Form {
	w.mu.Lock()
	kind, fields := w.kind, w.fields.Clone()
	w.mu.Unlock()

	err := validate.Check(kind, fields)
	return Form{
		Kind:   kind,
		Fields: fields,
		Ready:  err == nil,
		Errors: validate.Messages(err),
	}
}

// Display returns the currently shown image, if any.
func (w *Workflow) Display() (*Display, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.display == nil {
		return nil, false
	}
	d := *w.display
	return &d, true
}

// Generate runs one generation attempt with the current form.
func (w *Workflow) Generate(ctx context.Context) (*Display, error) {
	if !w.inflight.TryAcquire(1) {
		return nil, apperr.ErrBusy
	}
	defer w.inflight.Release(1)

	return w.generate(ctx)
}

// GenerateWithFields merges values into the current form, then generates.
// When another attempt is in flight the form is left as it was.
func (w *Workflow) GenerateWithFields(ctx context.Context, values map[string]string) (*Display, error) {
	for name := range values {
		if !models.KnownField(name) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownField, name)
		}
	}
	if !w.inflight.TryAcquire(1) {
		return nil, apperr.ErrBusy
	}
	defer w.inflight.Release(1)

	w.mu.Lock()
	for name, v := range values {
		w.fields[name] = v
	}
	w.mu.Unlock()

	return w.generate(ctx)
}

// Submit replaces the form with kind and fields, then generates. When
// another attempt is in flight the form is left as it was.
func (w *Workflow) Submit(ctx context.Context, kind models.Kind, fields models.Fields) (*Display, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	for name := range fields {
		if !models.KnownField(name) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownField, name)
		}
	}
	if !w.inflight.TryAcquire(1) {
		return nil, apperr.ErrBusy
	}
	defer w.inflight.Release(1)

	w.mu.Lock()
	if w.kind != kind {
		w.display = nil
		w.epoch++
	}
	w.kind = kind
	w.fields = fields.Clone()
	w.mu.Unlock()

	return w.generate(ctx)
}

// generate must be called with the in-flight slot held. If the form is
// replaced while encoding, the record still goes to history but the display
// is left to the newer form.
func (w *Workflow) generate(ctx context.Context) (*Display, error) {
	w.mu.Lock()
	kind, fields, epoch := w.kind, w.fields.Clone(), w.epoch
	w.mu.Unlock()

	// Validating.
	if err := validate.Check(kind, fields); err != nil {
		return nil, &FormError{Fields: validate.Messages(err)}
	}

	// Encoding.
	payload := content.Payload(kind, fields)
	img, err := w.enc.Encode(ctx, payload)
	if err != nil {
		w.logger.Warn("qr encode failed",
			slog.String("kind", kind.String()),
			slog.Int("payload_len", len(payload)),
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("workflow: encode: %w", err)
	}

	// Committing.
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("workflow: record id: %w", err)
	}
	rec := models.Record{
		ID:        id.String(),
		Kind:      kind,
		Content:   content.Label(kind, fields),
		Timestamp: w.now().UnixMilli(),
		QRDataURL: img.DataURL,
	}
	d := &Display{
		Kind:      kind,
		Label:     rec.Content,
		DataURL:   img.DataURL,
		Timestamp: rec.Timestamp,
		RecordID:  rec.ID,
		png:       img.PNG,
	}

	w.mu.Lock()
	current := w.epoch == epoch
	if current {
		w.display = d
	}
	w.mu.Unlock()

	if err := w.history.Append(rec); err != nil {
		w.logger.Error("history persist failed", slog.String("id", rec.ID), slog.String("error", err.Error()))
		w.addNotice("History could not be saved to disk.")
	}

	w.logger.Info("qr generated", slog.String("id", rec.ID), slog.String("kind", kind.String()),
		slog.Bool("displayed", current))
	if current {
		w.notify("display.changed", d)
	}
	w.notify("history.appended", recordSummary(rec))

	out := *d
	return &out, nil
}

// LoadRecord shows a past record again. The active kind follows the record
// but the form fields stay empty: the stored label cannot be turned back
// into the original fields.
func (w *Workflow) LoadRecord(id string) (*Display, error) {
	rec, ok := w.history.Get(id)
	if !ok {
		return nil, apperr.ErrNotFound
	}
	png, err := encoder.DecodeDataURL(rec.QRDataURL)
	if err != nil {
		w.logger.Debug("history record has no decodable png", slog.String("id", id))
	}
	d := &Display{
		Kind:      rec.Kind,
		Label:     rec.Content,
		DataURL:   rec.QRDataURL,
		Timestamp: rec.Timestamp,
		RecordID:  rec.ID,
		png:       png,
	}

	w.mu.Lock()
	w.kind = rec.Kind
	w.fields = models.Fields{}
	w.display = d
	w.epoch++
	w.mu.Unlock()

	w.notify("display.changed", d)
	out := *d
	return &out, nil
}

// History returns the records, newest first.
func (w *Workflow) History() []models.Record {
	return w.history.List()
}

// ClearHistory removes every record.
func (w *Workflow) ClearHistory() error {
	if err := w.history.Clear(); err != nil {
		return err
	}
	w.notify("history.cleared", map[string]int{"count": 0})
	return nil
}

// ExportHistory returns the pretty-printed JSON dump of the history.
func (w *Workflow) ExportHistory() ([]byte, error) {
	return w.history.Export()
}

// ImportHistory replaces the history with data. Malformed input leaves the
// history unchanged and returns an error wrapping apperr.ErrInvalidImport.
func (w *Workflow) ImportHistory(data []byte) error {
	if err := w.history.Import(data); err != nil {
		if errors.Is(err, apperr.ErrInvalidImport) {
			return err
		}
		w.logger.Error("history persist failed after import", slog.String("error", err.Error()))
		w.addNotice("History could not be saved to disk.")
	}
	w.notify("history.imported", map[string]int{"count": w.history.Len()})
	return nil
}

// Notices returns and clears pending user-visible notices.
func (w *Workflow) Notices() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := w.notices
	w.notices = nil
	if out == nil {
		out = []string{}
	}
	return out
}

func (w *Workflow) addNotice(msg string) {
	w.mu.Lock()
	w.notices = append(w.notices, msg)
	w.mu.Unlock()
}

func (w *Workflow) notify(name string, data any) {
	if w.notifier != nil {
		w.notifier.Notify(name, data)
	}
}

func recordSummary(r models.Record) map[string]any {
	return map[string]any{
		"id":        r.ID,
		"kind":      r.Kind,
		"content":   r.Content,
		"timestamp": r.Timestamp,
	}
}
