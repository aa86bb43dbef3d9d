package workflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/qrhub/internal/apperr"
)

// Themes.
const (
	ThemeLight = "light"
	ThemeDark  = "dark"
)

const themeKey = "theme"

// Theme returns the current colour theme.
func (w *Workflow) Theme() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.theme
}

// SetTheme switches and persists the colour theme.
func (w *Workflow) SetTheme(theme string) error {
	if err := validation.Validate(theme, validation.Required, validation.In(ThemeLight, ThemeDark)); err != nil {
		return fmt.Errorf("%w: theme: %v", apperr.ErrInvalidInput, err)
	}
	w.mu.Lock()
	w.theme = theme
	w.mu.Unlock()

	data, _ := json.Marshal(theme)
	if err := w.prefs.Put(themeKey, data); err != nil {
		return fmt.Errorf("workflow: save theme: %w", err)
	}
	w.notify("theme.changed", map[string]string{"theme": theme})
	return nil
}

func (w *Workflow) loadTheme() {
	data, err := w.prefs.Get(themeKey)
	if err != nil {
		if !errors.Is(err, apperr.ErrNotFound) {
			w.logger.Warn("theme load failed", slog.String("error", err.Error()))
		}
		return
	}
	var theme string
	if err := json.Unmarshal(data, &theme); err != nil || (theme != ThemeLight && theme != ThemeDark) {
		w.logger.Warn("ignoring stored theme", slog.String("value", string(data)))
		return
	}
	w.mu.Lock()
	w.theme = theme
	w.mu.Unlock()
}
