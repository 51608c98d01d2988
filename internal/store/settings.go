package store

import (
	"context"
	"log/slog"
)

// RichOutputSetting reads render.rich_output from the store on every call so
// edits made while a batch runs apply to the next cell.
type RichOutputSetting struct {
	Store    *SQLiteStore
	Fallback bool
}

func (r RichOutputSetting) RenderRichOutput(ctx context.Context) bool {
	v, err := r.Store.GetBool(ctx, SettingRichOutput, r.Fallback)
	if err != nil {
		slog.Warn("read setting failed", "key", SettingRichOutput, "error", err)
		return r.Fallback
	}
	return v
}
