package app

import (
	"context"
	"strings"

	"bookchat/pkg/ai"
)

// BuildContext assembles the model prompt for a session: the persona as a
// single leading system entry, then the ledger in ledger order. System
// messages stored in the ledger stay in place as ordinary history.
// With HistoryLimit 0 the whole ledger is included.
func (a *App) BuildContext(ctx context.Context, sessionID, persona string) ([]ai.Message, error) {
	if strings.TrimSpace(persona) == "" {
		persona = fallbackPersona
	}
	history, err := a.store.ListMessages(ctx, sessionID, a.historyLimit)
	if err != nil {
		return nil, storageError("load history", err)
	}
	out := make([]ai.Message, 0, len(history)+1)
	out = append(out, ai.Message{Role: ai.RoleSystem, Content: persona})
	for _, m := range history {
		out = append(out, ai.Message{Role: string(m.Role), Content: m.Content})
	}
	return out, nil
}
