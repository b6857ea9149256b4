package tokenstore

import (
	"context"

	"github.com/maypok86/otter/v2"
)

// Memory is a process local token store backed by otter. Tokens do not
// survive a restart.
type Memory struct {
	cache *otter.Cache[Kind, string]
}

func NewMemory() *Memory {
	return &Memory{
		cache: otter.Must(&otter.Options[Kind, string]{
			MaximumSize: 4 * len(Kinds),
		}),
	}
}

func (m *Memory) Token(_ context.Context, kind Kind) (string, error) {
	entry, ok := m.cache.GetEntry(kind)
	if !ok {
		return "", nil
	}
	return entry.Value, nil
}

func (m *Memory) SetToken(_ context.Context, kind Kind, value string) error {
	if value == "" {
		m.cache.Invalidate(kind)
		return nil
	}
	m.cache.Set(kind, value)
	return nil
}

func (m *Memory) SetTokens(ctx context.Context, tokens Pair) error {
	_ = m.SetToken(ctx, Access, tokens.Access)
	_ = m.SetToken(ctx, Refresh, tokens.Refresh)
	return nil
}

func (m *Memory) RemoveTokens(_ context.Context) error {
	for _, kind := range Kinds {
		m.cache.Invalidate(kind)
	}
	return nil
}

func (m *Memory) Close() error {
	return m.RemoveTokens(context.Background())
}
