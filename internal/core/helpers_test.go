package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const (
	rigClass  = "Rig"
	limbClass = "Limb"
)

// testClasses registers a small hierarchy: Rig and Group under MetaData,
// Limb under Rig.
func testClasses() []Class {
	return []Class{
		{Tag: GroupClass},
		{
			Tag:     rigClass,
			Version: 2,
			Locked:  []string{"rigType"},
			Private: []string{"buildLog"},
			Hidden:  []string{"cache"},
			Init: func(ctx context.Context, n *MetaNode) error {
				return n.SetInitialProperty(ctx, "rigType", "biped", RegisterLocked)
			},
		},
		{Tag: limbClass, Base: rigClass},
	}
}

type fixture struct {
	svc  *Service
	logs *observer.ObservedLogs
	ctx  context.Context
}

func newFixture(t *testing.T, opts ...Option) fixture {
	t.Helper()
	obsCore, logs := observer.New(zapcore.DebugLevel)
	reg := NewRegistry()
	require.NoError(t, reg.Register(testClasses()...))
	opts = append([]Option{WithRegistry(reg), WithLogger(zap.New(obsCore))}, opts...)
	svc := NewInMemoryService(nil, opts...)
	t.Cleanup(func() { _ = svc.Close() })
	return fixture{svc: svc, logs: logs, ctx: context.Background()}
}

func (f fixture) create(t *testing.T, class string, opts ...CreateOption) *MetaNode {
	t.Helper()
	n, err := f.svc.Create(f.ctx, class, opts...)
	require.NoError(t, err)
	return n
}

func (f fixture) warnings(msg string) int {
	return f.logs.FilterMessage(msg).FilterLevelExact(zapcore.WarnLevel).Len()
}
