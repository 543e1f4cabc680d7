package main

import (
	"context"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/jhchabran/agora"
	"github.com/jhchabran/agora/memstore"
	"github.com/rs/zerolog"
)

func TestBreakLorem(t *testing.T) {
	c := qt.New(t)

	strs := breakLorem()
	c.Assert(len(strs), qt.Equals, 8)
	for _, s := range strs {
		c.Assert(s, qt.Not(qt.Equals), "")
		c.Assert(len(s) < 70, qt.IsTrue, qt.Commentf("%q is too long for a title", s))
	}
}

func TestSeed(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()

	engine := agora.NewEngine(&agora.EngineConfig{}, memstore.New(), nil, zerolog.Nop())
	defer engine.Close()

	c.Assert(seed(ctx, engine), qt.IsNil)

	drifts, err := engine.Verify(ctx)
	c.Assert(err, qt.IsNil)
	c.Assert(drifts, qt.HasLen, 0)
}
