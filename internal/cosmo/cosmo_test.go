package cosmo

import (
	"context"
	"sync"
	"testing"

	"github.com/san-kum/cosmic/internal/config"
	"github.com/san-kum/cosmic/internal/pool"
	"github.com/san-kum/cosmic/internal/telemetry"
)

// chain is one complete build on a coarse grid, shared by the tests of this
// package.
type chain struct {
	cfg *config.Snapshot
	bg  *Background
	th  *Thermodynamics
	pt  *Perturbations
	pm  *Primordial
	nl  *Nonlinear
	tr  *Transfer
	sp  *Spectra
	ln  *Lensing
}

func coarseConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.KMin = 1e-4
	cfg.KMax = 0.05
	cfg.KSize = 8
	cfg.TauSize = 100
	cfg.PhotonLMax = 6
	cfg.RTol = 1e-4
	cfg.ATol = 1e-8
	cfg.LMax = 120
	cfg.LLinStep = 20
	cfg.QSize = 60
	return cfg
}

func freeze(t testing.TB, cfg *config.Config) *config.Snapshot {
	t.Helper()
	snap, err := cfg.Freeze()
	if err != nil {
		t.Fatalf("Freeze: %v", err)
	}
	return snap
}

func testPool(workers int) *pool.Pool {
	return pool.New(workers, pool.WithMetrics(telemetry.New()))
}

func build(ctx context.Context, snap *config.Snapshot, p *pool.Pool) (*chain, error) {
	c := &chain{cfg: snap}
	var err error
	if c.bg, err = NewBackground(ctx, snap); err != nil {
		return nil, err
	}
	if c.th, err = NewThermodynamics(ctx, snap, c.bg); err != nil {
		return nil, err
	}
	if c.pt, err = NewPerturbations(ctx, snap, c.bg, c.th, p); err != nil {
		return nil, err
	}
	if c.pm, err = NewPrimordial(ctx, snap, c.pt); err != nil {
		return nil, err
	}
	if c.nl, err = NewNonlinear(ctx, snap, c.bg, c.pt, c.pm); err != nil {
		return nil, err
	}
	if c.tr, err = NewTransfer(ctx, snap, c.bg, c.th, c.pt, p); err != nil {
		return nil, err
	}
	if c.sp, err = NewSpectra(ctx, snap, c.pt, c.pm, c.nl, c.tr); err != nil {
		return nil, err
	}
	if c.ln, err = NewLensing(ctx, snap, c.sp); err != nil {
		return nil, err
	}
	return c, nil
}

var (
	fixtureOnce sync.Once
	fixture     *chain
	fixtureErr  error
)

func coarse(t *testing.T) *chain {
	t.Helper()
	fixtureOnce.Do(func() {
		snap, err := coarseConfig().Freeze()
		if err != nil {
			fixtureErr = err
			return
		}
		fixture, fixtureErr = build(context.Background(), snap, testPool(2))
	})
	if fixtureErr != nil {
		t.Fatalf("building coarse chain: %v", fixtureErr)
	}
	return fixture
}
