// Package storage persists pipeline runs as a directory per run:
// metadata.json, cl.csv and pk.csv.
package storage

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/san-kum/cosmic/internal/config"
	"github.com/san-kum/cosmic/internal/cosmo"
	"github.com/san-kum/cosmic/internal/fault"
	"github.com/san-kum/cosmic/internal/pipeline"
)

const (
	metadataFile = "metadata.json"
	clFile       = "cl.csv"
	pkFile       = "pk.csv"
)

// Series names accepted by LoadSeries.
const (
	SeriesTT     = "tt"
	SeriesLensed = "lensed"
	SeriesPhiPhi = "phiphi"
	SeriesPk     = "pk"
	SeriesPkLin  = "pk_lin"
)

var seriesColumns = map[string]struct {
	file   string
	column int
}{
	SeriesTT:     {clFile, 1},
	SeriesLensed: {clFile, 2},
	SeriesPhiPhi: {clFile, 3},
	SeriesPkLin:  {pkFile, 1},
	SeriesPk:     {pkFile, 2},
}

type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

type RunMetadata struct {
	ID        string             `json:"id"`
	Timestamp time.Time          `json:"timestamp"`
	Digest    string             `json:"digest"`
	Evolver   string             `json:"evolver"`
	Lensing   bool               `json:"lensing"`
	Config    config.Config      `json:"config"`
	Derived   map[string]float64 `json:"derived"`
}

// Output is everything a run writes to disk.
type Output struct {
	Meta   RunMetadata   `json:"metadata"`
	TT     []cosmo.Point `json:"tt"`
	Lensed []cosmo.Point `json:"lensed"`
	PhiPhi []cosmo.Point `json:"phiphi"`
	PkLin  []cosmo.Point `json:"pk_lin"`
	Pk     []cosmo.Point `json:"pk"`
}

// FromGraph collects the output of a complete graph.
func FromGraph(g *pipeline.Graph) (*Output, error) {
	if !g.Complete() {
		return nil, fault.Invariant("graph stopped after %s", g.LastStage())
	}
	bg, th, nl := g.Background(), g.Thermodynamics(), g.Nonlinear()
	sp, ln := g.Spectra(), g.Lensing()
	cfg := g.Config()
	return &Output{
		Meta: RunMetadata{
			Digest:  cfg.Digest(),
			Evolver: g.Perturbations().Evolver(),
			Lensing: ln.Enabled(),
			Config:  cfg.Config(),
			Derived: map[string]float64{
				"age":            bg.Age(),
				"tau0":           bg.Tau0(),
				"z_rec":          th.ZRec(),
				"rs_rec":         th.RsRec(),
				"tau_reio":       th.TauReio(),
				"sigma8":         nl.Sigma8(),
				"k_nl":           nl.KNonlinear(),
				"A_s":            g.Primordial().As(),
				"deflection_rms": ln.DeflectionRMS(),
			},
		},
		TT:     sp.TT(),
		Lensed: ln.LensedTT(),
		PhiPhi: ln.PhiPhi(),
		PkLin:  nl.LinearSpectrum(),
		Pk:     nl.Spectrum(),
	}, nil
}

// Save writes out under a fresh run directory and returns the run ID.
func (s *Store) Save(out *Output) (string, error) {
	now := time.Now().UTC()
	runID := fmt.Sprintf("%s_%d", out.Meta.Digest, now.UnixMilli())
	runDir := filepath.Join(s.baseDir, runID)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", fault.Resource("create run directory: %w", err)
	}

	meta := out.Meta
	meta.ID = runID
	meta.Timestamp = now
	if err := writeJSON(filepath.Join(runDir, metadataFile), meta); err != nil {
		return "", err
	}

	if len(out.TT) != len(out.Lensed) || len(out.TT) != len(out.PhiPhi) {
		return "", fault.Invariant("angular series differ in length: %d, %d, %d", len(out.TT), len(out.Lensed), len(out.PhiPhi))
	}
	if err := writeColumns(filepath.Join(runDir, clFile), []string{"l", "D_TT", "D_lensed", "D_phiphi"},
		out.TT, out.Lensed, out.PhiPhi); err != nil {
		return "", err
	}

	if len(out.Pk) != len(out.PkLin) {
		return "", fault.Invariant("power series differ in length: %d, %d", len(out.PkLin), len(out.Pk))
	}
	if err := writeColumns(filepath.Join(runDir, pkFile), []string{"k", "P_lin", "P"},
		out.PkLin, out.Pk); err != nil {
		return "", err
	}
	return runID, nil
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return fault.Resource("create %s: %w", filepath.Base(path), err)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fault.Resource("write %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}

// writeColumns writes the shared X of the first series followed by the Y of
// every series.
func writeColumns(path string, header []string, series ...[]cosmo.Point) error {
	f, err := os.Create(path)
	if err != nil {
		return fault.Resource("create %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return fault.Resource("write %s: %w", filepath.Base(path), err)
	}
	row := make([]string, len(series)+1)
	for i, p := range series[0] {
		row[0] = strconv.FormatFloat(p.X, 'g', -1, 64)
		for j, s := range series {
			row[j+1] = strconv.FormatFloat(s[i].Y, 'g', -1, 64)
		}
		if err := w.Write(row); err != nil {
			return fault.Resource("write %s: %w", filepath.Base(path), err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fault.Resource("write %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}

// List returns the metadata of every run, oldest first. Directories without
// readable metadata are skipped.
func (s *Store) List() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunMetadata{}, nil
		}
		return nil, fault.Resource("list runs: %w", err)
	}

	runs := make([]RunMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := s.Load(entry.Name())
		if err != nil {
			continue
		}
		runs = append(runs, *meta)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].Timestamp.Before(runs[j].Timestamp) })
	return runs, nil
}

// Latest returns the ID of the most recent run.
func (s *Store) Latest() (string, error) {
	runs, err := s.List()
	if err != nil {
		return "", err
	}
	if len(runs) == 0 {
		return "", fault.Resource("no runs in %s", s.baseDir)
	}
	return runs[len(runs)-1].ID, nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, runID, metadataFile))
	if err != nil {
		return nil, fault.Resource("load run %s: %w", runID, err)
	}
	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fault.Resource("decode run %s: %w", runID, err)
	}
	return &meta, nil
}

// LoadSeries reads one named column of a run as (x, y) points.
func (s *Store) LoadSeries(runID, name string) ([]cosmo.Point, error) {
	col, ok := seriesColumns[name]
	if !ok {
		return nil, fault.Configuration("unknown series %q", name)
	}
	f, err := os.Open(filepath.Join(s.baseDir, runID, col.file))
	if err != nil {
		return nil, fault.Resource("load run %s: %w", runID, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	if _, err := r.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return []cosmo.Point{}, nil
		}
		return nil, fault.Resource("read %s: %w", col.file, err)
	}
	out := make([]cosmo.Point, 0)
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fault.Resource("read %s: %w", col.file, err)
		}
		x, err := strconv.ParseFloat(record[0], 64)
		if err != nil {
			return nil, fault.Resource("read %s: %w", col.file, err)
		}
		y, err := strconv.ParseFloat(record[col.column], 64)
		if err != nil {
			return nil, fault.Resource("read %s: %w", col.file, err)
		}
		out = append(out, cosmo.Point{X: x, Y: y})
	}
	return out, nil
}

// LoadOutput reassembles everything Save wrote for runID.
func (s *Store) LoadOutput(runID string) (*Output, error) {
	meta, err := s.Load(runID)
	if err != nil {
		return nil, err
	}
	out := &Output{Meta: *meta}
	for name, dst := range map[string]*[]cosmo.Point{
		SeriesTT:     &out.TT,
		SeriesLensed: &out.Lensed,
		SeriesPhiPhi: &out.PhiPhi,
		SeriesPkLin:  &out.PkLin,
		SeriesPk:     &out.Pk,
	} {
		if *dst, err = s.LoadSeries(runID, name); err != nil {
			return nil, err
		}
	}
	return out, nil
}
