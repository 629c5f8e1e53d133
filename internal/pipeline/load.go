package pipeline

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/pharmacy-density/internal/census"
	"github.com/sells-group/pharmacy-density/internal/fetcher"
	"github.com/sells-group/pharmacy-density/internal/registry"
	"github.com/sells-group/pharmacy-density/internal/shapefile"
)

// Inputs are the three loaded datasets.
type Inputs struct {
	Businesses *registry.Result
	Layer      *shapefile.Layer
	Census     *census.Result
}

// Load resolves and reads the business registry, section shapefile and
// census table concurrently. The first failure cancels the others.
func (p *Pipeline) Load(ctx context.Context) (*Inputs, error) {
	cfg := p.cfg
	delim := delimiter(cfg.Inputs.Delimiter)
	in := &Inputs{}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		path, err := fetcher.Resolve(gCtx, p.fetcher, fetcher.Source{Location: cfg.Inputs.Businesses, Ext: ".csv", Hint: "denue"}, cfg.Fetch.TempDir)
		if err != nil {
			return eris.Wrap(err, "pipeline: resolve businesses")
		}
		bc := cfg.Columns.Business
		res, err := registry.LoadFile(gCtx, path, registry.Columns{
			ID:           bc.ID,
			Name:         bc.Name,
			Activity:     bc.Activity,
			Longitude:    bc.Longitude,
			Latitude:     bc.Latitude,
			State:        bc.State,
			Municipality: bc.Municipality,
		}, registry.Options{
			Encoding:  cfg.Inputs.Encoding,
			Delimiter: delim,
			Strict:    cfg.Filter.StrictCoordinate,
		})
		if err != nil {
			return err
		}
		in.Businesses = res
		return nil
	})

	g.Go(func() error {
		path, err := fetcher.Resolve(gCtx, p.fetcher, fetcher.Source{Location: cfg.Inputs.Sections, Ext: ".shp", Hint: "seccion"}, cfg.Fetch.TempDir)
		if err != nil {
			return eris.Wrap(err, "pipeline: resolve sections")
		}
		sc := cfg.Columns.Section
		layer, err := shapefile.ReadSections(path, shapefile.Fields{
			State:        sc.State,
			Municipality: sc.Municipality,
			Section:      sc.Section,
		}, shapefile.Options{StrictRings: cfg.Geometry.StrictRings})
		if err != nil {
			return err
		}
		in.Layer = layer
		return nil
	})

	g.Go(func() error {
		path, err := fetcher.Resolve(gCtx, p.fetcher, fetcher.Source{Location: cfg.Inputs.Census, Ext: censusExt(cfg.Inputs.Census), Hint: "eceg"}, cfg.Fetch.TempDir)
		if err != nil {
			return eris.Wrap(err, "pipeline: resolve census")
		}
		cc := cfg.Columns.Census
		res, err := census.Load(gCtx, path, census.Columns{
			State:        cc.State,
			Municipality: cc.Municipality,
			Section:      cc.Section,
			Fields:       cc.Fields,
		}, census.Options{
			Encoding:  cfg.Inputs.Encoding,
			Delimiter: delim,
			Sheet:     cc.Sheet,
		})
		if err != nil {
			return err
		}
		in.Census = res
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return in, nil
}

func delimiter(s string) rune {
	if r := []rune(s); len(r) > 0 {
		return r[0]
	}
	return ','
}

// censusExt picks the member to extract when the census input is a bundle.
func censusExt(loc string) string {
	if strings.Contains(strings.ToLower(loc), "xlsx") {
		return ".xlsx"
	}
	return ".csv"
}
