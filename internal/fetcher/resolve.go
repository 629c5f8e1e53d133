package fetcher

import (
	"context"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pharmacy-density/internal/model"
)

// Source describes one configured input.
type Source struct {
	// Location is a local path or an http(s) URL.
	Location string
	// Ext is the file extension wanted inside a ZIP bundle, e.g. ".shp".
	Ext string
	// Hint narrows the choice when a bundle holds several files with Ext.
	Hint string
}

// IsRemote reports whether loc is an http(s) URL.
func IsRemote(loc string) bool {
	u, err := url.Parse(loc)
	if err != nil {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

// Resolve turns a source into a local file path, downloading remote inputs
// into tempDir and extracting ZIP bundles. A missing local file yields an
// error wrapping model.ErrFileNotFound.
func Resolve(ctx context.Context, f Fetcher, src Source, tempDir string) (string, error) {
	log := zap.L().With(zap.String("component", "fetcher.resolve"), zap.String("source", src.Location))

	local := src.Location
	if IsRemote(src.Location) {
		if f == nil {
			return "", eris.Errorf("fetcher: no downloader configured for %s", src.Location)
		}
		if err := os.MkdirAll(tempDir, 0o755); err != nil {
			return "", eris.Wrap(err, "fetcher: create temp dir")
		}
		u, _ := url.Parse(src.Location)
		name := path.Base(u.Path)
		if name == "" || name == "/" || name == "." {
			name = "download"
		}
		local = filepath.Join(tempDir, name)
		log.Info("downloading input", zap.String("dest", local))
		n, err := f.DownloadToFile(ctx, src.Location, local)
		if err != nil {
			return "", eris.Wrapf(err, "fetcher: download %s", src.Location)
		}
		log.Debug("downloaded input", zap.Int64("bytes", n))
		if strings.EqualFold(filepath.Ext(name), ".shp") {
			if err := downloadSidecars(ctx, f, u, local); err != nil {
				return "", err
			}
		}
	}

	info, err := os.Stat(local)
	if err != nil {
		if os.IsNotExist(err) {
			return "", eris.Wrapf(model.ErrFileNotFound, "fetcher: %s", local)
		}
		return "", eris.Wrapf(err, "fetcher: stat %s", local)
	}
	if info.IsDir() {
		return "", eris.Errorf("fetcher: %s is a directory", local)
	}

	if !strings.EqualFold(filepath.Ext(local), ".zip") || src.Ext == "" || strings.EqualFold(src.Ext, ".zip") {
		return local, nil
	}

	extractDir := filepath.Join(tempDir, strings.TrimSuffix(filepath.Base(local), filepath.Ext(local)))
	if err := os.MkdirAll(extractDir, 0o755); err != nil {
		return "", eris.Wrap(err, "fetcher: create extract dir")
	}
	files, err := ExtractZIP(local, extractDir)
	if err != nil {
		return "", eris.Wrapf(err, "fetcher: extract %s", local)
	}
	found, err := FindByExt(files, src.Ext, src.Hint)
	if err != nil {
		return "", eris.Wrapf(err, "fetcher: %s", local)
	}
	log.Info("extracted input from bundle", zap.String("file", found), zap.Int("entries", len(files)))
	return found, nil
}

// Sidecars a bare .shp download needs next to it. Required ones fail the
// resolve; optional ones are skipped when the server lacks them.
var (
	requiredSidecars = []string{".shx", ".dbf"}
	optionalSidecars = []string{".prj", ".cpg"}
)

// downloadSidecars fetches the companion files of a remote shapefile into
// the directory of local, matching the case of the .shp extension.
func downloadSidecars(ctx context.Context, f Fetcher, u *url.URL, local string) error {
	log := zap.L().With(zap.String("component", "fetcher.resolve"))
	shpExt := filepath.Ext(u.Path)
	upper := shpExt == strings.ToUpper(shpExt)

	fetch := func(ext string) error {
		if upper {
			ext = strings.ToUpper(ext)
		}
		side := *u
		side.Path = strings.TrimSuffix(u.Path, shpExt) + ext
		dest := strings.TrimSuffix(local, filepath.Ext(local)) + ext
		_, err := f.DownloadToFile(ctx, side.String(), dest)
		return err
	}

	for _, ext := range requiredSidecars {
		if err := fetch(ext); err != nil {
			return eris.Wrapf(err, "fetcher: shapefile %s needs its %s sidecar; host a .zip bundle instead", u.Redacted(), ext)
		}
	}
	for _, ext := range optionalSidecars {
		if err := fetch(ext); err != nil {
			log.Debug("optional sidecar unavailable", zap.String("ext", ext), zap.Error(err))
		}
	}
	return nil
}
