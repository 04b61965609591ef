package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hupe1980/chunkidx"
	"github.com/hupe1980/chunkidx/blobstore"
	miniostore "github.com/hupe1980/chunkidx/blobstore/minio"
	s3store "github.com/hupe1980/chunkidx/blobstore/s3"
	"github.com/hupe1980/chunkidx/catalog"
	"github.com/hupe1980/chunkidx/catalog/dynamo"
	"github.com/hupe1980/chunkidx/locator"
	promcollector "github.com/hupe1980/chunkidx/metrics/prometheus"
)

var errNoRemote = errors.New("no remote store configured (set remote.url, --remote or CHUNKIDX_REMOTE_URL)")

// openRemote builds the store named by a remote URL.
func openRemote(ctx context.Context, raw string) (blobstore.BlobStore, error) {
	if raw == "" {
		return nil, errNoRemote
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("remote url: %w", err)
	}
	switch u.Scheme {
	case "s3":
		q := u.Query()
		opts := []s3store.Option{s3store.WithPrefix(strings.TrimPrefix(u.Path, "/"))}
		if r := q.Get("region"); r != "" {
			opts = append(opts, s3store.WithRegion(r))
		}
		if e := q.Get("endpoint"); e != "" {
			opts = append(opts, s3store.WithEndpoint(e, true))
		}
		s, err := s3store.New(ctx, u.Host, opts...)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "minio":
		s, err := miniostore.NewFromURL(raw)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "file":
		if err := os.MkdirAll(u.Path, 0o755); err != nil {
			return nil, err
		}
		return blobstore.NewLocalStore(u.Path), nil
	default:
		return nil, fmt.Errorf("unsupported remote scheme %q", u.Scheme)
	}
}

// catalogs bundles the configured catalog with the way new chunks are
// registered in it.
type catalogs struct {
	locator.Catalog
	publish func(ctx context.Context, c locator.Candidate, entries ...string) error
}

func (a *app) openCatalog(ctx context.Context, remote blobstore.BlobStore) (*catalogs, error) {
	cfg := a.cfg.Catalog
	switch cfg.Type {
	case "dynamodb":
		c, err := dynamo.New(ctx, cfg.Table)
		if err != nil {
			return nil, err
		}
		return &catalogs{Catalog: c, publish: c.Publish}, nil
	default:
		// A manifest path with a directory lives on disk; a bare name lives
		// next to the chunks in the remote store.
		store, name := remote, cfg.Manifest
		if store == nil || strings.ContainsRune(cfg.Manifest, filepath.Separator) {
			store = blobstore.NewLocalStore(filepath.Dir(cfg.Manifest))
			name = filepath.Base(cfg.Manifest)
		}
		s, err := catalog.LoadStatic(ctx, store, name)
		if err != nil {
			return nil, err
		}
		return &catalogs{
			Catalog: s,
			publish: func(ctx context.Context, c locator.Candidate, entries ...string) error {
				s.Add(c, entries...)
				return catalog.SaveStatic(ctx, store, name, s)
			},
		}, nil
	}
}

// newManager builds a Manager from the configuration. The returned
// function closes it and stops the metrics endpoint.
func (a *app) newManager(ctx context.Context, withRemote bool) (*chunkidx.Manager, func(), error) {
	opts := a.cfg.Options()
	var stops []func()

	if withRemote {
		remote, err := openRemote(ctx, a.cfg.Remote.URL)
		if err != nil {
			return nil, nil, err
		}
		cats, err := a.openCatalog(ctx, remote)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, chunkidx.WithRemote(remote), chunkidx.WithCatalog(cats))
	}

	if a.cfg.Metrics.Enabled {
		reg := prom.NewRegistry()
		collector, err := promcollector.New(a.cfg.Metrics.Namespace, reg)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, chunkidx.WithMetricsCollector(collector))
		if a.cfg.Metrics.Listen != "" {
			ln, err := net.Listen("tcp", a.cfg.Metrics.Listen)
			if err != nil {
				return nil, nil, fmt.Errorf("metrics endpoint: %w", err)
			}
			srv := &http.Server{
				Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
				ReadHeaderTimeout: 5 * time.Second,
			}
			logger := a.cfg.Logger()
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("metrics endpoint stopped", "addr", ln.Addr().String(), "error", err)
				}
			}()
			stops = append(stops, func() { _ = srv.Close() })
		}
	}

	m, err := chunkidx.New(opts...)
	if err != nil {
		for _, stop := range stops {
			stop()
		}
		return nil, nil, err
	}
	return m, func() {
		_ = m.Close()
		for _, stop := range stops {
			stop()
		}
	}, nil
}
