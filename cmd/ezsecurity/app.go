package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"slices"
	"time"

	"go.opentelemetry.io/otel/metric"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/StricklySoft/ezsecurity/pkg/admins"
	"github.com/StricklySoft/ezsecurity/pkg/audit"
	"github.com/StricklySoft/ezsecurity/pkg/cache"
	"github.com/StricklySoft/ezsecurity/pkg/clients/minio"
	"github.com/StricklySoft/ezsecurity/pkg/clients/neo4j"
	"github.com/StricklySoft/ezsecurity/pkg/clients/postgres"
	"github.com/StricklySoft/ezsecurity/pkg/clients/redis"
	"github.com/StricklySoft/ezsecurity/pkg/directory"
	sserr "github.com/StricklySoft/ezsecurity/pkg/errors"
	"github.com/StricklySoft/ezsecurity/pkg/groups"
	"github.com/StricklySoft/ezsecurity/pkg/issuer"
	"github.com/StricklySoft/ezsecurity/pkg/lifecycle"
	"github.com/StricklySoft/ezsecurity/pkg/policy"
	"github.com/StricklySoft/ezsecurity/pkg/registration"
	"github.com/StricklySoft/ezsecurity/pkg/rpc"
	"github.com/StricklySoft/ezsecurity/pkg/signing"
)

type namedTask struct {
	name string
	run  lifecycle.TaskFunc
}

// app assembles the service from its configuration. Every backend it
// opens registers a health check and a closer.
type app struct {
	cfg    Config
	logger *slog.Logger
	meter  metric.Meter

	tasks   []namedTask
	checks  []lifecycle.Check
	closers []func(context.Context) error

	pg *postgres.Client
}

func newApp(cfg Config, logger *slog.Logger, meter metric.Meter) *app {
	return &app{cfg: cfg, logger: logger, meter: meter}
}

func (a *app) addTask(name string, fn lifecycle.TaskFunc) {
	a.tasks = append(a.tasks, namedTask{name: name, run: fn})
}

func (a *app) addCheck(name string, probe func(context.Context) error) {
	a.checks = append(a.checks, lifecycle.Check{Name: name, Probe: probe})
}

func (a *app) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

// close releases everything opened so far, newest first.
func (a *app) close(ctx context.Context) error {
	var errs []error
	for _, fn := range slices.Backward(a.closers) {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *app) postgres(ctx context.Context) (*postgres.Client, error) {
	if a.pg != nil {
		return a.pg, nil
	}
	pg, err := postgres.NewClient(ctx, a.cfg.Postgres)
	if err != nil {
		return nil, err
	}
	a.pg = pg
	a.addCheck("postgres", pg.Health)
	a.onClose(func(context.Context) error { pg.Close(); return nil })
	return pg, nil
}

func (a *app) registrationStore(ctx context.Context) (registration.Store, error) {
	switch a.cfg.Registration.Backend {
	case backendPostgres:
		pg, err := a.postgres(ctx)
		if err != nil {
			return nil, err
		}
		store := registration.NewPostgresStore(pg)
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return store, nil
	case backendMinio:
		mc, err := minio.NewClient(ctx, a.cfg.Minio)
		if err != nil {
			return nil, err
		}
		a.addCheck("minio", mc.Health)
		return registration.NewObjectStore(mc), nil
	default:
		return registration.LoadFile(a.cfg.Registration.File)
	}
}

// sharedCache returns nil when the cache is disabled.
func (a *app) sharedCache(ctx context.Context) (*cache.Cache, error) {
	if !a.cfg.Cache.Enabled {
		return nil, nil
	}
	rc, err := redis.NewClient(ctx, a.cfg.Cache.Redis)
	if err != nil {
		return nil, err
	}
	a.addCheck("redis", rc.Health)
	a.onClose(func(context.Context) error { return rc.Close() })
	return cache.New(rc, a.cfg.Cache, a.logger)
}

func (a *app) userDirectory(c *cache.Cache) (directory.Directory, error) {
	fd, err := directory.OpenFile(a.cfg.Directory.File, a.cfg.WatchInterval, a.logger)
	if err != nil {
		return nil, err
	}
	a.addTask("directory-watch", fd.Watch)
	if c == nil {
		return fd, nil
	}
	return directory.NewCached(fd, c.Namespace("users"), a.logger), nil
}

func (a *app) groupService(ctx context.Context, c *cache.Cache) (groups.Service, error) {
	var svc groups.Service
	switch a.cfg.Groups.Backend {
	case backendNeo4j:
		nc, err := neo4j.NewClient(ctx, a.cfg.Neo4j)
		if err != nil {
			return nil, err
		}
		a.addCheck("neo4j", nc.Health)
		a.onClose(nc.Close)
		svc = groups.NewGraphService(nc)
	default:
		s, err := groups.LoadStatic(a.cfg.Groups.File)
		if err != nil {
			return nil, err
		}
		svc = s
	}
	if c == nil {
		return svc, nil
	}
	return groups.NewCached(svc, c.Namespace("groups"), a.logger), nil
}

func (a *app) authorizationPolicy(ctx context.Context) (policy.Policy, error) {
	if a.cfg.Policy.RulesFile == "" {
		return policy.Simple{}, nil
	}
	return policy.LoadRule(ctx, policy.Simple{}, a.cfg.Policy.RulesFile, a.logger)
}

func (a *app) auditRecorder(ctx context.Context) (*audit.Recorder, error) {
	if !a.cfg.Audit.Postgres {
		return audit.NewRecorder(a.logger), nil
	}
	pg, err := a.postgres(ctx)
	if err != nil {
		return nil, err
	}
	sink := audit.NewPostgresSink(pg)
	if err := sink.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	return audit.NewRecorder(a.logger, sink), nil
}

// clientCredentials are used to dial sibling instances.
func (a *app) clientCredentials() (credentials.TransportCredentials, error) {
	if !a.cfg.TLS.Enabled() {
		return insecure.NewCredentials(), nil
	}
	return a.cfg.TLS.ClientCredentials("")
}

func (a *app) adminRegistry() (*admins.Registry, error) {
	reg, err := admins.OpenFile(a.cfg.Admins.File, a.cfg.WatchInterval, a.logger)
	if err != nil {
		return nil, err
	}
	a.addTask("admins-watch", reg.Watch)
	if len(a.cfg.Peers) == 0 {
		return reg, nil
	}

	creds, err := a.clientCredentials()
	if err != nil {
		return nil, err
	}
	peers := make([]admins.Peer, 0, len(a.cfg.Peers))
	for _, addr := range a.cfg.Peers {
		c, err := rpc.Dial(addr, grpc.WithTransportCredentials(creds))
		if err != nil {
			return nil, err
		}
		a.onClose(func(context.Context) error { return c.Close() })
		peers = append(peers, admins.Peer{Addr: addr, Updater: c})
	}
	a.addTask("admins-sync", admins.NewSyncer(reg, peers, a.logger).Run)
	return reg, nil
}

func (a *app) signingKey() (*signing.Key, error) {
	data, err := os.ReadFile(a.cfg.KeyFile)
	if err != nil {
		return nil, sserr.Wrapf(err, sserr.CodeInternalConfiguration, "ezsecurity: read key %s", a.cfg.KeyFile)
	}
	key, err := signing.ParsePrivateKeyPEM(data)
	if err != nil {
		return nil, err
	}
	a.logger.Info("ezsecurity: signing key loaded", "key", key.String())
	return key, nil
}

// issuer opens every backend named by the configuration and builds the
// token service over them.
func (a *app) issuer(ctx context.Context) (*issuer.Issuer, error) {
	key, err := a.signingKey()
	if err != nil {
		return nil, err
	}
	store, err := a.registrationStore(ctx)
	if err != nil {
		return nil, err
	}
	c, err := a.sharedCache(ctx)
	if err != nil {
		return nil, err
	}
	dir, err := a.userDirectory(c)
	if err != nil {
		return nil, err
	}
	grp, err := a.groupService(ctx, c)
	if err != nil {
		return nil, err
	}
	pol, err := a.authorizationPolicy(ctx)
	if err != nil {
		return nil, err
	}
	rec, err := a.auditRecorder(ctx)
	if err != nil {
		return nil, err
	}
	reg, err := a.adminRegistry()
	if err != nil {
		return nil, err
	}

	resolver := registration.NewResolver(store,
		registration.WithTTL(a.cfg.Registration.CacheTTL),
		registration.WithTimeout(a.cfg.Issuer.UpstreamTimeout),
		registration.WithLogger(a.logger),
	)
	opts := []issuer.Option{
		issuer.WithLogger(a.logger),
		issuer.WithRecorder(rec),
		issuer.WithMeter(a.meter),
	}
	if c != nil {
		opts = append(opts, issuer.WithCache(c))
	}
	return issuer.New(a.cfg.Issuer, issuer.Deps{
		Key:           key,
		Registrations: resolver,
		Directory:     dir,
		Groups:        grp,
		Admins:        reg,
		Policy:        pol,
	}, opts...)
}

// grpcTask serves is on lis until the task context is done.
func (a *app) grpcTask(is *issuer.Issuer, lis net.Listener) (lifecycle.TaskFunc, error) {
	var creds credentials.TransportCredentials
	if a.cfg.TLS.Enabled() {
		var err error
		creds, err = a.cfg.TLS.ServerCredentials(a.cfg.Issuer.MutualTLS)
		if err != nil {
			return nil, err
		}
	}
	gs := rpc.NewGRPCServer(rpc.NewServer(is, a.logger), creds, a.cfg.Issuer.MutualTLS)
	return func(ctx context.Context) error {
		go func() {
			<-ctx.Done()
			gs.GracefulStop()
		}()
		a.logger.InfoContext(ctx, "ezsecurity: serving gRPC", "addr", lis.Addr().String(), "tls", creds != nil)
		if err := gs.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return sserr.Wrap(err, sserr.CodeUnavailable, "ezsecurity: gRPC server failed")
		}
		return nil
	}, nil
}

// httpTask serves h on addr until the task context is done.
func httpTask(addr string, h http.Handler, logger *slog.Logger) lifecycle.TaskFunc {
	return func(ctx context.Context) error {
		srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		logger.InfoContext(ctx, "ezsecurity: serving metrics and health", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return sserr.Wrap(err, sserr.CodeUnavailable, "ezsecurity: HTTP server failed")
		}
		return nil
	}
}

// service builds the runnable service: the issuer behind gRPC on lis,
// the metrics and health endpoint, and every watcher.
func (a *app) service(ctx context.Context, version string, lis net.Listener, metrics http.Handler) (*lifecycle.Service, error) {
	is, err := a.issuer(ctx)
	if err != nil {
		return nil, err
	}
	serve, err := a.grpcTask(is, lis)
	if err != nil {
		return nil, err
	}
	a.addTask("grpc", serve)

	var svc *lifecycle.Service
	if a.cfg.HTTPAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics)
		mux.Handle("/healthz", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			svc.HealthHandler().ServeHTTP(w, r)
		}))
		a.addTask("http", httpTask(a.cfg.HTTPAddr, mux, a.logger))
	}

	b := lifecycle.NewBuilder("ezsecurity", version).
		WithLogger(a.logger).
		WithOnStart(func(ctx context.Context) error {
			a.logger.InfoContext(ctx, "ezsecurity: ready",
				"environment", a.cfg.Issuer.Environment,
				"mock", is.Mock(),
				"mutual_tls", a.cfg.Issuer.MutualTLS,
				"registration_backend", a.cfg.Registration.Backend,
				"groups_backend", a.cfg.Groups.Backend,
			)
			return nil
		}).
		WithOnStop(a.close)
	for _, t := range a.tasks {
		b.WithTask(t.name, t.run)
	}
	for _, c := range a.checks {
		b.WithCheck(c)
	}
	svc, err = b.Build()
	return svc, err
}
