package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"cercasp-go/internal/audit"
	"cercasp-go/internal/cercasp"
	"cercasp-go/internal/config"
	"cercasp-go/internal/encryption"
	"cercasp-go/internal/identity"
	"cercasp-go/internal/metrics"
	"cercasp-go/internal/queue"
	"cercasp-go/internal/remote"
	"cercasp-go/internal/server"
	"cercasp-go/internal/session"
	"cercasp-go/internal/syncer"
	"cercasp-go/internal/validate"
	"cercasp-go/internal/vault"
)

const snapshotPrefix = "snapshots"

// ErrSnapshotExists is returned when a pull would overwrite an existing file.
var ErrSnapshotExists = errors.New("snapshot destination already exists")

// Options tune NewApp. The zero value logs to file only at Info level and
// leaves the crypto box uninitialized.
type Options struct {
	Passphrase string
	Console    io.Writer
	LogLevel   slog.Level
	Getenv     func(string) string
	Clock      cercasp.Clock
}

// App is the application layer between the CLI and the record-keeping core.
// It constructs all dependencies from config and exposes one method per
// command. The caller must call Close when done.
type App struct {
	cfg        *config.Config
	getenv     func(string) string
	passphrase string

	logger  cercasp.Logger
	logFile *os.File
	clock   cercasp.Clock
	ids     cercasp.IDGenerator
	op      *Operation

	registry    *prometheus.Registry
	metrics     *metrics.Metrics
	box         *encryption.CryptoBox
	catalog     cercasp.Catalog
	queue       *queue.Queue
	remote      *remote.Store
	ledger      *audit.Ledger
	recorder    *audit.Recorder
	validator   *validate.RecordValidator
	coordinator *syncer.Coordinator
	manual      *syncer.ManualTrigger

	// Built on first use: they need secrets or network setup that most
	// commands never touch.
	provider *identity.LocalProvider
	guard    *session.Guard
	records  *cercasp.RecordService
	vault    vault.Vault
}

// NewApp creates a fully wired App. operation names the CLI command being
// run and tags the log lines it writes.
func NewApp(ctx context.Context, cfg *config.Config, operation string, opts Options) (*App, error) {
	getenv := opts.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	clock := opts.Clock
	if clock == nil {
		clock = cercasp.RealClock{}
	}

	op := NewOperation(operation, "", clock)
	slogger, logFile, err := newLogger(cfg.LogDir, op.ID, opts.LogLevel, opts.Console)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}

	a := &App{
		cfg:        cfg,
		getenv:     getenv,
		passphrase: opts.Passphrase,
		logger:     logger,
		logFile:    logFile,
		clock:      clock,
		ids:        cercasp.UUIDGenerator{},
		op:         op,
		manual:     syncer.NewManualTrigger(),
	}

	if err := a.build(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = metrics.New(a.registry)

	box, err := encryption.NewCryptoBoxFromConfig(a.cfg.Crypto, a.logger)
	if err != nil {
		return fmt.Errorf("creating crypto box: %w", err)
	}
	if a.passphrase != "" {
		if err := box.Initialize(a.passphrase); err != nil {
			return err
		}
	}
	a.box = box

	catalog, err := cercasp.DefaultCatalog().WithSensitiveFields(a.cfg.SensitiveFieldOverrides())
	if err != nil {
		return fmt.Errorf("applying collection overrides: %w", err)
	}
	a.catalog = catalog

	q, err := queue.NewQueueFromConfig(a.cfg.Queue, a.cfg.InstanceID, box, catalog, a.clock, a.logger)
	if err != nil {
		return fmt.Errorf("creating offline queue: %w", err)
	}
	a.queue = q

	rs, err := remote.NewRemoteStoreFromConfig(ctx, a.cfg.Remote, a.ids, a.clock, a.logger)
	if err != nil {
		return fmt.Errorf("creating remote store: %w", err)
	}
	a.remote = rs

	a.ledger = audit.NewLedger(rs, box, a.clock)
	a.recorder = audit.NewRecorder(a.ledger, q, a.logger, a.metrics)

	v, err := validate.NewRecordValidator()
	if err != nil {
		return fmt.Errorf("compiling record schemas: %w", err)
	}
	a.validator = v

	a.coordinator = syncer.NewCoordinator(q, rs, a.logger, a.metrics, a.cfg.Sync.Concurrency)
	return nil
}

// Logger returns the operation logger.
func (a *App) Logger() cercasp.Logger { return a.logger }

// Fail marks the current operation as failed.
func (a *App) Fail(err error) { a.op.Fail(err) }

func (a *App) identityProvider() (*identity.LocalProvider, error) {
	if a.provider != nil {
		return a.provider, nil
	}
	p, err := identity.NewProviderFromConfig(a.cfg.Identity, a.getenv, identity.LogNotifier{Logger: a.logger}, a.clock, a.ids, a.logger)
	if err != nil {
		return nil, fmt.Errorf("creating identity provider: %w", err)
	}
	a.provider = p
	return p, nil
}

func (a *App) sessionGuard() (*session.Guard, error) {
	if a.guard != nil {
		return a.guard, nil
	}
	p, err := a.identityProvider()
	if err != nil {
		return nil, err
	}
	g, err := session.NewGuard(p, a.recorder, session.LogNotifier{Logger: a.logger}, a.clock, a.logger, a.metrics, session.OptionsFromConfig(a.cfg))
	if err != nil {
		return nil, fmt.Errorf("creating session guard: %w", err)
	}
	a.guard = g
	return g, nil
}

func (a *App) recordService() (*cercasp.RecordService, error) {
	if a.records != nil {
		return a.records, nil
	}
	g, err := a.sessionGuard()
	if err != nil {
		return nil, err
	}
	a.records = cercasp.NewRecordService(a.remote, a.queue, a.box, g, a.recorder, a.validator, a.catalog, a.logger)
	return a.records, nil
}

func (a *App) snapshotVault(ctx context.Context) (vault.Vault, error) {
	if a.vault != nil {
		return a.vault, nil
	}
	v, err := vault.NewVaultFromConfig(ctx, a.cfg.Vault, a.getenv)
	if err != nil {
		return nil, fmt.Errorf("creating vault: %w", err)
	}
	a.vault = v
	return v, nil
}

// SyncOnce replays the offline queue against the remote store.
func (a *App) SyncOnce(ctx context.Context) (syncer.Report, error) {
	return a.coordinator.SyncOnce(ctx)
}

// Pending returns the queue depth per collection.
func (a *App) Pending(ctx context.Context) ([]syncer.CollectionDepth, error) {
	return a.coordinator.Pending(ctx)
}

// ListQueue returns the queued items of one collection without removing them.
func (a *App) ListQueue(ctx context.Context, collection string) ([]cercasp.QueueItem, error) {
	return a.queue.DrainAll(ctx, collection)
}

// ClearQueue drops every queued item of the given collections, or of all
// collections when none are named.
func (a *App) ClearQueue(ctx context.Context, collections ...string) error {
	if len(collections) == 0 {
		collections = a.queue.Collections()
	}
	for _, c := range collections {
		if err := a.queue.Clear(ctx, c); err != nil {
			return err
		}
		a.logger.Warn("offline queue cleared", "collection", c)
	}
	return nil
}

// VerifyAudit checks the checksum of every stored audit entry.
func (a *App) VerifyAudit(ctx context.Context) (audit.VerifyReport, error) {
	report, err := a.ledger.VerifyAll(ctx)
	if err != nil {
		return report, err
	}
	if !report.OK() {
		a.logger.Error("audit entries failed verification", "checked", report.Checked, "tampered", len(report.Tampered))
	}
	return report, nil
}

// CreateRecord signs in as email, creates one record and signs out again.
func (a *App) CreateRecord(ctx context.Context, email, password string, client session.ClientInfo, collection string, record cercasp.Record) (cercasp.CreateResult, error) {
	svc, err := a.recordService()
	if err != nil {
		return cercasp.CreateResult{}, err
	}
	if _, err := a.guard.SignIn(ctx, email, password, client); err != nil {
		return cercasp.CreateResult{}, err
	}
	defer func() {
		if err := a.guard.SignOut(context.WithoutCancel(ctx)); err != nil {
			a.logger.Warn("sign-out failed", "error", err)
		}
	}()

	return svc.Create(ctx, collection, record)
}

// AddUser registers a new account in the local identity store.
func (a *App) AddUser(email, displayName, role, password string) (cercasp.Identity, error) {
	r, err := cercasp.ParseRole(role)
	if err != nil {
		return cercasp.Identity{}, err
	}
	p, err := a.identityProvider()
	if err != nil {
		return cercasp.Identity{}, err
	}
	id, err := p.AddAccount(email, displayName, r, password)
	if err != nil {
		return cercasp.Identity{}, err
	}
	a.logger.Info("account added", "email", email, "role", r)
	return id, nil
}

// DisableUser blocks or unblocks sign-in for an account.
func (a *App) DisableUser(email string, disabled bool) error {
	p, err := a.identityProvider()
	if err != nil {
		return err
	}
	return p.SetDisabled(email, disabled)
}

// ChangePassword signs in with the current password, sets the new one and
// signs out.
func (a *App) ChangePassword(ctx context.Context, email, current, next string, client session.ClientInfo) error {
	g, err := a.sessionGuard()
	if err != nil {
		return err
	}
	if _, err := g.SignIn(ctx, email, current, client); err != nil {
		return err
	}
	defer g.SignOut(context.WithoutCancel(ctx))

	return g.ChangePassword(ctx, next)
}

// ResetPassword issues a reset token for email.
func (a *App) ResetPassword(ctx context.Context, email string) error {
	g, err := a.sessionGuard()
	if err != nil {
		return err
	}
	return g.ResetPassword(ctx, email)
}

// ConfirmReset sets a new password using a token from ResetPassword.
func (a *App) ConfirmReset(token, newPassword string) error {
	p, err := a.identityProvider()
	if err != nil {
		return err
	}
	return p.ConfirmPasswordReset(token, newPassword)
}

// SnapshotPush copies the queue database, seals it with age under the field
// passphrase and uploads it to the vault. It returns the vault key.
func (a *App) SnapshotPush(ctx context.Context) (string, error) {
	sealer, err := a.archiveSealer()
	if err != nil {
		return "", err
	}
	v, err := a.snapshotVault(ctx)
	if err != nil {
		return "", err
	}

	dir, err := os.MkdirTemp("", "cercasp-snapshot-*")
	if err != nil {
		return "", fmt.Errorf("creating temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	dbPath := filepath.Join(dir, "queue.db")
	if err := a.queue.Snapshot(ctx, dbPath); err != nil {
		return "", err
	}

	sealedPath := filepath.Join(dir, "queue.db.age")
	if err := sealFile(sealer, dbPath, sealedPath); err != nil {
		return "", err
	}

	f, err := os.Open(sealedPath)
	if err != nil {
		return "", fmt.Errorf("opening sealed snapshot: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat sealed snapshot: %w", err)
	}

	key := path.Join(snapshotPrefix, a.cfg.InstanceID, a.clock.Now().UTC().Format("20060102T150405Z")+".age")
	if err := v.Put(ctx, key, f, info.Size()); err != nil {
		return "", fmt.Errorf("uploading snapshot to vault: %w", err)
	}

	a.logger.Info("snapshot pushed", "vault", v.Name(), "key", key, "bytes", info.Size())
	return key, nil
}

// SnapshotPull downloads a snapshot and writes the decrypted database to
// dest. It refuses to overwrite dest.
func (a *App) SnapshotPull(ctx context.Context, key, dest string) error {
	if _, err := os.Stat(dest); err == nil {
		return fmt.Errorf("%w: %s", ErrSnapshotExists, dest)
	}

	sealer, err := a.archiveSealer()
	if err != nil {
		return err
	}
	v, err := a.snapshotVault(ctx)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp("", "cercasp-pull-*.age")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if err := v.Get(ctx, key, tmp); err != nil {
		return fmt.Errorf("downloading snapshot: %w", err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewinding snapshot: %w", err)
	}

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dest, err)
	}
	if err := sealer.Open(tmp, out); err != nil {
		out.Close()
		os.Remove(dest)
		return fmt.Errorf("decrypting snapshot: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dest)
		return fmt.Errorf("closing %s: %w", dest, err)
	}

	a.logger.Info("snapshot pulled", "vault", v.Name(), "key", key, "dest", dest)
	return nil
}

// SnapshotList returns this instance's snapshots, newest first.
func (a *App) SnapshotList(ctx context.Context) ([]vault.Object, error) {
	v, err := a.snapshotVault(ctx)
	if err != nil {
		return nil, err
	}
	objs, err := v.List(ctx, path.Join(snapshotPrefix, a.cfg.InstanceID)+"/")
	if err != nil {
		return nil, err
	}
	sort.Slice(objs, func(i, j int) bool { return objs[i].Key > objs[j].Key })
	return objs, nil
}

func (a *App) archiveSealer() (*encryption.ArchiveSealer, error) {
	if a.passphrase == "" {
		return nil, errors.New("snapshots need the field passphrase")
	}
	return encryption.NewArchiveSealer(a.passphrase, a.cfg.Crypto.ArchiveWorkFactor)
}

func sealFile(sealer *encryption.ArchiveSealer, src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dst, err)
	}
	if err := sealer.Seal(in, out); err != nil {
		out.Close()
		return fmt.Errorf("sealing snapshot: %w", err)
	}
	return out.Close()
}

// Serve runs the HTTP endpoints and the background sync loop until ctx ends.
func (a *App) Serve(ctx context.Context) error {
	handler, err := a.serveHandler()
	if err != nil {
		return err
	}

	probe := time.Duration(a.cfg.Sync.ConnectivityProbeSeconds) * time.Second
	if probe <= 0 {
		probe = 30 * time.Second
	}
	conn := syncer.NewConnectivityTrigger(a.remote, probe, a.logger)
	conn.Probe(ctx)
	ticker := syncer.NewTickerTrigger(a.cfg.SyncInterval())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Serve(gctx, a.cfg.Server.Addr, handler, a.logger) })
	g.Go(func() error { return a.coordinator.Run(gctx, ticker, conn, a.manual) })

	// Drain anything queued while the process was down.
	a.manual.Fire()

	return g.Wait()
}

// serveHandler builds the serve-mode router. /sync and /queue accept the
// bearer tokens printed by IssueToken.
func (a *App) serveHandler() (http.Handler, error) {
	provider, err := a.identityProvider()
	if err != nil {
		return nil, err
	}
	return server.NewRouter(server.Deps{
		Queue:    a.coordinator,
		Sync:     a.manual,
		Remote:   a.remote,
		Gatherer: a.registry,
		Tokens:   provider,
		Logger:   a.logger,
	}), nil
}

// IssueToken signs email in and returns the identity with its bearer token.
// The local session ends right away; the token stays valid until it expires
// or the account is disabled.
func (a *App) IssueToken(ctx context.Context, email, password string, client session.ClientInfo) (cercasp.Identity, error) {
	guard, err := a.sessionGuard()
	if err != nil {
		return cercasp.Identity{}, err
	}
	id, err := guard.SignIn(ctx, email, password, client)
	if err != nil {
		return cercasp.Identity{}, err
	}
	if err := guard.SignOut(context.WithoutCancel(ctx)); err != nil {
		a.logger.Warn("sign-out failed", "error", err)
	}
	a.logger.Info("issued access token", "email", id.Email)
	return id, nil
}

// Close finishes the operation log and releases every resource.
func (a *App) Close() error {
	var errs []error

	if a.guard != nil {
		if _, ok := a.guard.Current(); ok {
			if err := a.guard.SignOut(context.Background()); err != nil {
				errs = append(errs, fmt.Errorf("signing out: %w", err))
			}
		}
	}
	if a.queue != nil {
		if err := a.queue.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing queue: %w", err))
		}
	}
	if a.remote != nil {
		if err := a.remote.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing remote store: %w", err))
		}
	}

	if a.logger != nil {
		a.op.Finish(a.logger, a.clock)
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return errors.Join(errs...)
}
