// Package registry holds the single active database connection. Callers
// borrow a Handle for the length of one operation; attaching a new database
// publishes a new generation, and the superseded pool is closed only after
// its last borrower releases.
package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/SedlarDavid/querygate/internal/db"
)

// Origin records how the active database was selected.
type Origin string

const (
	OriginDefault  Origin = "default"
	OriginExplicit Origin = "explicit"
	OriginUpload   Origin = "uploaded_file"
)

// Status is the last known health of the active database.
type Status string

const (
	StatusConnected   Status = "connected"
	StatusUnreachable Status = "unreachable"
	StatusNone        Status = "not_attached"
)

// ErrNotAttached is returned by Borrow when no database is active.
var ErrNotAttached = errors.New("no database attached")

// ErrNoDefault is wrapped by Detach when no default database is configured.
var ErrNoDefault = errors.New("no default database configured")

// AttachKind classifies an attach failure.
type AttachKind string

// Unreachable is the only attach failure: the source could not be probed
// or opened. The registry is left exactly as it was.
const Unreachable AttachKind = "Unreachable"

// AttachError reports a failed Attach. Source is the masked URL.
type AttachError struct {
	Kind   AttachKind
	Source string
	Err    error
}

func (e *AttachError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Source, e.Err)
}

func (e *AttachError) Unwrap() error { return e.Err }

// Descriptor is the externally visible description of the active
// database. It never holds the unmasked URL.
type Descriptor struct {
	MaskedURL  string            `json:"masked_url"`
	Engine     db.Engine         `json:"engine,omitempty"`
	Origin     Origin            `json:"origin,omitempty"`
	Details    map[string]string `json:"origin_details"`
	Status     Status            `json:"status"`
	Generation string            `json:"generation,omitempty"`
	AttachedAt time.Time         `json:"attached_at,omitzero"`
}

// Opener probes and opens data sources. The default uses package db.
type Opener interface {
	Probe(ctx context.Context, src db.DataSource) error
	Open(ctx context.Context, src db.DataSource, opts db.PoolOptions) (db.Driver, error)
}

type dbOpener struct{}

func (dbOpener) Probe(ctx context.Context, src db.DataSource) error {
	return db.Probe(ctx, src)
}

func (dbOpener) Open(ctx context.Context, src db.DataSource, opts db.PoolOptions) (db.Driver, error) {
	return db.Open(ctx, src, opts)
}

// generation is one published pool. refs and retired are guarded by
// Registry.mu.
type generation struct {
	desc    Descriptor
	driver  db.Driver
	refs    int
	retired bool
	// file is a decompressed upload owned by this generation, removed
	// once its pool is closed.
	file string
}

// Registry owns the active generation. The zero value is not usable; call
// New.
type Registry struct {
	attachMu sync.Mutex // serializes Attach and Close

	mu        sync.Mutex
	active    *generation
	live      int
	closeErrs error

	defaultSrc db.DataSource
	opener     Opener
	pool       db.PoolOptions
	uploadDir  string
	log        *zap.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithOpener replaces the db based Opener.
func WithOpener(o Opener) Option { return func(r *Registry) { r.opener = o } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(r *Registry) { r.log = l } }

// WithPoolOptions sets the pool size of every generation.
func WithPoolOptions(p db.PoolOptions) Option { return func(r *Registry) { r.pool = p } }

// WithUploadDir sets where AttachFile places decompressed uploads.
func WithUploadDir(dir string) Option { return func(r *Registry) { r.uploadDir = dir } }

// New returns a Registry with nothing attached. defaultSrc may be zero.
func New(defaultSrc db.DataSource, opts ...Option) *Registry {
	r := &Registry{
		defaultSrc: defaultSrc,
		opener:     dbOpener{},
		log:        zap.NewNop(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Init attaches the configured default, if any.
func (r *Registry) Init(ctx context.Context) error {
	if r.defaultSrc.IsZero() {
		r.log.Info("no default database configured")
		return nil
	}
	return r.Attach(ctx, r.defaultSrc, OriginDefault, nil)
}

// Attach probes src with a throwaway connection, opens a pool for it and
// publishes it as the active generation. On any failure it returns an
// *AttachError and the previous state is untouched.
func (r *Registry) Attach(ctx context.Context, src db.DataSource, origin Origin, details map[string]string) error {
	return r.attach(ctx, src, origin, details, "")
}

// attach publishes src. A non-empty owned file belongs to the new
// generation on success and is removed on failure.
func (r *Registry) attach(ctx context.Context, src db.DataSource, origin Origin, details map[string]string, owned string) (err error) {
	if owned != "" {
		defer func() {
			if err != nil {
				r.removeFile(owned)
			}
		}()
	}
	r.attachMu.Lock()
	defer r.attachMu.Unlock()

	log := r.log.With(zap.Object("source", src), zap.String("origin", string(origin)))
	if err := r.opener.Probe(ctx, src); err != nil {
		log.Warn("attach probe failed", zap.Error(err))
		return &AttachError{Kind: Unreachable, Source: src.Masked(), Err: err}
	}
	drv, err := r.opener.Open(ctx, src, r.pool)
	if err != nil {
		log.Warn("attach open failed", zap.Error(err))
		return &AttachError{Kind: Unreachable, Source: src.Masked(), Err: err}
	}

	g := &generation{
		driver: drv,
		file:   owned,
		desc: Descriptor{
			MaskedURL:  src.Masked(),
			Engine:     src.Engine,
			Origin:     origin,
			Details:    copyDetails(details),
			Status:     StatusConnected,
			Generation: uuid.NewString(),
			AttachedAt: time.Now().UTC(),
		},
	}

	r.mu.Lock()
	old := r.active
	r.active = g
	r.live++
	closeOld := r.retireLocked(old)
	r.mu.Unlock()

	if closeOld {
		r.closeGeneration(old)
	}
	log.Info("database attached", zap.String("generation", g.desc.Generation))
	return nil
}

// AttachFile attaches an uploaded SQLite file. A .gz file is decompressed
// into a new file in the upload directory, removed again when the attach
// fails or when its generation is closed.
func (r *Registry) AttachFile(ctx context.Context, path string) error {
	up, err := db.FileSource(path, r.uploadDir)
	if err != nil {
		return &AttachError{Kind: Unreachable, Source: filepath.Base(path), Err: err}
	}
	var owned string
	if up.Extracted {
		owned = up.Source.Database
	}
	return r.attach(ctx, up.Source, OriginUpload, map[string]string{"filename": up.Name}, owned)
}

// Detach re-attaches the configured default.
func (r *Registry) Detach(ctx context.Context) error {
	if r.defaultSrc.IsZero() {
		return &AttachError{Kind: Unreachable, Err: ErrNoDefault}
	}
	return r.Attach(ctx, r.defaultSrc, OriginDefault, nil)
}

// DefaultSource returns the configured default.
func (r *Registry) DefaultSource() db.DataSource { return r.defaultSrc }

// Current describes the active generation.
func (r *Registry) Current() Descriptor {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return Descriptor{Details: map[string]string{}, Status: StatusNone}
	}
	d := r.active.desc
	d.Details = copyDetails(d.Details)
	return d
}

// Health pings the active database and records the outcome on its
// descriptor if it is still active.
func (r *Registry) Health(ctx context.Context) bool {
	h, err := r.Borrow()
	if err != nil {
		return false
	}
	defer h.Release()

	status := StatusConnected
	if err := h.Driver().Ping(ctx); err != nil {
		status = StatusUnreachable
		r.log.Warn("health check failed", zap.String("generation", h.Generation()), zap.Error(err))
	}
	r.mu.Lock()
	if r.active == h.g {
		r.active.desc.Status = status
	}
	r.mu.Unlock()
	return status == StatusConnected
}

// Borrow lends the active driver. The caller must Release the handle when
// the operation ends; the pool stays open until then even if another
// database is attached meanwhile.
func (r *Registry) Borrow() (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return nil, ErrNotAttached
	}
	r.active.refs++
	return &Handle{r: r, g: r.active}, nil
}

// Close retires the active generation. Borrowed handles remain usable until
// released. The returned error combines every close failure seen so far.
func (r *Registry) Close() error {
	r.attachMu.Lock()
	defer r.attachMu.Unlock()

	r.mu.Lock()
	old := r.active
	r.active = nil
	closeOld := r.retireLocked(old)
	r.mu.Unlock()

	if closeOld {
		r.closeGeneration(old)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	err := r.closeErrs
	r.closeErrs = nil
	return err
}

// Live reports how many generations still hold an open pool.
func (r *Registry) Live() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.live
}

// retireLocked marks g retired and reports whether it can be closed now.
func (r *Registry) retireLocked(g *generation) bool {
	if g == nil {
		return false
	}
	g.retired = true
	return g.refs == 0
}

func (r *Registry) closeGeneration(g *generation) {
	err := g.driver.Close()
	r.mu.Lock()
	r.live--
	r.closeErrs = multierr.Append(r.closeErrs, err)
	r.mu.Unlock()
	if err != nil {
		r.log.Warn("closing retired pool", zap.String("generation", g.desc.Generation), zap.Error(err))
		return
	}
	r.log.Debug("retired pool closed", zap.String("generation", g.desc.Generation))
	if g.file != "" {
		r.removeFile(g.file)
	}
}

func (r *Registry) removeFile(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		r.log.Warn("removing extracted upload", zap.String("file", filepath.Base(path)), zap.Error(err))
	}
}

func (r *Registry) release(g *generation) {
	r.mu.Lock()
	g.refs--
	closeNow := g.retired && g.refs == 0
	r.mu.Unlock()
	if closeNow {
		r.closeGeneration(g)
	}
}

func copyDetails(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Handle is a borrowed reference to one generation.
type Handle struct {
	r    *Registry
	g    *generation
	once sync.Once
}

// Driver returns the borrowed driver. It must not be used after Release.
func (h *Handle) Driver() db.Driver { return h.g.driver }

// Generation returns the id of the borrowed generation.
func (h *Handle) Generation() string { return h.g.desc.Generation }

// Release returns the handle. Calling it more than once is harmless.
func (h *Handle) Release() {
	h.once.Do(func() { h.r.release(h.g) })
}
