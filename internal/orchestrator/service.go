package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"io/fs"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"hls-packager/internal/platform/metrics"

	"golang.org/x/sync/errgroup"
)

const (
	stagingDirName = ".staging"
	lockDirName    = ".locks"
)

// Config holds the process-wide settings of the transcode service.
type Config struct {
	// Root is the package root; published assets live at Root/<assetId>.
	Root   string
	Ladder Ladder
	// Parallelism bounds concurrent rendition encodes within one job.
	// Zero or less means runtime.NumCPU().
	Parallelism int
	// Timeout bounds a whole job. Zero means no limit beyond the caller's context.
	Timeout time.Duration
	// RetainSource keeps the uploaded source after a successful job.
	RetainSource bool
}

// Service orchestrates transcode jobs: one Encoder call per rendition, a join
// on all of them, master playlist generation and finally publication of the
// package under the root.
type Service struct {
	root         string
	stagingDir   string
	lockDir      string
	ladder       Ladder
	parallelism  int
	timeout      time.Duration
	retainSource bool

	encoder Encoder
	repo    Repository
	log     *slog.Logger
	metrics *metrics.Metrics

	inflight inflightJobs
}

// NewService validates cfg and returns a Service. Metrics may be nil to
// disable metric recording (e.g. in tests).
func NewService(cfg Config, enc Encoder, repo Repository, log *slog.Logger, m *metrics.Metrics) (*Service, error) {
	if enc == nil {
		return nil, errors.New("orchestrator: encoder is required")
	}
	if repo == nil {
		repo = NewInMemoryRepository()
	}
	if log == nil {
		log = slog.Default()
	}
	ladder := cfg.Ladder
	if len(ladder) == 0 {
		ladder = DefaultLadder
	}
	if err := ladder.Validate(); err != nil {
		return nil, err
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: resolve root: %w", err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("orchestrator: create root: %w", err)
	}
	parallelism := cfg.Parallelism
	if parallelism <= 0 {
		parallelism = runtime.NumCPU()
	}

	return &Service{
		root:         root,
		stagingDir:   filepath.Join(root, stagingDirName),
		lockDir:      filepath.Join(root, lockDirName),
		ladder:       append(Ladder(nil), ladder...),
		parallelism:  parallelism,
		timeout:      cfg.Timeout,
		retainSource: cfg.RetainSource,
		encoder:      enc,
		repo:         repo,
		log:          log.With(slog.String("component", "orchestrator")),
		metrics:      m,
	}, nil
}

// Ladder returns a copy of the configured ladder.
func (s *Service) Ladder() Ladder {
	return append(Ladder(nil), s.ladder...)
}

// Root returns the absolute package root.
func (s *Service) Root() string {
	return s.root
}

// StagingDir is where in-progress packages are built. It lives under the
// root so publishing is a same-filesystem rename.
func (s *Service) StagingDir() string {
	return s.stagingDir
}

// Job returns the recorded job for assetID.
func (s *Service) Job(ctx context.Context, assetID string) (TranscodeJob, error) {
	return s.repo.GetJob(ctx, assetID)
}

// ActiveJobCount returns the number of jobs still pending or running.
func (s *Service) ActiveJobCount(ctx context.Context) int {
	n, err := s.repo.ActiveJobCount(ctx)
	if err != nil {
		s.log.Warn("count active jobs failed", slog.String("error", err.Error()))
		return 0
	}
	return n
}

// Wait blocks until no Transcode call is in progress or ctx is done. Jobs
// finish their cleanup before they stop counting as in progress.
func (s *Service) Wait(ctx context.Context) error {
	return s.inflight.wait(ctx)
}

// RecoverInterrupted reconciles what a previous process left behind: jobs
// still pending or running are marked failed and orphaned staging
// directories are removed. Assets whose lock is held by a live job, in this
// or another process, are skipped. It returns the number of jobs failed.
func (s *Service) RecoverInterrupted(ctx context.Context) (int, error) {
	active, err := s.repo.ActiveJobs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active jobs: %w", err)
	}

	failed := 0
	for _, job := range active {
		ok, err := s.underIdleLock(job.AssetID, func() error {
			return s.repo.MarkFailed(ctx, job.AssetID, ErrJobInterrupted)
		})
		if err != nil {
			return failed, fmt.Errorf("fail interrupted job %s: %w", job.AssetID, err)
		}
		if ok {
			failed++
			s.log.Warn("marked interrupted job failed", slog.String("asset_id", job.AssetID))
		}
	}

	entries, err := os.ReadDir(s.stagingDir)
	if errors.Is(err, fs.ErrNotExist) {
		return failed, nil
	}
	if err != nil {
		return failed, fmt.Errorf("read staging dir: %w", err)
	}
	for _, e := range entries {
		// Staged CLI source copies are plain files; only job trees are swept.
		if !e.IsDir() || !nameAllowed.MatchString(e.Name()) {
			continue
		}
		dir := filepath.Join(s.stagingDir, e.Name())
		ok, err := s.underIdleLock(e.Name(), func() error { return os.RemoveAll(dir) })
		if err != nil {
			s.log.Warn("remove stale staging dir failed", slog.String("dir", dir), slog.String("error", err.Error()))
			continue
		}
		if ok {
			s.log.Info("removed stale staging dir", slog.String("dir", dir))
		}
	}
	return failed, nil
}

// underIdleLock runs fn while holding the asset lock. It reports false
// without running fn when a live job holds the lock.
func (s *Service) underIdleLock(assetID string, fn func() error) (bool, error) {
	lock, err := lockAsset(s.lockDir, assetID)
	if errors.Is(err, ErrAssetBusy) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer func() {
		if err := lock.release(); err != nil {
			s.log.Warn("release asset lock failed", slog.String("asset_id", assetID), slog.String("error", err.Error()))
		}
	}()
	return true, fn()
}

// Transcode packages src into Root/<src.ID>. All renditions are encoded into
// a staging directory; only when every one of them succeeded is the master
// playlist written and the directory published with a single rename. Any
// failure removes everything the job wrote, including the source file, and
// returns a *TranscodeError.
func (s *Service) Transcode(ctx context.Context, src SourceAsset) (StreamableAsset, error) {
	s.inflight.add()
	defer s.inflight.done()

	log := s.log.With(slog.String("asset_id", src.ID))

	if !nameAllowed.MatchString(src.ID) {
		s.removeSource(log, src)
		return StreamableAsset{}, &ValidationError{Field: "assetId", Reason: "must match [A-Za-z0-9_-]+"}
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	lock, err := lockAsset(s.lockDir, src.ID)
	if err != nil {
		s.removeSource(log, src)
		return StreamableAsset{}, &TranscodeError{AssetID: src.ID, Cause: err}
	}
	defer func() {
		if err := lock.release(); err != nil {
			log.Warn("release asset lock failed", slog.String("error", err.Error()))
		}
	}()

	final := filepath.Join(s.root, src.ID)
	if _, err := os.Lstat(final); err == nil {
		s.removeSource(log, src)
		return StreamableAsset{}, &TranscodeError{AssetID: src.ID, Cause: ErrAssetExists}
	}

	if _, err := s.repo.CreateJob(ctx, src.ID, s.ladder); err != nil {
		s.removeSource(log, src)
		return StreamableAsset{}, &TranscodeError{AssetID: src.ID, Cause: err}
	}

	staging := filepath.Join(s.stagingDir, src.ID)
	if err := s.prepareStaging(staging); err != nil {
		return StreamableAsset{}, s.fail(ctx, log, src, staging, err)
	}
	if err := s.repo.MarkRunning(ctx, src.ID); err != nil {
		return StreamableAsset{}, s.fail(ctx, log, src, staging, err)
	}
	log.Info("transcode started",
		slog.Int("renditions", len(s.ladder)),
		slog.Int("parallelism", s.parallelism))

	variants, err := s.encodeAll(ctx, log, src, staging)
	if err != nil {
		return StreamableAsset{}, s.fail(ctx, log, src, staging, err)
	}

	content, err := RenderMaster(s.ladder, variants)
	if err != nil {
		return StreamableAsset{}, s.fail(ctx, log, src, staging, err)
	}
	if _, err := WriteMaster(staging, content); err != nil {
		return StreamableAsset{}, s.fail(ctx, log, src, staging, err)
	}
	if err := os.Rename(staging, final); err != nil {
		if _, statErr := os.Lstat(final); statErr == nil {
			err = fmt.Errorf("%w: %v", ErrAssetExists, err)
		}
		return StreamableAsset{}, s.fail(ctx, log, src, staging, fmt.Errorf("publish package: %w", err))
	}

	outputs := make(map[string]string, len(s.ladder))
	for _, r := range s.ladder {
		outputs[r.Name] = filepath.Join(final, r.Name)
	}
	if err := s.repo.MarkSucceeded(context.WithoutCancel(ctx), src.ID, outputs); err != nil {
		log.Warn("record job success failed", slog.String("error", err.Error()))
	}
	if !s.retainSource {
		s.removeSource(log, src)
	}
	if s.metrics != nil {
		s.metrics.IncJobs(string(StatusSucceeded))
	}
	log.Info("transcode succeeded", slog.String("dir", final))

	return StreamableAsset{
		ID:         src.ID,
		Dir:        final,
		MasterPath: filepath.Join(final, MasterPlaylistName),
		Variants:   variants,
	}, nil
}

func (s *Service) prepareStaging(staging string) error {
	// Leftovers from a crashed run of the same id are safe to drop: we hold the lock.
	if err := os.RemoveAll(staging); err != nil {
		return fmt.Errorf("reset staging dir: %w", err)
	}
	for _, r := range s.ladder {
		if err := os.MkdirAll(filepath.Join(staging, r.Name), 0o755); err != nil {
			return fmt.Errorf("create rendition dir %s: %w", r.Name, err)
		}
	}
	return nil
}

// encodeAll runs one encode per rendition, at most s.parallelism at a time,
// and waits for every one of them to finish. The first failure cancels the
// siblings; results are indexed by ladder position.
func (s *Service) encodeAll(ctx context.Context, log *slog.Logger, src SourceAsset, staging string) ([]VariantPlaylist, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)

	variants := make([]VariantPlaylist, len(s.ladder))
	for i, r := range s.ladder {
		i, r := i, r
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return &EncodeError{Rendition: r.Name, Err: err}
			}
			start := time.Now()
			v, err := s.encoder.Encode(gctx, src.StoragePath, r, filepath.Join(staging, r.Name))
			if s.metrics != nil {
				s.metrics.ObserveEncode(r.Name, err == nil, time.Since(start))
			}
			if err != nil {
				var encErr *EncodeError
				if !errors.As(err, &encErr) {
					err = &EncodeError{Rendition: r.Name, Err: err}
				}
				return err
			}
			v.RenditionName = r.Name
			variants[i] = v
			log.Debug("rendition encoded",
				slog.String("rendition", r.Name),
				slog.Int("segments", len(v.SegmentFilenames)),
				slog.Duration("elapsed", time.Since(start)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return variants, nil
}

// fail cleans up everything the job wrote, records the failure and returns
// the aggregate error. Cleanup problems are logged so they never mask cause.
func (s *Service) fail(ctx context.Context, log *slog.Logger, src SourceAsset, staging string, cause error) error {
	if err := os.RemoveAll(staging); err != nil {
		log.Warn("cleanup staging dir failed", slog.String("dir", staging), slog.String("error", err.Error()))
	}
	s.removeSource(log, src)

	if err := s.repo.MarkFailed(context.WithoutCancel(ctx), src.ID, cause); err != nil {
		log.Warn("record job failure failed", slog.String("error", err.Error()))
	}
	if s.metrics != nil {
		s.metrics.IncJobs(string(StatusFailed))
	}
	log.Error("transcode failed", slog.String("error", cause.Error()))
	return &TranscodeError{AssetID: src.ID, Cause: cause}
}

func (s *Service) removeSource(log *slog.Logger, src SourceAsset) {
	if src.StoragePath == "" {
		return
	}
	if err := os.Remove(src.StoragePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("remove source failed", slog.String("path", src.StoragePath), slog.String("error", err.Error()))
	}
}

// inflightJobs counts running Transcode calls. Unlike sync.WaitGroup it can
// be waited on with a deadline while new calls keep arriving.
type inflightJobs struct {
	mu      sync.Mutex
	n       int
	waiters []chan struct{}
}

func (j *inflightJobs) add() {
	j.mu.Lock()
	j.n++
	j.mu.Unlock()
}

func (j *inflightJobs) done() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.n--
	if j.n == 0 {
		for _, ch := range j.waiters {
			close(ch)
		}
		j.waiters = nil
	}
}

func (j *inflightJobs) wait(ctx context.Context) error {
	j.mu.Lock()
	if j.n == 0 {
		j.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	j.waiters = append(j.waiters, ch)
	j.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
