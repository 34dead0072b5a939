// Package server wires the eviction core and its collaborators into a
// running process: the periodic hz task that drives TryFreeMemorySafely,
// the HTTP metrics endpoint, replica discovery, and snapshot loading.
// Adapted from the teacher's cacheServer/server/server.go (NewServer,
// Start/Stop, exportStats, the zap logger setup in init()).
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"rapidstore/appendlog"
	"rapidstore/bgfree"
	"rapidstore/config"
	"rapidstore/eviction"
	"rapidstore/internal/clock"
	"rapidstore/internal/memacct"
	"rapidstore/memorystore"
	"rapidstore/replication"
	"rapidstore/snapshot"
)

// newLogger builds a zap.Logger with the same JSON encoder shape the
// teacher's package init() hardcoded, parameterized instead of global so
// multiple Servers (as in tests) don't fight over one logger.
func newLogger() (*zap.Logger, error) {
	cfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(zap.InfoLevel),
		Development: false,
		Encoding:    "json",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:       "timeStamp",
			LevelKey:      "level",
			MessageKey:    "message",
			CallerKey:     "source Code",
			StacktraceKey: "stacktrace",
			LineEnding:    zapcore.DefaultLineEnding,

			EncodeLevel: zapcore.CapitalLevelEncoder,
			EncodeTime: func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
				enc.AppendString(t.Format("2006-01-02 15:04:05"))
			},
			EncodeDuration: zapcore.MillisDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
			EncodeName:     zapcore.FullNameEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("server: build logger: %w", err)
	}
	return logger, nil
}

// Server owns one process's full collaborator graph: the memory stores,
// the eviction context driving them, and the ambient services (metrics,
// replication, snapshotting) around them.
type Server struct {
	cfg    config.Config
	logger *zap.Logger

	clock      *clock.Clock
	accountant *memacct.Accountant
	evictCtx   *eviction.Context
	dbs        []eviction.Database
	dbByID     map[int]*memorystore.DB

	appendLog *appendlog.Log
	bgWorker  *bgfree.Worker
	replicas  *replication.Tracker
	snapshots *snapshot.Store

	stats  ServerInfoMetaData
	safety eviction.SafetyState

	close  chan struct{}
	isLive atomic.Bool
}

// New builds a Server from cfg. Opening the append log and creating the
// background-free worker already start their own goroutines; the clock
// refresh, the hz task and the metrics endpoint do not run until Start is
// called, matching the teacher's split between NewServer (wiring) and
// Start (accepting work).
func New(cfg config.Config) (*Server, error) {
	logger, err := newLogger()
	if err != nil {
		return nil, err
	}

	evCfg, err := cfg.EvictionConfig()
	if err != nil {
		return nil, fmt.Errorf("server: invalid eviction config: %w", err)
	}

	clk := clock.New(cfg.Server.HZ)
	acct := memacct.New(cfg.Eviction.MaxMemory)

	appendLog, err := appendlog.Open(cfg.Persistence.AppendLogPath, cfg.Persistence.AppendLogMaxSize, cfg.Persistence.AppendLogSyncInterval, logger)
	if err != nil {
		return nil, fmt.Errorf("server: open append log: %w", err)
	}

	bg := bgfree.New(4, logger)

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		clock:     clk,
		accountant: acct,
		appendLog: appendLog,
		bgWorker:  bg,
		dbByID:    make(map[int]*memorystore.DB),
		close:     make(chan struct{}),
		snapshots: snapshot.New(cfg.Snapshot.Bucket, cfg.Snapshot.CredentialsPath, logger),
	}

	numDBs := cfg.Server.Databases
	if numDBs <= 0 {
		numDBs = 1
	}
	for i := 0; i < numDBs; i++ {
		db := memorystore.New(i, clk, evCfg, bg, memorystore.WithLogger(logger))
		s.dbByID[i] = db
		s.dbs = append(s.dbs, db)
	}

	acct.Overheads = []memacct.OverheadSource{appendLog.BufferBytes, appendLog.RewriteBufferBytes, s.replicaBufferBytes}

	if len(cfg.Election.ZookeeperServers) > 0 {
		tracker, err := replication.Connect(cfg.Election.ZookeeperServers, cfg.Election.ConnectTimeout, logger)
		if err != nil {
			logger.Warn("replication tracker unavailable, continuing without replicas", zap.Error(err))
		} else {
			s.replicas = tracker
			if cfg.Election.FollowerAddress != "" {
				if err := tracker.RegisterAsFollower(cfg.Election.FollowerAddress); err != nil {
					logger.Warn("failed to register as follower", zap.Error(err))
				}
			}
		}
	}

	s.evictCtx = eviction.New(evCfg, acct, clk,
		eviction.WithReplication(s.replicationSink()),
		eviction.WithAppendLog(appendLog),
		eviction.WithEvents(s),
		eviction.WithBGFree(bg),
		eviction.WithLogger(logger),
	)

	return s, nil
}

// replicationSink returns s.replicas as an eviction.ReplicationSink, or
// nil if no zookeeper connection was established -- nil collaborators are
// a documented no-op per eviction.Context's constructor comment.
func (s *Server) replicationSink() eviction.ReplicationSink {
	if s.replicas == nil {
		return nil
	}
	return s.replicas
}

func (s *Server) replicaBufferBytes() uint64 {
	if s.replicas == nil {
		return 0
	}
	return s.replicas.ReplicaBufferBytes()
}

// DB returns the logical database with the given id, or nil if id is out
// of range.
func (s *Server) DB(id int) *memorystore.DB {
	return s.dbByID[id]
}

// NotifyEvicted satisfies eviction.EventNotifier.
func (s *Server) NotifyEvicted(dbID int, key string) {
	s.logger.Debug("evicted key", zap.Int("db", dbID), zap.String("key", key))
}

// SignalModifiedKey satisfies eviction.EventNotifier.
func (s *Server) SignalModifiedKey(dbID int, key string) {
	s.stats.IncrementWriteOps()
}

// Start launches the periodic hz task and the metrics HTTP endpoint, and
// restores the latest snapshot if one is configured. It returns once
// startup work (snapshot restore) completes; the background loops keep
// running until Stop.
func (s *Server) Start(ctx context.Context) error {
	if s.cfg.Snapshot.Path != "" {
		if err := s.restoreSnapshot(ctx); err != nil {
			s.logger.Warn("snapshot restore failed, starting with an empty store", zap.Error(err))
		}
	}

	s.clock.Start()
	s.isLive.Store(true)
	go s.exportStats()
	go s.hzLoop()
	s.logger.Info("server started", zap.String("address", fmt.Sprintf("%s:%d", s.cfg.Server.Address, s.cfg.Server.Port)))
	return nil
}

func (s *Server) dumpers() []snapshot.Dumper {
	out := make([]snapshot.Dumper, 0, len(s.dbs))
	for _, db := range s.dbs {
		out = append(out, s.dbByID[db.ID()])
	}
	return out
}

func (s *Server) restoreSnapshot(ctx context.Context) error {
	s.safety.Loading = true
	defer func() { s.safety.Loading = false }()
	_, err := s.snapshots.Restore(ctx, s.cfg.Snapshot.Path, s.dumpers())
	return err
}

// SaveSnapshot dumps every database to the configured snapshot path.
func (s *Server) SaveSnapshot(ctx context.Context) error {
	return s.snapshots.Save(ctx, s.cfg.Snapshot.Path, s.appendLog.SequenceNumber(), s.dumpers())
}

// hzLoop is the periodic task from spec §4.6/§4.7: at the configured hz,
// drive the safety-wrapped eviction pass across every database.
func (s *Server) hzLoop() {
	interval := time.Second
	if s.cfg.Server.HZ > 0 {
		interval = time.Duration(1000/s.cfg.Server.HZ) * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.close:
			return
		case <-ticker.C:
			if _, err := s.evictCtx.TryFreeMemorySafely(s.safety, s.dbs); err != nil {
				s.logger.Debug("eviction pass declined", zap.Error(err))
			}
		}
	}
}

func (s *Server) exportStats() {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Monitoring.MetricsPath, s.Metrics)
	addr := fmt.Sprintf(":%d", s.cfg.Monitoring.MetricsPort)
	srv := &http.Server{Addr: addr, Handler: mux}
	s.logger.Info("starting metrics server", zap.String("address", addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.logger.Warn("metrics server stopped", zap.Error(err))
	}
}

// Stop halts the hz task, the clock refresh and the background-free
// worker, and closes the collaborators that own a file handle or network
// connection. The metrics HTTP server started by Start is not shut down.
// A failure to sync the stdout logger is not reported as an error.
func (s *Server) Stop() error {
	if !s.isLive.CompareAndSwap(true, false) {
		return nil
	}
	close(s.close)
	s.clock.Stop()
	s.bgWorker.Stop()
	if s.replicas != nil {
		s.replicas.Close()
	}
	if err := s.appendLog.Close(); err != nil {
		return fmt.Errorf("server: close append log: %w", err)
	}
	// Syncing a logger that writes to stdout fails with EINVAL whenever
	// stdout is a pipe or terminal, so that error is dropped.
	_ = s.logger.Sync()
	return nil
}

// Stats returns a snapshot of the evicted-key counter and per-connection
// counters, the data the Metrics endpoint serializes.
func (s *Server) Stats() (evictedKeys uint64, info ServerInfoMetaData) {
	return atomic.LoadUint64(&s.evictCtx.Stats.EvictedKeys), s.stats.Snapshot()
}
