// Package daemon ties the stores, the engine client and the scheduler
// together into the long-running core process.
package daemon

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ahmed-tasaly/ghermez/internal/config"
	"github.com/ahmed-tasaly/ghermez/internal/engine"
	"github.com/ahmed-tasaly/ghermez/internal/queue"
	"github.com/ahmed-tasaly/ghermez/internal/status"
	"github.com/ahmed-tasaly/ghermez/internal/store"
	"github.com/ahmed-tasaly/ghermez/pkg/logger"
)

// Timestamps stored with download rows.
const dateFormat = "2006/01/02 , 15:04:05"

// Engine is the full engine surface the daemon drives.
type Engine interface {
	queue.Engine
	AddURI(ctx context.Context, uris []string, opts engine.Options) (string, error)
	TellActive(ctx context.Context) ([]engine.RawStatus, error)
}

// Daemon owns the periodic loops: scheduler evaluation, status
// polling and plugin-queue draining.
type Daemon struct {
	cfg     *config.Settings
	store   *store.Store
	session *store.SessionStore
	plugins *store.PluginsStore
	engine  Engine
	sched   *queue.Scheduler
	log     logger.Logger

	pollInterval  time.Duration
	drainInterval time.Duration
	now           func() time.Time
	stop          context.CancelFunc
}

// Options configures a Daemon. Zero intervals fall back to defaults.
type Options struct {
	Config        *config.Settings
	Store         *store.Store
	Session       *store.SessionStore
	Plugins       *store.PluginsStore
	Engine        Engine
	Log           logger.Logger
	TickInterval  time.Duration
	PollInterval  time.Duration
	DrainInterval time.Duration
}

func New(opts Options) *Daemon {
	if opts.Log == nil {
		opts.Log = logger.NewNopLogger()
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.DrainInterval <= 0 {
		opts.DrainInterval = 2 * time.Second
	}
	sched := queue.New(opts.Store, opts.Engine, opts.Log, opts.TickInterval)
	if opts.Session != nil {
		sched.SetSession(opts.Session)
	}
	return &Daemon{
		cfg:           opts.Config,
		store:         opts.Store,
		session:       opts.Session,
		plugins:       opts.Plugins,
		engine:        opts.Engine,
		sched:         sched,
		log:           opts.Log,
		pollInterval:  opts.PollInterval,
		drainInterval: opts.DrainInterval,
		now:           time.Now,
	}
}

// Run drives all loops until ctx is cancelled, then returns once every
// loop has stopped.
func (d *Daemon) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	d.stop = cancel

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return d.sched.Run(ctx)
	})
	g.Go(func() error {
		return d.loop(ctx, d.pollInterval, d.pollOnce)
	})
	g.Go(func() error {
		return d.loop(ctx, d.drainInterval, d.drainOnce)
	})

	err := g.Wait()
	if err == context.Canceled {
		return nil
	}
	return err
}

func (d *Daemon) loop(ctx context.Context, interval time.Duration, fn func(context.Context)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// pollOnce pulls the engine's active downloads, normalizes them and
// writes the derived fields back to the store.
func (d *Daemon) pollOnce(ctx context.Context) {
	raws, err := d.engine.TellActive(ctx)
	if err != nil {
		d.log.Warning("daemon: poll active downloads: %v", err)
		return
	}

	var patches []store.DownloadPatch
	for _, raw := range raws {
		st, err := status.Translate(raw)
		if err != nil {
			d.log.Error("daemon: translate status for %s: %v", raw.GID, err)
			continue
		}
		patches = append(patches, d.patchFor(st))
		d.trackCompletion(st)
	}
	if len(patches) > 0 {
		if err := d.store.UpdateDownloads(patches); err != nil {
			d.log.Error("daemon: update downloads: %v", err)
		}
	}
	d.applyOneShotWindows(ctx)
	d.checkSessionShutdown()
}

// applyOneShotWindows enforces per-download start and end times
// recorded on link requests: unpause at the start instant, pause once
// the end passes. Each side is cleared after it fires so it cannot
// trigger again on a later day.
func (d *Daemon) applyOneShotWindows(ctx context.Context) {
	reqs, err := d.store.LinkRequests()
	if err != nil {
		d.log.Error("daemon: list link requests: %v", err)
		return
	}
	for gid, req := range reqs {
		if req.StartTime == nil && req.EndTime == nil {
			continue
		}
		var win queue.Window
		if req.StartTime != nil {
			win.StartEnabled, win.Start = true, *req.StartTime
		}
		if req.EndTime != nil {
			win.EndEnabled, win.End = true, *req.EndTime
		}
		state, err := win.Evaluate(d.now())
		if err != nil {
			d.log.Error("daemon: window for %s: %v", gid, err)
			continue
		}
		dl, ok, err := d.store.Download(gid)
		if err != nil {
			d.log.Error("daemon: load download %s: %v", gid, err)
			continue
		}
		if !ok {
			continue
		}
		switch state {
		case queue.StateActive:
			if req.StartTime == nil {
				continue
			}
			switch dl.Status {
			case "paused", "waiting", "scheduled", "stopped":
				if err := d.engine.Unpause(ctx, gid); err != nil {
					d.log.Warning("daemon: start %s: %v", gid, err)
					continue
				}
			}
			if err := d.store.ClearOneShot(gid, true, false, false); err != nil {
				d.log.Error("daemon: clear start time for %s: %v", gid, err)
			}
		case queue.StateExpired:
			switch dl.Status {
			case "downloading", "waiting":
				if err := d.engine.Pause(ctx, gid); err != nil {
					d.log.Warning("daemon: stop %s: %v", gid, err)
					continue
				}
			}
			if err := d.store.ClearOneShot(gid, true, true, false); err != nil {
				d.log.Error("daemon: clear window for %s: %v", gid, err)
			}
		}
	}
}

// checkSessionShutdown stops the daemon once every task that armed an
// after-download shutdown this session has completed.
func (d *Daemon) checkSessionShutdown() {
	if d.session == nil || d.stop == nil {
		return
	}
	ok, err := d.session.ShutdownSatisfied()
	if err != nil {
		d.log.Error("daemon: session shutdown check: %v", err)
		return
	}
	if ok {
		d.log.Info("daemon: armed downloads finished, shutting down")
		d.stop()
	}
}

func (d *Daemon) patchFor(st status.Status) store.DownloadPatch {
	lastTry := d.now().Format(dateFormat)
	p := store.DownloadPatch{
		GID:              st.GID,
		Status:           &st.Status,
		FileName:         st.FileName,
		Size:             st.Size,
		DownloadedSize:   st.DownloadedSize,
		Percent:          st.Percent,
		Connections:      st.Connections,
		Rate:             &st.Rate,
		EstimateTimeLeft: st.ETA,
		Link:             st.Link,
		LastTryDate:      &lastTry,
	}
	return p
}

// trackCompletion flips the matching side of a video-audio pair when
// one of its streams finishes, and updates the session status.
func (d *Daemon) trackCompletion(st status.Status) {
	if d.session != nil {
		done := st.Status
		if err := d.session.UpdateTask(st.GID, &done, nil); err != nil {
			d.log.Warning("daemon: session status for %s: %v", st.GID, err)
		}
	}
	if st.Status != status.Complete {
		return
	}
	d.armOneShotShutdown(st.GID)
	pair, ok, err := d.store.PairByGID(st.GID)
	if err != nil {
		d.log.Error("daemon: pair lookup for %s: %v", st.GID, err)
		return
	}
	if !ok {
		return
	}
	completed := true
	patch := store.VideoAudioPatch{VideoGID: pair.VideoGID}
	if pair.VideoGID == st.GID {
		patch.VideoCompleted = &completed
	} else {
		patch.AudioCompleted = &completed
	}
	if err := d.store.UpdateVideoAudioPairs([]store.VideoAudioPatch{patch}); err != nil {
		d.log.Error("daemon: update pair for %s: %v", st.GID, err)
	}
}

// armOneShotShutdown moves a finished download's one-shot
// after-download action into the session store and clears it so it
// cannot fire again on a later run.
func (d *Daemon) armOneShotShutdown(gid string) {
	req, ok, err := d.store.LinkRequestByGID(gid)
	if err != nil {
		d.log.Error("daemon: link request for %s: %v", gid, err)
		return
	}
	if !ok || req.AfterDownload == nil || *req.AfterDownload != queue.AfterDownloadShutdown {
		return
	}
	if d.session != nil {
		if err := d.session.AddTask(gid); err != nil {
			d.log.Warning("daemon: session task %s: %v", gid, err)
		}
		done := status.Complete
		marker := queue.AfterDownloadShutdown
		if err := d.session.UpdateTask(gid, &done, &marker); err != nil {
			d.log.Warning("daemon: session marker for %s: %v", gid, err)
		}
	}
	if err := d.store.ClearOneShot(gid, false, false, true); err != nil {
		d.log.Error("daemon: clear one-shot action for %s: %v", gid, err)
	}
}

// drainOnce hands queued browser-plugin submissions to the engine and
// records the resulting downloads.
func (d *Daemon) drainOnce(ctx context.Context) {
	links, err := d.plugins.DrainNew()
	if err != nil {
		d.log.Error("daemon: drain plugin queue: %v", err)
		return
	}

	for _, l := range links {
		dir := d.downloadDir(l.Out)
		opts := engine.Options{"dir": dir}
		if l.Out != "" {
			opts["out"] = l.Out
		}
		if l.Referer != "" {
			opts["referer"] = l.Referer
		}
		if l.UserAgent != "" {
			opts["user-agent"] = l.UserAgent
		}
		if l.Header != "" {
			opts["header"] = l.Header
		}
		if l.LoadCookies != "" {
			opts["load-cookies"] = l.LoadCookies
		}

		gid, err := d.engine.AddURI(ctx, []string{l.Link}, opts)
		if err != nil {
			d.log.Warning("daemon: submit %s: %v", l.Link, err)
			continue
		}

		now := d.now().Format(dateFormat)
		if err := d.store.InsertDownloads([]store.Download{{
			GID:          gid,
			Status:       "waiting",
			Rate:         "0",
			Link:         l.Link,
			FirstTryDate: now,
			LastTryDate:  now,
			Category:     store.CategorySingle,
		}}); err != nil {
			d.log.Error("daemon: record download %s: %v", gid, err)
			continue
		}
		if err := d.store.InsertLinkRequests([]store.LinkRequest{{
			GID:          gid,
			Out:          l.Out,
			Link:         l.Link,
			Referer:      l.Referer,
			LoadCookies:  l.LoadCookies,
			UserAgent:    l.UserAgent,
			Header:       l.Header,
			DownloadPath: dir,
		}}); err != nil {
			d.log.Error("daemon: record link request %s: %v", gid, err)
		}
		if d.session != nil {
			if err := d.session.AddTask(gid); err != nil {
				d.log.Warning("daemon: session task %s: %v", gid, err)
			}
		}
	}
}

func (d *Daemon) downloadDir(fileName string) string {
	base := d.cfg.Get(config.KeyDownloadPath)
	return DownloadPathFor(fileName, base, d.cfg.Bool(config.KeySubfolder))
}

// Shutdown stops the engine with a bounded wait so process exit never
// hangs on an in-flight RPC.
func (d *Daemon) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return d.engine.Shutdown(ctx)
}
