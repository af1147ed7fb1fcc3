package daemon

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/ahmed-tasaly/ghermez/internal/config"
	"github.com/ahmed-tasaly/ghermez/internal/engine"
	"github.com/ahmed-tasaly/ghermez/internal/store"
	"github.com/ahmed-tasaly/ghermez/pkg/logger"
)

type fakeEngine struct {
	mu       sync.Mutex
	active   []engine.RawStatus
	added    [][]string
	addOpts  []engine.Options
	paused   []string
	unpaused []string
	nextGID  int
}

func (f *fakeEngine) TellActive(context.Context) ([]engine.RawStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active, nil
}

func (f *fakeEngine) AddURI(_ context.Context, uris []string, opts engine.Options) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, uris)
	f.addOpts = append(f.addOpts, opts)
	f.nextGID++
	return "gid-" + string(rune('0'+f.nextGID)), nil
}

func (f *fakeEngine) Pause(_ context.Context, gid string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = append(f.paused, gid)
	return nil
}

func (f *fakeEngine) Unpause(_ context.Context, gid string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unpaused = append(f.unpaused, gid)
	return nil
}

func (f *fakeEngine) SetSpeedLimit(context.Context, string, string) error { return nil }

func (f *fakeEngine) Shutdown(context.Context) error { return nil }

func testDaemon(t *testing.T) (*Daemon, *store.Store, *fakeEngine) {
	t.Helper()

	st, err := store.Open(":memory:", logger.NewNopLogger())
	if err != nil {
		t.Fatalf("Open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	sess, err := store.OpenSession()
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	t.Cleanup(func() { sess.Close() })

	plugins, err := store.OpenPlugins(filepath.Join(t.TempDir(), "plugins.db"))
	if err != nil {
		t.Fatalf("OpenPlugins: %v", err)
	}
	t.Cleanup(func() { plugins.Close() })

	cfg, err := config.Load(afero.NewMemMapFs(), "/config/settings.json")
	if err != nil {
		t.Fatalf("Load config: %v", err)
	}

	eng := &fakeEngine{}
	d := New(Options{
		Config:  cfg,
		Store:   st,
		Session: sess,
		Plugins: plugins,
		Engine:  eng,
		Log:     logger.NewNopLogger(),
	})
	d.now = func() time.Time {
		return time.Date(2024, time.March, 15, 12, 0, 0, 0, time.UTC)
	}
	return d, st, eng
}

func TestPollOnceUpdatesStore(t *testing.T) {
	d, st, eng := testDaemon(t)

	if err := st.InsertDownloads([]store.Download{{
		GID:      "g1",
		Status:   "paused",
		Category: store.CategorySingle,
		Link:     "http://example.com/file.zip",
	}}); err != nil {
		t.Fatalf("InsertDownloads: %v", err)
	}
	eng.active = []engine.RawStatus{{
		GID:             "g1",
		Status:          "active",
		TotalLength:     "2048",
		CompletedLength: "1024",
		DownloadSpeed:   "1024",
		Connections:     "4",
		Files: []engine.RawFile{{
			Path: "/downloads/file.zip",
			URIs: []engine.RawURI{{URI: "http://example.com/file.zip"}},
		}},
	}}

	d.pollOnce(context.Background())

	got, ok, err := st.Download("g1")
	if err != nil || !ok {
		t.Fatalf("Download: ok=%v err=%v", ok, err)
	}
	if got.Status != "downloading" {
		t.Errorf("Status = %q, want downloading", got.Status)
	}
	if got.Percent != "50%" {
		t.Errorf("Percent = %q, want 50%%", got.Percent)
	}
	if got.Rate != "1 KiB/s" {
		t.Errorf("Rate = %q", got.Rate)
	}
	if got.LastTryDate != "2024/03/15 , 12:00:00" {
		t.Errorf("LastTryDate = %q", got.LastTryDate)
	}
	if got.Link != "http://example.com/file.zip" {
		t.Errorf("Link changed: %q", got.Link)
	}
}

func TestPollOnceConsumesOneShotShutdown(t *testing.T) {
	d, st, eng := testDaemon(t)

	if err := st.InsertDownloads([]store.Download{{
		GID:      "g1",
		Status:   "downloading",
		Category: store.CategorySingle,
	}}); err != nil {
		t.Fatalf("InsertDownloads: %v", err)
	}
	action := "shutdown"
	if err := st.InsertLinkRequests([]store.LinkRequest{{
		GID:           "g1",
		Link:          "http://example.com/file.zip",
		AfterDownload: &action,
	}}); err != nil {
		t.Fatalf("InsertLinkRequests: %v", err)
	}
	eng.active = []engine.RawStatus{{
		GID:             "g1",
		Status:          "complete",
		TotalLength:     "2048",
		CompletedLength: "2048",
		DownloadSpeed:   "0",
		Connections:     "0",
		Files:           []engine.RawFile{{Path: "/downloads/file.zip"}},
	}}

	stopped := false
	d.stop = func() { stopped = true }

	d.pollOnce(context.Background())

	if !stopped {
		t.Fatal("daemon kept running after the armed download completed")
	}
	req, ok, err := st.LinkRequestByGID("g1")
	if err != nil || !ok {
		t.Fatalf("LinkRequestByGID: ok=%v err=%v", ok, err)
	}
	if req.AfterDownload != nil {
		t.Errorf("one-shot action survived: %q", *req.AfterDownload)
	}

	ok, err = d.session.ShutdownSatisfied()
	if err != nil {
		t.Fatalf("ShutdownSatisfied: %v", err)
	}
	if !ok {
		t.Error("session marker not recorded for the finished download")
	}
}

func TestPollOnceFiresStartTime(t *testing.T) {
	d, st, eng := testDaemon(t)

	if err := st.InsertDownloads([]store.Download{{
		GID:      "g1",
		Status:   "paused",
		Category: store.CategorySingle,
	}}); err != nil {
		t.Fatalf("InsertDownloads: %v", err)
	}
	start := "08:00"
	if err := st.InsertLinkRequests([]store.LinkRequest{{
		GID:       "g1",
		Link:      "http://example.com/file.zip",
		StartTime: &start,
	}}); err != nil {
		t.Fatalf("InsertLinkRequests: %v", err)
	}

	// The daemon clock is fixed at 12:00, past the start instant.
	d.pollOnce(context.Background())

	if len(eng.unpaused) != 1 || eng.unpaused[0] != "g1" {
		t.Fatalf("unpaused = %v, want [g1]", eng.unpaused)
	}
	req, _, _ := st.LinkRequestByGID("g1")
	if req.StartTime != nil {
		t.Errorf("start time survived firing: %q", *req.StartTime)
	}

	d.pollOnce(context.Background())
	if len(eng.unpaused) != 1 {
		t.Errorf("start fired twice: %v", eng.unpaused)
	}
}

func TestPollOnceFiresEndTime(t *testing.T) {
	d, st, eng := testDaemon(t)

	if err := st.InsertDownloads([]store.Download{{
		GID:      "g1",
		Status:   "downloading",
		Category: store.CategorySingle,
	}}); err != nil {
		t.Fatalf("InsertDownloads: %v", err)
	}
	end := "11:00"
	if err := st.InsertLinkRequests([]store.LinkRequest{{
		GID:     "g1",
		Link:    "http://example.com/file.zip",
		EndTime: &end,
	}}); err != nil {
		t.Fatalf("InsertLinkRequests: %v", err)
	}

	d.pollOnce(context.Background())

	if len(eng.paused) != 1 || eng.paused[0] != "g1" {
		t.Fatalf("paused = %v, want [g1]", eng.paused)
	}
	req, _, _ := st.LinkRequestByGID("g1")
	if req.EndTime != nil {
		t.Errorf("end time survived firing: %q", *req.EndTime)
	}
}

func TestPollOnceTracksPairCompletion(t *testing.T) {
	d, st, eng := testDaemon(t)

	if err := st.InsertDownloads([]store.Download{
		{GID: "vid1", Status: "downloading", Category: store.CategorySingle},
		{GID: "aud1", Status: "downloading", Category: store.CategorySingle},
	}); err != nil {
		t.Fatalf("InsertDownloads: %v", err)
	}
	if err := st.InsertVideoAudioPairs([]store.VideoAudioPair{{
		VideoGID: "vid1", AudioGID: "aud1", MuxingStatus: "waiting",
	}}); err != nil {
		t.Fatalf("InsertVideoAudioPairs: %v", err)
	}
	eng.active = []engine.RawStatus{{
		GID:             "aud1",
		Status:          "complete",
		TotalLength:     "1024",
		CompletedLength: "1024",
		DownloadSpeed:   "0",
	}}

	d.pollOnce(context.Background())

	pair, ok, err := st.PairByGID("aud1")
	if err != nil || !ok {
		t.Fatalf("PairByGID: ok=%v err=%v", ok, err)
	}
	if !pair.AudioCompleted {
		t.Error("audio side not marked complete")
	}
	if pair.VideoCompleted {
		t.Error("video side wrongly marked complete")
	}
}

func TestDrainOnceSubmitsLinks(t *testing.T) {
	d, st, eng := testDaemon(t)

	if err := d.plugins.Add([]store.PluginLink{{
		Link:      "http://example.com/song.mp3",
		UserAgent: "Firefox",
		Out:       "song.mp3",
	}}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	d.drainOnce(context.Background())

	if len(eng.added) != 1 || eng.added[0][0] != "http://example.com/song.mp3" {
		t.Fatalf("AddURI calls = %v", eng.added)
	}
	opts := eng.addOpts[0]
	if opts["user-agent"] != "Firefox" {
		t.Errorf("user-agent option = %q", opts["user-agent"])
	}
	if filepath.Base(opts["dir"]) != "Audios" {
		t.Errorf("dir option = %q, want an Audios subfolder", opts["dir"])
	}

	items, err := st.Downloads(store.CategorySingle)
	if err != nil {
		t.Fatalf("Downloads: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("downloads recorded = %v", items)
	}
	for gid, item := range items {
		if item.Status != "waiting" {
			t.Errorf("recorded status = %q, want waiting", item.Status)
		}
		if _, ok, _ := st.LinkRequestByGID(gid); !ok {
			t.Error("link request not recorded")
		}
		active, err := d.session.ActiveGIDs()
		if err != nil {
			t.Fatalf("ActiveGIDs: %v", err)
		}
		if len(active) != 1 || active[0] != gid {
			t.Errorf("session tasks = %v", active)
		}
	}

	// Each submission is handed to the engine once.
	d.drainOnce(context.Background())
	if len(eng.added) != 1 {
		t.Errorf("resubmitted drained link: %v", eng.added)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	d, _, _ := testDaemon(t)
	d.pollInterval = 10 * time.Millisecond
	d.drainInterval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
