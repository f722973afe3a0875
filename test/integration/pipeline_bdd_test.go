//go:build integration

package integration

import (
	"bufio"
	"context"
	"net"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/screenmon/agent/internal/aggregate"
	"github.com/screenmon/agent/internal/domain"
	"github.com/screenmon/agent/internal/ingest"
	"github.com/screenmon/agent/internal/ipc"
	"github.com/screenmon/agent/internal/storage"
	"github.com/screenmon/agent/internal/telemetry"
	"github.com/screenmon/agent/internal/tracker"
)

// stubProvider returns a scripted sequence of process snapshots.
type stubProvider struct {
	snapshots [][]domain.ProcessInfo
	index     int
}

func (s *stubProvider) Snapshot(context.Context) ([]domain.ProcessInfo, error) {
	if s.index >= len(s.snapshots) {
		return s.snapshots[len(s.snapshots)-1], nil
	}
	snap := s.snapshots[s.index]
	s.index++
	return snap, nil
}

var _ = Describe("Activity Pipeline", func() {
	var (
		tmpDir string
		store  *storage.Store
		logger *zap.Logger
	)

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "screenmon-integration-*")
		Expect(err).NotTo(HaveOccurred())

		logger = zap.NewNop()
		store, err = storage.New(tmpDir, []byte("integration-key"), logger)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		store.Close()
		os.RemoveAll(tmpDir)
	})

	Describe("Focus tracking through the pipeline", func() {
		It("persists closed sessions on flush", func() {
			collector := ingest.NewCollector(ingest.Config{
				QueueCapacity:        100,
				EnqueueTimeout:       time.Second,
				FlushInterval:        time.Hour,
				RetentionDays:        90,
				ShutdownFlushTimeout: 5 * time.Second,
			}, store, telemetry.Nop{}, logger)

			fg := tracker.NewForeground(collector, logger)
			fg.SetDebounceWindow(0)

			base := time.Now().UTC().Add(-time.Hour)
			fg.HandleEvent(domain.FocusEvent{AppName: "chrome", WindowTitle: "inbox", ProcessID: 1, Timestamp: base})
			fg.HandleEvent(domain.FocusEvent{AppName: "slack", WindowTitle: "general", ProcessID: 2, Timestamp: base.Add(time.Minute)})
			fg.Close()

			collector.Flush(context.Background())

			sessions, err := store.SessionsByDate(context.Background(), base)
			Expect(err).NotTo(HaveOccurred())
			Expect(len(sessions)).To(BeNumerically(">=", 1))
			Expect(sessions[0].AppName).To(Equal("chrome"))
			Expect(sessions[0].DurationMs).To(Equal(int64(60000)))
		})
	})

	Describe("Process tracking", func() {
		It("records a session when a tracked process disappears", func() {
			collector := ingest.NewCollector(ingest.Config{
				QueueCapacity:        100,
				EnqueueTimeout:       time.Second,
				FlushInterval:        time.Hour,
				RetentionDays:        90,
				ShutdownFlushTimeout: 5 * time.Second,
			}, store, telemetry.Nop{}, logger)

			editor := domain.ProcessInfo{PID: 100, Name: "editor", HasVisibleWindow: true}
			provider := &stubProvider{snapshots: [][]domain.ProcessInfo{
				{editor},
				{editor},
				{},
			}}

			bg := tracker.NewBackground(provider, store, collector, logger)
			bg.Scan(context.Background())
			Expect(bg.TrackedCount()).To(Equal(1))

			time.Sleep(50 * time.Millisecond)
			bg.Scan(context.Background())

			bg.Scan(context.Background())
			Expect(bg.TrackedCount()).To(Equal(0))

			collector.Flush(context.Background())

			total, err := store.HistoricalTotal(context.Background(), "editor")
			Expect(err).NotTo(HaveOccurred())
			Expect(total).To(BeNumerically(">", 0))
		})
	})

	Describe("UI socket", func() {
		var (
			socketPath string
			broker     *ipc.Broker
			cancel     context.CancelFunc
		)

		BeforeEach(func() {
			socketPath = filepath.Join(tmpDir, "ui.sock")

			collector := ingest.NewCollector(ingest.DefaultConfig(), store, telemetry.Nop{}, logger)
			editor := domain.ProcessInfo{PID: 100, Name: "editor", HasVisibleWindow: true}
			provider := &stubProvider{snapshots: [][]domain.ProcessInfo{{editor}}}
			bg := tracker.NewBackground(provider, store, collector, logger)
			bg.Scan(context.Background())

			broker = ipc.NewBroker(socketPath, bg, telemetry.Nop{}, logger)

			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())
			go broker.Run(ctx)

			Eventually(func() error {
				conn, err := net.Dial("unix", socketPath)
				if err == nil {
					conn.Close()
				}
				return err
			}, time.Second, 10*time.Millisecond).Should(Succeed())
		})

		AfterEach(func() {
			cancel()
		})

		It("answers PING and serves the live snapshot", func() {
			conn, err := net.Dial("unix", socketPath)
			Expect(err).NotTo(HaveOccurred())
			defer conn.Close()

			reader := bufio.NewReader(conn)
			conn.SetDeadline(time.Now().Add(2 * time.Second))

			_, err = conn.Write([]byte("PING\n"))
			Expect(err).NotTo(HaveOccurred())
			line, err := reader.ReadString('\n')
			Expect(err).NotTo(HaveOccurred())
			Expect(line).To(Equal("PONG\n"))

			_, err = conn.Write([]byte("UI_CONNECTED\n"))
			Expect(err).NotTo(HaveOccurred())
			line, err = reader.ReadString('\n')
			Expect(err).NotTo(HaveOccurred())
			Expect(line).To(Equal("OK\n"))

			_, err = conn.Write([]byte("GET_RUNNING_APPS\n"))
			Expect(err).NotTo(HaveOccurred())
			buf := make([]byte, 4096)
			n, err := reader.Read(buf)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(buf[:n])).To(ContainSubstring("editor|"))
		})
	})

	Describe("Daily aggregation", func() {
		It("merges overlapping sessions into summaries", func() {
			day := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)
			insert := func(app string, startMin, endMin int) {
				start := day.Add(time.Duration(startMin) * time.Minute)
				end := day.Add(time.Duration(endMin) * time.Minute)
				sess := &domain.UsageSession{
					AppName:    app,
					Start:      start,
					End:        &end,
					DurationMs: end.Sub(start).Milliseconds(),
					CreatedAt:  end,
				}
				Expect(store.CreateSession(context.Background(), sess)).To(Succeed())
			}

			insert("chrome", 540, 550) // 09:00-09:10
			insert("chrome", 545, 560) // 09:05-09:20, overlaps
			insert("chrome", 565, 570) // 09:25-09:30, separate

			aggregator := aggregate.NewAggregator(store, store, logger)
			summaries, err := aggregator.AggregateDay(context.Background(), day)
			Expect(err).NotTo(HaveOccurred())
			Expect(summaries).To(HaveLen(1))
			Expect(summaries[0].TotalUsageMs).To(Equal(int64(1500000)))
			Expect(summaries[0].UsageCount).To(Equal(2))

			// re-running replaces, not duplicates
			_, err = aggregator.AggregateDay(context.Background(), day)
			Expect(err).NotTo(HaveOccurred())
			stored, err := store.SummariesByDate(context.Background(), day)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored).To(HaveLen(1))
		})
	})
})
