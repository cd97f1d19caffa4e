// Command streamview demonstrates the engine end to end: it generates a
// bolt store with a synthetic signal, then serves a fixed-range summary
// and a live tail over it, printing what a plotting host would render.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/c360/streamview/config"
	"github.com/c360/streamview/data"
	"github.com/c360/streamview/metric"
	"github.com/c360/streamview/store"
	"github.com/c360/streamview/summarize"
	"github.com/c360/streamview/types"
)

func main() {
	if err := run(); err != nil {
		slog.Error("streamview failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		storePath   = flag.String("store", "", "bolt store path (default: temp file, regenerated)")
		configPath  = flag.String("config", "", "engine config YAML (default: built-in defaults)")
		metricsAddr = flag.String("metrics", "", "address to expose Prometheus metrics on (optional)")
		duration    = flag.Duration("duration", 30*time.Second, "length of the generated signal")
	)
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(log)

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	path := *storePath
	if path == "" {
		path = filepath.Join(os.TempDir(), "streamview-demo.db")
		os.Remove(path)
	}

	start := time.Now().UTC().Add(-*duration)
	bolt, err := generate(path, start, *duration)
	if err != nil {
		return err
	}
	defer bolt.Close()

	reg := data.NewRegistry()
	if err := data.RegisterDecoder(reg, "int", func(rec store.Record) (int, error) {
		return strconv.Atoi(string(rec.Payload))
	}); err != nil {
		return err
	}
	if err := data.RegisterSummarizer[int](reg, "range", summarize.RangeSummarizer[int]{}); err != nil {
		return err
	}

	metrics := metric.NewMetricsRegistry()
	if *metricsAddr != "" {
		go func() {
			if err := http.ListenAndServe(*metricsAddr, metrics.Handler()); err != nil {
				log.Error("metrics endpoint failed", "error", err)
			}
		}()
	}

	manager, err := data.NewManager(bolt, reg,
		data.WithConfig(cfg),
		data.WithLogger(log),
		data.WithMetrics(metrics),
	)
	if err != nil {
		return err
	}
	defer manager.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := manager.Start(ctx); err != nil {
		return err
	}

	b := types.StreamBinding{
		StoreName:      "demo",
		StorePath:      path,
		StreamName:     "signal",
		ReaderType:     "int",
		SummarizerType: "range",
	}

	full := types.NewTimeRange(start, start.Add(*duration))
	summary, err := data.ReadSummary[int](manager, b, full, time.Second)
	if err != nil {
		return err
	}
	defer summary.Close()

	tail, err := data.ReadStreamTailCount[int](manager, b, 5)
	if err != nil {
		return err
	}
	defer tail.Close()

	cancelObserver := summary.OnChange(func() {
		buckets := summary.Items()
		if len(buckets) == 0 {
			return
		}
		last := buckets[len(buckets)-1]
		fmt.Printf("summary: %d buckets, latest [min=%d max=%d value=%d @ %s]\n",
			len(buckets), last.Minimum, last.Maximum, last.Value,
			last.OriginatingTime.Format(time.TimeOnly))
	})
	defer cancelObserver()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("shutting down")
			return nil
		case <-ticker.C:
			msgs := tail.Items()
			vals := make([]int, len(msgs))
			for i, msg := range msgs {
				vals[i] = msg.Data
			}
			fmt.Printf("tail: %v\n", vals)
		}
	}
}

// generate writes a sine signal sampled at 50ms into a fresh bolt store.
func generate(path string, start time.Time, duration time.Duration) (*store.BoltStore, error) {
	bolt, err := store.OpenBolt("demo", path)
	if err != nil {
		return nil, err
	}

	step := 50 * time.Millisecond
	seq := 0
	for at := start; at.Before(start.Add(duration)); at = at.Add(step) {
		phase := float64(at.Sub(start)) / float64(time.Second)
		value := int(math.Round(1000 * math.Sin(phase/3)))
		rec := store.Record{
			OriginatingTime: at,
			CreationTime:    at,
			SequenceID:      seq,
			Payload:         []byte(strconv.Itoa(value)),
		}
		if err := bolt.Append("signal", rec); err != nil {
			bolt.Close()
			return nil, err
		}
		seq++
	}
	return bolt, nil
}
