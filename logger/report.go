package logger

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// Package level run counters. They are cheap atomics bumped from the hot
// receive path and summarised periodically by StartReport.
var (
	warnCount      int64
	errorCount     int64
	retryCount     int64
	messagesRead   int64
	bytesRead      int64
	tradesRead     int64
	unparsedCount  int64
	duplicateCount int64
	components     sync.Map // map[string]*componentStat
)

type componentStat struct {
	warns  int64
	errors int64
}

func componentStatFor(component string) *componentStat {
	v, _ := components.LoadOrStore(component, &componentStat{})
	return v.(*componentStat)
}

func recordWarn(component string) {
	atomic.AddInt64(&warnCount, 1)
	atomic.AddInt64(&componentStatFor(component).warns, 1)
}

func recordError(component string) {
	atomic.AddInt64(&errorCount, 1)
	atomic.AddInt64(&componentStatFor(component).errors, 1)
}

// IncrementRetryCount records a reconnect attempt.
func IncrementRetryCount() {
	atomic.AddInt64(&retryCount, 1)
}

// IncrementMessageRead records one inbound payload of the given size.
func IncrementMessageRead(size int) {
	atomic.AddInt64(&messagesRead, 1)
	atomic.AddInt64(&bytesRead, int64(size))
}

// IncrementTradeRead records one accepted trade.
func IncrementTradeRead() {
	atomic.AddInt64(&tradesRead, 1)
}

// IncrementUnparsed records a payload that failed every classifier path.
func IncrementUnparsed() {
	atomic.AddInt64(&unparsedCount, 1)
}

// IncrementDuplicateTrade records a rejected duplicate trade.
func IncrementDuplicateTrade() {
	atomic.AddInt64(&duplicateCount, 1)
}

// reportMetricData snapshots the run counters as CloudWatch metric data:
// one datum per counter plus warn/error data dimensioned by component.
func reportMetricData(heapMB, goroutines float64) []cwtypes.MetricDatum {
	data := []cwtypes.MetricDatum{
		{MetricName: aws.String("MessagesRead"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&messagesRead)))},
		{MetricName: aws.String("BytesRead"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(atomic.LoadInt64(&bytesRead)))},
		{MetricName: aws.String("TradesRead"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&tradesRead)))},
		{MetricName: aws.String("Reconnects"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&retryCount)))},
		{MetricName: aws.String("UnparsedMessages"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&unparsedCount)))},
		{MetricName: aws.String("DuplicateTrades"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&duplicateCount)))},
		{MetricName: aws.String("HeapMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(heapMB)},
		{MetricName: aws.String("Goroutines"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(goroutines)},
	}

	components.Range(func(key, value interface{}) bool {
		name := key.(string)
		stat := value.(*componentStat)
		dims := []cwtypes.Dimension{{Name: aws.String("Component"), Value: aws.String(name)}}
		data = append(data,
			cwtypes.MetricDatum{
				MetricName: aws.String("Warns"),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: dims,
				Value:      aws.Float64(float64(atomic.LoadInt64(&stat.warns))),
			},
			cwtypes.MetricDatum{
				MetricName: aws.String("Errors"),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: dims,
				Value:      aws.Float64(float64(atomic.LoadInt64(&stat.errors))),
			},
		)
		return true
	})

	return data
}

// StartReport launches a goroutine that periodically logs a run summary and
// mirrors the counters to CloudWatch until the context is cancelled.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				var mem runtime.MemStats
				runtime.ReadMemStats(&mem)
				heapMB := float64(mem.HeapAlloc) / 1024 / 1024
				goroutines := runtime.NumGoroutine()
				log.WithComponent("report").WithFields(Fields{
					"messages":   atomic.LoadInt64(&messagesRead),
					"bytes":      atomic.LoadInt64(&bytesRead),
					"trades":     atomic.LoadInt64(&tradesRead),
					"retries":    atomic.LoadInt64(&retryCount),
					"unparsed":   atomic.LoadInt64(&unparsedCount),
					"duplicates": atomic.LoadInt64(&duplicateCount),
					"warns":      atomic.LoadInt64(&warnCount),
					"errors":     atomic.LoadInt64(&errorCount),
					"goroutines": goroutines,
					"heap_mb":    uint64(heapMB),
				}).Info("run summary")

				publishMetrics(ctx, reportMetricData(heapMB, float64(goroutines)))
			}
		}
	}()
}
