package logger

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	gnet "github.com/shirou/gopsutil/v3/net"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

type channelStat struct {
	messages int64
	bytes    int64
}

var (
	errorsQuote int64
	errorsFlow  int64
	warnsQuote  int64
	warnsFlow   int64
	quoteReads  int64
	flowReads   int64
	cacheHits   int64
	cacheMisses int64
	s3Writes    int64
	channels    sync.Map // map[string]*channelStat
)

// components whose names mention "tencent" or "quote" count against the
// quote pipeline, "eastmoney" against fund flow.
func recordWarn(component string) {
	switch {
	case strings.Contains(component, "tencent"), strings.Contains(component, "quote"):
		atomic.AddInt64(&warnsQuote, 1)
	case strings.Contains(component, "eastmoney"):
		atomic.AddInt64(&warnsFlow, 1)
	}
}

func recordError(component string) {
	switch {
	case strings.Contains(component, "tencent"), strings.Contains(component, "quote"):
		atomic.AddInt64(&errorsQuote, 1)
	case strings.Contains(component, "eastmoney"):
		atomic.AddInt64(&errorsFlow, 1)
	}
}

func IncrementQuoteRead(size int) {
	atomic.AddInt64(&quoteReads, 1)
	recordChannel("tencent_rest", size)
}

func IncrementFundFlowRead(size int) {
	atomic.AddInt64(&flowReads, 1)
	recordChannel("eastmoney_rest", size)
}

func IncrementCacheHit() {
	atomic.AddInt64(&cacheHits, 1)
}

func IncrementCacheMiss() {
	atomic.AddInt64(&cacheMisses, 1)
}

func IncrementS3Write(size int64) {
	atomic.AddInt64(&s3Writes, 1)
	recordChannel("s3_quote_write", int(size))
}

func RecordChannelMessage(name string, size int) {
	recordChannel(name, size)
}

func recordChannel(name string, size int) {
	v, _ := channels.LoadOrStore(name, &channelStat{})
	cs := v.(*channelStat)
	atomic.AddInt64(&cs.messages, 1)
	atomic.AddInt64(&cs.bytes, int64(size))
}

// Counters returns a snapshot of the pipeline counters.
func Counters() map[string]int64 {
	return map[string]int64{
		"errors_quote": atomic.LoadInt64(&errorsQuote),
		"errors_flow":  atomic.LoadInt64(&errorsFlow),
		"warns_quote":  atomic.LoadInt64(&warnsQuote),
		"warns_flow":   atomic.LoadInt64(&warnsFlow),
		"quote_reads":  atomic.LoadInt64(&quoteReads),
		"flow_reads":   atomic.LoadInt64(&flowReads),
		"cache_hits":   atomic.LoadInt64(&cacheHits),
		"cache_misses": atomic.LoadInt64(&cacheMisses),
		"s3_writes":    atomic.LoadInt64(&s3Writes),
	}
}

// StartReport begins periodic logging of system and channel statistics.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

func logReport(ctx context.Context, log *Log) {
	cpuPercent, _ := cpu.Percent(0, false)
	netStats, _ := gnet.IOCounters(false)

	var memUsed, diskUsed uint64
	if memStats, err := mem.VirtualMemory(); err == nil {
		memUsed = memStats.Used
	}
	if diskStats, err := disk.Usage("/"); err == nil {
		diskUsed = diskStats.Used
	}

	channelData := map[string]map[string]int64{}
	channels.Range(func(k, v any) bool {
		cs := v.(*channelStat)
		channelData[k.(string)] = map[string]int64{
			"messages": atomic.LoadInt64(&cs.messages),
			"bytes":    atomic.LoadInt64(&cs.bytes),
		}
		return true
	})

	cpuPct := 0.0
	if len(cpuPercent) > 0 {
		cpuPct = cpuPercent[0]
	}

	var bytesSent, bytesRecv uint64
	if len(netStats) > 0 {
		bytesSent = netStats[0].BytesSent
		bytesRecv = netStats[0].BytesRecv
	}

	counters := Counters()
	fields := Fields{
		"goroutines":     runtime.NumGoroutine(),
		"cpu_percent":    cpuPct,
		"memory_mb":      int64(memUsed) / 1024 / 1024,
		"disk_mb":        int64(diskUsed) / 1024 / 1024,
		"channels":       channelData,
		"net_bytes_sent": int64(bytesSent),
		"net_bytes_recv": int64(bytesRecv),
	}
	for k, v := range counters {
		fields[k] = v
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	data := []cwtypes.MetricDatum{
		{MetricName: aws.String("CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		{MetricName: aws.String("MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(memUsed) / 1024 / 1024)},
		{MetricName: aws.String("DiskMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(diskUsed) / 1024 / 1024)},
		{MetricName: aws.String("NetBytesSent"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesSent))},
		{MetricName: aws.String("NetBytesRecv"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesRecv))},
	}
	for name, value := range counters {
		data = append(data, cwtypes.MetricDatum{
			MetricName: aws.String(metricName(name)),
			Unit:       cwtypes.StandardUnitCount,
			Value:      aws.Float64(float64(value)),
		})
	}

	for name, stats := range channelData {
		data = append(data,
			cwtypes.MetricDatum{
				MetricName: aws.String("ChannelMessages"),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["messages"])),
			},
			cwtypes.MetricDatum{
				MetricName: aws.String("ChannelBytes"),
				Unit:       cwtypes.StandardUnitBytes,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["bytes"])),
			},
		)
	}

	publishMetrics(ctx, data)
}

// metricName turns "cache_hits" into "CacheHits".
func metricName(counter string) string {
	parts := strings.Split(counter, "_")
	for i, p := range parts {
		if p != "" {
			parts[i] = strings.ToUpper(p[:1]) + p[1:]
		}
	}
	return strings.Join(parts, "")
}
