package testutils

import (
	"runtime"
	"testing"
)

// BenchmarkRecorder 基准测试记录器
// 在基准循环前后采集内存快照, 统一汇报堆增量和领域吞吐指标
type BenchmarkRecorder struct {
	b      *testing.B
	before runtime.MemStats
	items  map[string]float64
}

// NewBenchmarkRecorder 创建基准测试记录器
func NewBenchmarkRecorder(b *testing.B) *BenchmarkRecorder {
	return &BenchmarkRecorder{
		b:     b,
		items: make(map[string]float64),
	}
}

// Start 采集起始内存快照并重置计时器
func (r *BenchmarkRecorder) Start() {
	runtime.GC()
	runtime.ReadMemStats(&r.before)
	r.b.ResetTimer()
}

// AddItems 累计领域工作量(模拟周期数、成交笔数等)
// Stop 时折算为每次操作的平均吞吐上报
func (r *BenchmarkRecorder) AddItems(name string, count int) {
	r.items[name] += float64(count)
}

// Stop 停表并汇报堆增量与平均吞吐
func (r *BenchmarkRecorder) Stop() {
	r.b.StopTimer()

	var after runtime.MemStats
	runtime.ReadMemStats(&after)

	n := float64(r.b.N)
	r.b.ReportMetric(float64(after.TotalAlloc-r.before.TotalAlloc)/n, "heap-B/op")
	r.b.ReportMetric(float64(after.NumGC-r.before.NumGC), "gc-runs")
	for name, total := range r.items {
		r.b.ReportMetric(total/n, name)
	}
}
