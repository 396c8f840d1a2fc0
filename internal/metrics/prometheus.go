package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ChatDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orgai_chat_duration_seconds",
			Help:    "Chat request processing duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"category"},
	)

	ChatRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orgai_chat_requests_total",
			Help: "Total number of chat requests processed",
		},
		[]string{"mode", "status"},
	)

	ClassificationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orgai_classification_total",
			Help: "Queries routed per category",
		},
		[]string{"mode", "category"},
	)

	CorpusSearchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orgai_corpus_search_duration_seconds",
			Help:    "Corpus search duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"source"},
	)

	CorpusResultsCount = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orgai_corpus_results_count",
			Help:    "Number of results above threshold per search",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
		},
		[]string{"source"},
	)

	SafetyGateVerdicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orgai_sql_gate_verdicts_total",
			Help: "SQL safety gate verdicts",
		},
		[]string{"verdict"},
	)

	SQLExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orgai_sql_executions_total",
			Help: "Statements executed against a data backend",
		},
		[]string{"backend", "status"},
	)

	LLMRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orgai_llm_requests_total",
			Help: "Total LLM completion requests",
		},
		[]string{"model", "status"},
	)

	LLMDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orgai_llm_duration_seconds",
			Help:    "LLM completion latency in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"model"},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orgai_llm_tokens_used",
			Help: "Total LLM tokens used",
		},
		[]string{"model", "type"},
	)

	SourceRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orgai_source_refreshes_total",
			Help: "Corpus source loads by outcome",
		},
		[]string{"source", "result"},
	)

	ResponsesCompressed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orgai_responses_compressed_total",
			Help: "Responses returned gzip+base64 encoded",
		},
	)

	DocumentsLoaded = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "orgai_documents_loaded",
			Help: "Documentation files currently indexed",
		},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orgai_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orgai_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	RateLimited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orgai_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		},
		[]string{"path"},
	)
)

var initOnce sync.Once

func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(ChatDuration)
		prometheus.MustRegister(ChatRequests)
		prometheus.MustRegister(ClassificationTotal)
		prometheus.MustRegister(CorpusSearchDuration)
		prometheus.MustRegister(CorpusResultsCount)
		prometheus.MustRegister(SafetyGateVerdicts)
		prometheus.MustRegister(SQLExecutions)
		prometheus.MustRegister(LLMRequests)
		prometheus.MustRegister(LLMDuration)
		prometheus.MustRegister(LLMTokensUsed)
		prometheus.MustRegister(SourceRefreshes)
		prometheus.MustRegister(ResponsesCompressed)
		prometheus.MustRegister(DocumentsLoaded)
		prometheus.MustRegister(CacheHits)
		prometheus.MustRegister(CacheMisses)
		prometheus.MustRegister(RateLimited)
	})
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
