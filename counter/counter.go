package counter

// Counter is a cumulative byte metric
type Counter interface {
	Value() int64
	RatePerSec() int64

	Add(bytes int64)
}
