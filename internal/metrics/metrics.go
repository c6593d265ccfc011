package metrics

type Counter interface {
	Inc()
	Add(delta float64)
}

type Metrics struct {
	EventsIngested   Counter
	EventsDeduped    Counter
	EventsLate       Counter
	FeedReconnects   Counter
	Candidates       Counter
	CandidatesReject Counter
	OrdersSubmitted  Counter
	OrdersConfirmed  Counter
	OrdersFailed     Counter
	OrdersTimedOut   Counter
	ExitsTriggered   Counter
	AssetsQuarantine Counter
	ReportsDropped   Counter
}

type noopCounter struct{}

func (noopCounter) Inc()              {}
func (noopCounter) Add(delta float64) {}

func NewNoop() *Metrics {
	n := noopCounter{}
	return &Metrics{
		EventsIngested:   n,
		EventsDeduped:    n,
		EventsLate:       n,
		FeedReconnects:   n,
		Candidates:       n,
		CandidatesReject: n,
		OrdersSubmitted:  n,
		OrdersConfirmed:  n,
		OrdersFailed:     n,
		OrdersTimedOut:   n,
		ExitsTriggered:   n,
		AssetsQuarantine: n,
		ReportsDropped:   n,
	}
}
