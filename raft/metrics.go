package raft

import "github.com/prometheus/client_golang/prometheus"

// metrics mirrors the counters/gauges a production Raft node exposes:
// term and role track the automaton's public state, the totals track
// protocol traffic for rate() queries.
type metrics struct {
	term        prometheus.Gauge
	role        prometheus.Gauge
	commitIndex prometheus.Gauge
	lastIndex   prometheus.Gauge

	votesGranted    prometheus.Counter
	votesDenied     prometheus.Counter
	appendsAccepted prometheus.Counter
	appendsRefused  prometheus.Counter
}

// Gauge values for raft_state: 0 Follower,
// 1 Candidate, 2 Leader.
const (
	roleFollower  = 0
	roleCandidate = 1
	roleLeader    = 2
)

func newMetrics(reg prometheus.Registerer, nodeId ServerId) *metrics {
	labels := prometheus.Labels{"node": serverIdLabel(nodeId)}
	m := &metrics{
		term: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "raft_term",
			Help:        "Current term as last persisted by this node.",
			ConstLabels: labels,
		}),
		role: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "raft_state",
			Help:        "Current role: 0=follower, 1=candidate, 2=leader.",
			ConstLabels: labels,
		}),
		commitIndex: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "raft_commit_index",
			Help:        "Highest log index known to be committed.",
			ConstLabels: labels,
		}),
		lastIndex: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "raft_last_log_index",
			Help:        "Index of the last entry in the local log.",
			ConstLabels: labels,
		}),
		votesGranted: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "raft_votes_granted_total",
			Help:        "GRANT_VOTE replies received while a Candidate.",
			ConstLabels: labels,
		}),
		votesDenied: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "raft_votes_denied_total",
			Help:        "DENY_VOTE replies received while a Candidate.",
			ConstLabels: labels,
		}),
		appendsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "raft_append_entries_accepted_total",
			Help:        "ACCEPT_APPEND replies received while Leader.",
			ConstLabels: labels,
		}),
		appendsRefused: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "raft_append_entries_refused_total",
			Help:        "REFUSE_APPEND replies received while Leader.",
			ConstLabels: labels,
		}),
	}
	if reg != nil {
		reg.MustRegister(m.term, m.role, m.commitIndex, m.lastIndex,
			m.votesGranted, m.votesDenied, m.appendsAccepted, m.appendsRefused)
	}
	return m
}

// The inc* helpers are nil-receiver safe so handler functions can be
// exercised in tests without constructing a registry.
func (m *metrics) incVoteGranted() {
	if m != nil {
		m.votesGranted.Inc()
	}
}

func (m *metrics) incVoteDenied() {
	if m != nil {
		m.votesDenied.Inc()
	}
}

func (m *metrics) incAppendAccepted() {
	if m != nil {
		m.appendsAccepted.Inc()
	}
}

func (m *metrics) incAppendRefused() {
	if m != nil {
		m.appendsRefused.Inc()
	}
}

func serverIdLabel(id ServerId) string {
	const digits = "0123456789"
	if id == 0 {
		return "0"
	}
	var buf [8]byte
	i := len(buf)
	for id > 0 {
		i--
		buf[i] = digits[id%10]
		id /= 10
	}
	return string(buf[i:])
}
