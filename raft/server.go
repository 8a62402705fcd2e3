// Package raft implements a single-threaded, cooperatively-scheduled
// Raft consensus automaton: one goroutine per Server drives a
// Follower/Candidate/Leader state machine via channel select, backed by
// a crash-safe on-disk log (see the raftlog package).
package raft

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// Role is one of the three states a Server automaton can be in.
type Role int

const (
	RoleFollower Role = iota
	RoleCandidate
	RoleLeader
)

func (r Role) String() string {
	switch r {
	case RoleFollower:
		return "follower"
	case RoleCandidate:
		return "candidate"
	case RoleLeader:
		return "leader"
	default:
		return "unknown"
	}
}

//                                  times out,
//                                 new election
//     |                             .-----.
//     |                             |     |
//     v         times out,          |     v     receives votes from
// +----------+  starts election  +-----------+  majority of servers  +--------+
// | Follower |------------------>| Candidate |---------------------->| Leader |
// +----------+                   +-----------+                       +--------+
//     ^ ^                              |                                 |
//     | |    discovers current leader  |                                 |
//     | |                 or new term  |                                 |
//     | '------------------------------'                                 |
//     |                                                                  |
//     |                               discovers server with higher term  |
//     '------------------------------------------------------------------'

// Server drives one node's Raft automaton. It owns no network or disk
// resources directly; all of that is reached through its Environment,
// which also makes the automaton's core logic testable against a fake.
type Server struct {
	env  Environment
	role Role

	log     *logrus.Entry
	metrics *metrics

	stop chan struct{}
}

// NewServer wires an automaton to the given environment. The Server
// starts as a Follower: when a node starts up, it begins as a follower.
func NewServer(env Environment, log *logrus.Entry, reg prometheus.Registerer) *Server {
	return &Server{
		env:     env,
		role:    RoleFollower,
		log:     log,
		metrics: newMetrics(reg, env.MyId()),
		stop:    make(chan struct{}),
	}
}

// Start runs the automaton's loop in a new goroutine.
func (s *Server) Start() {
	go s.loop()
}

// Stop halts the loop the next time the current role returns to the
// dispatcher (a role transition). It does not interrupt a role in
// progress: a role loop does not watch for Stop, so a Leader that never
// steps down keeps running. It does not close the environment's
// underlying log or peer connections; callers own that lifecycle.
func (s *Server) Stop() {
	close(s.stop)
}

// MyId returns this node's server id.
func (s *Server) MyId() ServerId { return s.env.MyId() }

// CommittedIndex returns the highest log index this node knows to be
// committed.
func (s *Server) CommittedIndex() LogIndex { return s.env.CommittedIndex() }

// Deliver hands an inbound peer protocol message to the automaton. Safe
// to call from any goroutine (typically an HTTP handler in raft/http).
func (s *Server) Deliver(msg Message) {
	s.env.DeliverMessage(msg)
}

// Submit hands a client's command to the automaton. Safe to call from
// any goroutine.
func (s *Server) Submit(sub ClientSubmission) {
	s.env.SubmitClient(sub)
}

// Role reports the automaton's current role. Safe to call concurrently
// only because role transitions happen on the loop goroutine and Role
// is read racily for observability (logging, /debug endpoints) — callers
// needing a consistency guarantee should use the environment's exported
// state instead.
func (s *Server) Role() Role { return s.role }

func (s *Server) loop() {
	for {
		select {
		case <-s.stop:
			return
		default:
		}

		s.recordState()
		switch s.role {
		case RoleFollower:
			s.role = s.followerSelect()
		case RoleCandidate:
			s.role = s.candidateSelect()
		case RoleLeader:
			s.role = s.leaderSelect()
		}
	}
}

func (s *Server) recordState() {
	if s.metrics == nil {
		return
	}
	s.metrics.term.Set(float64(s.env.CurrentTerm()))
	s.metrics.commitIndex.Set(float64(s.env.CommittedIndex()))
	s.metrics.lastIndex.Set(float64(s.env.LastLogIndex()))
	switch s.role {
	case RoleFollower:
		s.metrics.role.Set(roleFollower)
	case RoleCandidate:
		s.metrics.role.Set(roleCandidate)
	case RoleLeader:
		s.metrics.role.Set(roleLeader)
	}
}

func (s *Server) logger(role Role) *logrus.Entry {
	return s.log.WithFields(fieldsFor(s.env, role.String()))
}
