package raft

import "github.com/sirupsen/logrus"

// candidateTally tracks an in-progress election: how many servers have
// replied (granted or denied) and how many votes have been granted.
type candidateTally struct {
	votesReceived int
	heardFrom     map[ServerId]bool
}

func newCandidateTally(myId ServerId, numServers int) *candidateTally {
	t := &candidateTally{votesReceived: 1, heardFrom: make(map[ServerId]bool, numServers)}
	t.heardFrom[myId] = true
	return t
}

func candidateSolicitVotes(env Environment, tally *candidateTally) {
	numServers := env.NumServers()
	for i := 1; i <= numServers; i++ {
		id := ServerId(i)
		if !tally.heardFrom[id] {
			env.SendToServer(id, WantVote, 0, 0)
		}
	}
}

// candidateSelect runs the Candidate role: it votes for itself, solicits
// votes from every peer it hasn't heard from, and resolves one of three
// ways — it wins (RoleLeader), it discovers a legitimate leader or newer
// term (RoleFollower), or the election times out with no winner (it
// returns RoleCandidate, restarting a fresh election at a higher term).
func (s *Server) candidateSelect() Role {
	log := s.logger(RoleCandidate)
	env := s.env
	defer env.StopVotesTick()

	env.RestartTimer()
	env.AdvanceTermAndVoteForSelf()

	tally := newCandidateTally(env.MyId(), env.NumServers())
	log.WithFields(logrus.Fields{
		"quorum":  quorum(env.NumServers()),
		"timeout": TimeoutVotes.String(),
	}).Debug("election started")

	if 2*tally.votesReceived > env.NumServers() {
		log.Debug("single-node cluster, winning immediately")
		return RoleLeader
	}

	candidateSolicitVotes(env, tally)

	for {
		select {
		case sub := <-env.ClientChan():
			env.SendToClient(NotLeader, sub.Tag, sub.Payload)

		case msg := <-env.ServerChan():
			logMessage(log, msg)
			next, done := candidateHandleMsg(env, tally, s.metrics, msg)
			if done {
				return next
			}

		case <-env.VotesTick():
			candidateSolicitVotes(env, tally)

		case <-env.ElectionTimerChan():
			log.Debug("election ended with no winner")
			return RoleCandidate
		}
	}
}

// quorum is the number of votes (including the candidate's own) needed
// to win an election in a cluster of numServers.
func quorum(numServers int) int {
	return numServers/2 + 1
}

// candidateHandleMsg processes one message, returning the role to
// transition to and whether the candidateSelect loop should return now.
func candidateHandleMsg(env Environment, tally *candidateTally, m *metrics, msg Message) (Role, bool) {
	updateResult := env.UpdateTerm(msg.SenderTerm)
	if updateResult > 0 {
		return RoleFollower, true
	}

	switch msg.Kind {
	case WantVote:
		env.SendToServer(msg.SenderId, DenyVote, 0, 0)

	case DenyVote:
		if updateResult == 0 {
			m.incVoteDenied()
			tally.heardFrom[msg.SenderId] = true
		}

	case GrantVote:
		if updateResult == 0 {
			m.incVoteGranted()
			if !tally.heardFrom[msg.SenderId] {
				tally.heardFrom[msg.SenderId] = true
				tally.votesReceived++
				if 2*tally.votesReceived > env.NumServers() {
					return RoleLeader, true
				}
			}
		}

	case TryAppend:
		if updateResult == 0 {
			return RoleFollower, true
		}
		env.SendToServer(msg.SenderId, RefuseAppend, msg.Index, msg.NumEntries)

	case RefuseAppend, AcceptAppend:
		// Stale replies to an AppendEntries this node never sent as a
		// Leader: ignored.
	}

	return RoleCandidate, false
}
