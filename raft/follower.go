package raft

// followerSelect runs the Follower role's receive loop until the
// election timer fires, at which point it returns RoleCandidate. A
// client submission is always refused with NotLeader: only a Leader
// accepts writes.
func (s *Server) followerSelect() Role {
	log := s.logger(RoleFollower)
	env := s.env
	env.RestartTimer()
	log.WithField("timeout", TimeoutNone.String()).Debug("entering follower loop")

	for {
		select {
		case sub := <-env.ClientChan():
			env.SendToClient(NotLeader, sub.Tag, sub.Payload)

		case msg := <-env.ServerChan():
			logMessage(log, msg)
			if followerHandleMsg(env, msg) {
				env.RestartTimer()
			}

		case <-env.ElectionTimerChan():
			log.Debug("election timeout, becoming candidate")
			return RoleCandidate
		}
	}
}

// followerHandleMsg dispatches one inbound protocol message and reports
// whether the election timer should be restarted: true for a granted
// vote, or for a TRY_APPEND from a current-or-newer-term sender (accepted
// or refused); false for a denied vote and for every other kind.
func followerHandleMsg(env Environment, msg Message) bool {
	updateResult := env.UpdateTerm(msg.SenderTerm)
	switch msg.Kind {
	case WantVote:
		return followerHandleWantVote(env, updateResult, msg)
	case TryAppend:
		return followerHandleTryAppend(env, updateResult, msg)
	default:
		// DenyVote/GrantVote/RefuseAppend/AcceptAppend arriving at a
		// Follower are stale replies to an election or replication this
		// node is no longer participating in: ignored.
		return false
	}
}

func followerHandleWantVote(env Environment, updateResult int, msg Message) bool {
	lastIndex := env.LastLogIndex()
	lastTerm := env.LogEntryAt(lastIndex).TermAdded
	if updateResult >= 0 &&
		env.CanVoteFor(msg.SenderId) &&
		(msg.Term > lastTerm || (msg.Term == lastTerm && msg.Index >= lastIndex)) {
		env.RecordVote(msg.SenderId)
		env.SendToServer(msg.SenderId, GrantVote, 0, 0)
		return true
	}
	env.SendToServer(msg.SenderId, DenyVote, 0, 0)
	return false
}

func followerHandleTryAppend(env Environment, updateResult int, msg Message) bool {
	if updateResult >= 0 &&
		msg.Index <= env.LastLogIndex() &&
		msg.Term == env.LogEntryAt(msg.Index).TermAdded {
		env.TruncateAndAppendToLog(msg.Index, msg.Entries)
		env.CommitLogEntries(msg.Commit)
		env.SendToServer(msg.SenderId, AcceptAppend, msg.Index, msg.NumEntries)
		return true
	}
	env.SendToServer(msg.SenderId, RefuseAppend, msg.Index, msg.NumEntries)
	// A rejected append from a stale-term sender (updateResult < 0) must
	// not reset the election timer: it carries no information about a
	// legitimate current leader.
	return updateResult >= 0
}
