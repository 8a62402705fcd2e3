package raft

import "github.com/sirupsen/logrus"

// fieldsFor builds the common logrus.Fields every role-loop log line
// carries: node id, current term, and active role.
func fieldsFor(env Environment, role string) logrus.Fields {
	return logrus.Fields{
		"node": env.MyId(),
		"term": env.CurrentTerm(),
		"role": role,
	}
}

// logMessage records an inbound protocol message at debug level: sender,
// kind, term, and index, one line per message.
func logMessage(log *logrus.Entry, msg Message) {
	log.WithFields(logrus.Fields{
		"from":  msg.SenderId,
		"kind":  msg.Kind.String(),
		"term":  msg.SenderTerm,
		"index": msg.Index,
	}).Debug("received message")
}
