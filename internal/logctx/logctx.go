// Package logctx provides the per-component loggers used across the session
// engine, all backed by github.com/juju/loggo the way the teacher broker
// wires up a single "mq.session" logger.
package logctx

import "github.com/juju/loggo"

var (
	Session       = loggo.GetLogger("session")
	Queue         = loggo.GetLogger("session.queue")
	KeepAlive     = loggo.GetLogger("session.keepalive")
	Subscriptions = loggo.GetLogger("session.subscriptions")
)

func init() {
	Session.SetLogLevel(loggo.INFO)
	Queue.SetLogLevel(loggo.INFO)
	KeepAlive.SetLogLevel(loggo.INFO)
	Subscriptions.SetLogLevel(loggo.INFO)
}
