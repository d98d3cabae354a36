// Package log is the calchat logging wrapper around the standard library
// logger.
//
// Every component obtains a named logger and writes through it:
//
//	l := log.ForService("pusher")
//	l.Infof("connected, socket id %s", id)
//	l.Named("private-conversation-7").Debugf("bound %d handlers", n)
//
// Lines look like:
//
//	2025/01/02 10:11:12.123456 INFO [pusher>] connected, socket id 123.456
//
// Debug output is off by default. It can be enabled for everything
// (SetGlobalDebug, the --debug flag) or for selected services
// (EnableDebugFor, the debug_services config key). Enabling a service also
// enables its Named children, so "realtime" covers "realtime:conversation".
//
// Tests redirect output with SetOutput(&bytes.Buffer{}).
//
// The package name collides with the standard library; alias one of them when
// both are needed.
package log
