package monitor

import "github.com/sirupsen/logrus"

// AlertSink delivers operator alerts.
type AlertSink interface {
	Send(message string) error
}

// LogSink writes alerts to the process log at warn level.
type LogSink struct {
	Log logrus.FieldLogger
}

func (s LogSink) Send(message string) error {
	s.Log.WithField("alert", true).Warn(message)
	return nil
}
