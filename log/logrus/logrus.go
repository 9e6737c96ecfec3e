// Package logrus adapts a *logrus.Entry to logging.Logger.
package logrus

import (
	"github.com/sirupsen/logrus"

	"github.com/unkn0wn-root/bulwark/logging"
)

var _ logging.Logger = Logger{}

type Logger struct{ E *logrus.Entry }

// New returns a JSON logger at level tagged with component=bulwark.
func New(level string) (Logger, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return Logger{}, err
	}
	l := logrus.New()
	l.SetLevel(lvl)
	l.SetFormatter(&logrus.JSONFormatter{})
	return Logger{E: l.WithField("component", "bulwark")}, nil
}

func (l Logger) Debug(msg string, f logging.Fields) { l.E.WithFields(logrus.Fields(f)).Debug(msg) }
func (l Logger) Info(msg string, f logging.Fields)  { l.E.WithFields(logrus.Fields(f)).Info(msg) }
func (l Logger) Warn(msg string, f logging.Fields)  { l.E.WithFields(logrus.Fields(f)).Warn(msg) }
func (l Logger) Error(msg string, f logging.Fields) { l.E.WithFields(logrus.Fields(f)).Error(msg) }
