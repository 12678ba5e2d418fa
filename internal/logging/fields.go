// Package logging provides the structured logging vocabulary shared by
// every worker and admin job: a Fields builder on top of logrus, so log
// lines carry consistent component/operation/resource keys instead of
// ad hoc string formatting.
package logging

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Fields is a logrus.Fields builder with named setters for the
// dimensions every pipeline log line cares about.
type Fields logrus.Fields

// NewFields returns an empty Fields set.
func NewFields() Fields {
	return Fields{}
}

func (f Fields) Component(name string) Fields {
	f["component"] = name
	return f
}

func (f Fields) Operation(name string) Fields {
	f["operation"] = name
	return f
}

func (f Fields) Resource(resourceType, name string) Fields {
	f["resource_type"] = resourceType
	if name != "" {
		f["resource_name"] = name
	}
	return f
}

func (f Fields) Duration(d time.Duration) Fields {
	f["duration_ms"] = d.Milliseconds()
	return f
}

func (f Fields) Error(err error) Fields {
	if err != nil {
		f["error"] = err.Error()
	}
	return f
}

func (f Fields) QueueName(name string) Fields {
	f["queue"] = name
	return f
}

func (f Fields) ItemID(id string) Fields {
	f["item_id"] = id
	return f
}

// Logrus converts Fields to the logrus.Fields type expected by
// logrus.WithFields.
func (f Fields) Logrus() logrus.Fields {
	return logrus.Fields(f)
}

// NewLogger builds the process-wide logrus.Logger used by every worker,
// with JSON output (suitable for log aggregation) and the level parsed
// from the given string, defaulting to info on a parse failure.
func NewLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)
	return logger
}
