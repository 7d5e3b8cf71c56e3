package wrcgw

import "github.com/sirupsen/logrus"

// log is the package-wide logger. Subsystems attach fields (port, mac,
// serial, wrench_serial) rather than formatting them into the message, the
// way a field-tagged logger is meant to be used.
var log = logrus.StandardLogger()

func logf(fields logrus.Fields) *logrus.Entry {
	return log.WithFields(fields)
}
