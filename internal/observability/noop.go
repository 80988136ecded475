package observability

// NewNoop returns a Logger that discards everything. Used by tests that
// want to exercise a component's logging call sites without asserting on
// output, mirroring the source's newTestLogger() helper.
func NewNoop() Logger { return noopLogger{} }

type noopLogger struct{}

func (noopLogger) Infof(string, ...interface{})  {}
func (noopLogger) Errorf(string, ...interface{}) {}
func (noopLogger) Fatalf(string, ...interface{}) {}
func (noopLogger) Warn(string, ...interface{})   {}
func (noopLogger) Info(string, ...interface{})   {}
func (noopLogger) Error(string, ...interface{})  {}
func (noopLogger) Debugw(string, ...interface{}) {}
func (noopLogger) Warnw(string, ...interface{})  {}
func (noopLogger) Errorw(string, ...interface{}) {}
func (noopLogger) With(...interface{}) Logger    { return noopLogger{} }
