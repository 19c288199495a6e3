// Package logging provides the structured logger of the patternd binary.
//
// It wraps Zap with:
//   - a Trace level (-2, below Debug) for per-pattern scoring detail
//   - console output on stderr, optionally teed into OpenTelemetry logs
//   - context correlation fields (trace_id, span_id, request.id, task.id)
//   - redaction of sensitive keys and of secrets inside string values
//   - sampling below error level (errors are never sampled)
//
// Library packages (ranking, pack, trust, engine) take a plain *zap.Logger;
// pass them Logger.Underlying().
//
//	logger, err := logging.NewLogger(logging.NewDefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithRequestID(ctx, "")
//	logger.Info(ctx, "pack assembled", zap.Int("bytes", n))
package logging
