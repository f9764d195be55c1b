// Package logx configures chekitimer's structured logging.
//
// It wraps zerolog behind a small value-type Logger so components can:
//   - derive scoped loggers with With(...) (usually a "comp" field)
//   - keep console output readable (short timestamp + short caller)
//   - write JSON lines to a file sink
//   - have outputs and level swapped at runtime by Service.Apply (config reload)
package logx
