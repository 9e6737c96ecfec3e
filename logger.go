package bulwark

import "github.com/unkn0wn-root/bulwark/logging"

// Fields is a minimal structured field map for logs.
type Fields = logging.Fields

// Logger is a tiny leveled logger. Provide an adapter around your logging
// stack (see log/zap, log/logrus, log/slog). A nil Logger disables logging.
type Logger = logging.Logger

type NopLogger = logging.Nop
