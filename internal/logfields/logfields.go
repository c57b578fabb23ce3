package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyRunID      = "run_id"
	KeyLane       = "lane"
	KeyStage      = "stage"
	KeyCommand    = "command"
	KeyWorker     = "worker"
	KeyImage      = "image"
	KeyChannel    = "channel"
	KeyAttempt    = "attempt"
	KeyDurationMS = "duration_ms"
	KeyOutcome    = "outcome"
	KeyExitCode   = "exit_code"
	KeyPath       = "path"
	KeyURL        = "url"
	KeyScheduleID = "schedule_id"
	KeyError      = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func RunID(id string) slog.Attr       { return slog.String(KeyRunID, id) }
func Lane(id string) slog.Attr        { return slog.String(KeyLane, id) }
func Stage(name string) slog.Attr     { return slog.String(KeyStage, name) }
func Command(c string) slog.Attr      { return slog.String(KeyCommand, c) }
func Worker(id int) slog.Attr         { return slog.Int(KeyWorker, id) }
func Image(name string) slog.Attr     { return slog.String(KeyImage, name) }
func Channel(name string) slog.Attr   { return slog.String(KeyChannel, name) }
func Attempt(n int) slog.Attr         { return slog.Int(KeyAttempt, n) }
func DurationMS(ms float64) slog.Attr { return slog.Float64(KeyDurationMS, ms) }
func Outcome(o string) slog.Attr      { return slog.String(KeyOutcome, o) }
func ExitCode(code int) slog.Attr     { return slog.Int(KeyExitCode, code) }
func Path(p string) slog.Attr         { return slog.String(KeyPath, p) }
func URL(u string) slog.Attr          { return slog.String(KeyURL, u) }
func ScheduleID(id string) slog.Attr  { return slog.String(KeyScheduleID, id) }
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
