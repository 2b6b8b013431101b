/*
Package log provides structured logging for gitgres using zerolog.

A single package-level Logger is initialized once via Init and shared by
every backend. JSON output is meant for production (piped to a log
collector); console output is meant for interactive CLI use. Output never
defaults to stdout, since the remote-helper adapter reserves stdout for
protocol lines (spec.md §6) — only an explicit Config.Output may point
there.

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})
	log.WithRepo("acme/widgets").Info().Msg("repository created")
*/
package log
