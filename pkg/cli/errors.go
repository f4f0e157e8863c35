package cli

import "errors"

// Common CLI errors
var (
	ErrNoSource        = errors.New("no capture log source - use one of --wiremock, --journal, --cassette, --export")
	ErrMultipleSources = errors.New("only one capture log source may be given")
	ErrNoTest          = errors.New("no test given - use --class and --method, or --test")
)
