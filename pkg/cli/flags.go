package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/sloppylopez/stablemock/pkg/journal"
	"github.com/sloppylopez/stablemock/pkg/orchestrator"
	"github.com/sloppylopez/stablemock/pkg/recording"
	"github.com/sloppylopez/stablemock/pkg/sidecar"
)

// sourceOptions selects the capture log a command reads.
type sourceOptions struct {
	wiremock string
	journal  string
	cassette string
	export   string
	timeout  time.Duration
}

func (s *sourceOptions) addFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&s.wiremock, "wiremock", "", "WireMock base URL whose request journal to read")
	f.StringVar(&s.journal, "journal", "", "Saved WireMock journal (GET /__admin/requests response)")
	f.StringVar(&s.cassette, "cassette", "", "go-vcr cassette file")
	f.StringVar(&s.export, "export", "", "Exchange export file")
	f.DurationVar(&s.timeout, "timeout", 10*time.Second, "WireMock request timeout")
}

// open returns the one configured log.
func (s *sourceOptions) open() (recording.Log, error) {
	var logs []recording.Log
	if s.wiremock != "" {
		logs = append(logs, journal.NewWireMock(s.wiremock, journal.WithTimeout(s.timeout)))
	}
	if s.journal != "" {
		logs = append(logs, journal.NewWireMockFile(s.journal))
	}
	if s.cassette != "" {
		logs = append(logs, journal.NewCassette(s.cassette))
	}
	if s.export != "" {
		logs = append(logs, journal.NewExportFile(s.export))
	}

	switch len(logs) {
	case 0:
		return nil, ErrNoSource
	case 1:
		return logs[0], nil
	default:
		return nil, ErrMultipleSources
	}
}

// testOptions names the test a command acts on.
type testOptions struct {
	class  string
	method string
	name   string
	index  int
}

func (t *testOptions) addFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&t.class, "class", "", "Test class")
	f.StringVar(&t.method, "method", "", "Test method")
	f.StringVar(&t.name, "test", "", "Go test name, e.g. TestOrders/creates_order (alternative to --class/--method)")
	f.IntVar(&t.index, "index", 0, "Recording annotation index within the method")
	cmd.MarkFlagsMutuallyExclusive("test", "class")
	cmd.MarkFlagsMutuallyExclusive("test", "method")
}

func (t *testOptions) isSet() bool {
	return t.name != "" || t.class != "" || t.method != ""
}

func (t *testOptions) id() (sidecar.TestID, error) {
	var id sidecar.TestID
	switch {
	case t.name != "":
		id = orchestrator.TestIDFromName(t.name)
	case t.class != "" && t.method != "":
		id = sidecar.TestID{Class: t.class, Method: t.method}
	default:
		return sidecar.TestID{}, ErrNoTest
	}
	id.Index = t.index
	if err := id.Validate(); err != nil {
		return sidecar.TestID{}, err
	}
	return id, nil
}
