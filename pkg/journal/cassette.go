package journal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/dnaeon/go-vcr.v2/cassette"

	"github.com/sloppylopez/stablemock/pkg/recording"
)

// Cassette reads a go-vcr cassette. Interactions are listed in the order they
// were recorded and carry no timestamps.
type Cassette struct {
	name string
}

// NewCassette returns a log for the cassette at path. The ".yaml" extension
// is optional, as with go-vcr itself.
func NewCassette(path string) *Cassette {
	return &Cassette{name: strings.TrimSuffix(path, ".yaml")}
}

// Exchanges loads the cassette, oldest interaction first.
func (c *Cassette) Exchanges(_ context.Context) (recording.Snapshot, error) {
	cas, err := c.load()
	if err != nil {
		return recording.Snapshot{}, err
	}
	out := make([]*recording.Exchange, 0, len(cas.Interactions))
	for i, in := range cas.Interactions {
		out = append(out, interactionExchange(c.name, i, in))
	}
	return recording.Snapshot{Exchanges: out, Order: recording.OrderChronological}, nil
}

// Count returns the number of interactions.
func (c *Cassette) Count(_ context.Context) (int, error) {
	cas, err := c.load()
	if err != nil {
		return 0, err
	}
	return len(cas.Interactions), nil
}

func (c *Cassette) load() (*cassette.Cassette, error) {
	cas, err := cassette.Load(c.name)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: cassette %s", recording.ErrNotFound, c.name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load cassette %s: %w", c.name, err)
	}
	return cas, nil
}

func interactionExchange(source string, index int, in *cassette.Interaction) *recording.Exchange {
	ex := &recording.Exchange{
		ID:  stableID(source, index),
		Seq: index,
		Request: recording.Request{
			Method:  in.Request.Method,
			URL:     recording.StripHost(in.Request.URL),
			Headers: in.Request.Headers.Clone(),
		},
		Response: recording.Response{
			Status:  in.Response.Code,
			Headers: in.Response.Headers.Clone(),
			Body:    in.Response.Body,
		},
	}
	body := in.Request.Body
	if body == "" && len(in.Request.Form) > 0 {
		body = in.Request.Form.Encode()
	}
	if body != "" {
		ex.Request.Body = &body
	}
	return ex
}
