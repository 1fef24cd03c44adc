package ai

import (
	"io"

	"github.com/cloudwego/eino/schema"
	"github.com/pkg/errors"
)

// FragmentStream is a finite, single-use sequence of text fragments. Recv
// returns io.EOF once the upstream signals end-of-stream.
type FragmentStream interface {
	Recv() (string, error)
	Close()
}

type messageStream struct {
	reader *schema.StreamReader[*schema.Message]
}

func newMessageStream(reader *schema.StreamReader[*schema.Message]) *messageStream {
	return &messageStream{reader: reader}
}

func (s *messageStream) Recv() (string, error) {
	for {
		chunk, err := s.reader.Recv()
		if errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		if err != nil {
			return "", upstreamError("stream", err)
		}
		// role-only and tool chunks carry no text
		if chunk == nil || chunk.Content == "" {
			continue
		}
		return chunk.Content, nil
	}
}

func (s *messageStream) Close() {
	s.reader.Close()
}
