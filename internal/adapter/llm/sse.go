package llm

import (
	"bufio"
	"bytes"
	"context"
	"io"

	"rand-agent/internal/domain"
)

// maxSSELine bounds a single SSE line; tool-call chunks can exceed the
// scanner's 64 KiB default.
const maxSSELine = 1024 * 1024

var (
	ssePrefix = []byte("data:")
	sseDone   = []byte("[DONE]")
)

// parseSSEStream reads SSE lines from body and converts each data payload
// into a StreamDelta with parseLine. The channel is closed when the stream
// ends, a Done delta is sent, or ctx is cancelled. A read error ends the
// stream with a final Done delta.
func parseSSEStream(ctx context.Context, body io.ReadCloser, parseLine func(data []byte) (*domain.StreamDelta, error)) <-chan domain.StreamDelta {
	ch := make(chan domain.StreamDelta, 16)
	go func() {
		defer close(ch)
		defer body.Close()

		send := func(d domain.StreamDelta) bool {
			select {
			case ch <- d:
				return true
			case <-ctx.Done():
				return false
			}
		}

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), maxSSELine)
		for scanner.Scan() {
			if ctx.Err() != nil {
				return
			}

			line := scanner.Bytes()
			if !bytes.HasPrefix(line, ssePrefix) {
				// Blank separators, comments, event: and id: fields.
				continue
			}
			data := bytes.TrimSpace(line[len(ssePrefix):])
			if len(data) == 0 {
				continue
			}

			if bytes.Equal(data, sseDone) {
				send(domain.StreamDelta{Done: true})
				return
			}

			delta, err := parseLine(data)
			if err != nil || delta == nil {
				continue
			}
			if !send(*delta) || delta.Done {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			send(domain.StreamDelta{Done: true})
		}
	}()
	return ch
}

// collectStream drains ch into a single assistant message. Tool-call
// fragments are merged by index: the first fragment carries id and name,
// later ones append to the arguments.
func collectStream(ch <-chan domain.StreamDelta) (domain.Message, *domain.Usage) {
	var (
		content bytes.Buffer
		calls   []domain.ToolCall
		byIndex = map[int]int{}
		usage   *domain.Usage
	)
	for d := range ch {
		content.WriteString(d.Content)
		for _, tc := range d.ToolCalls {
			pos, ok := byIndex[tc.Index]
			if !ok {
				byIndex[tc.Index] = len(calls)
				calls = append(calls, domain.ToolCall{ID: tc.ID, Index: tc.Index, Name: tc.Name})
				pos = len(calls) - 1
			}
			if tc.ID != "" {
				calls[pos].ID = tc.ID
			}
			if tc.Name != "" {
				calls[pos].Name = tc.Name
			}
			calls[pos].Arguments = append(calls[pos].Arguments, tc.Arguments...)
		}
		if d.Usage != nil {
			usage = d.Usage
		}
	}
	return domain.Message{Role: domain.RoleAssistant, Content: content.String(), ToolCalls: calls}, usage
}
