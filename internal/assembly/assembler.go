package assembly

import (
	"context"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/agentconsole/internal/stream"
)

// pendingCall tracks the tool call currently accumulating argument
// fragments. blockIndex addresses the ToolCall block inside the message so
// finalization can run even after the blocks slice has grown.
type pendingCall struct {
	blockIndex int
	args       strings.Builder
}

// Assembler folds a stream of events into a single AI message, mutating it
// in place as events arrive. It never touches other messages. Not safe for
// concurrent use; one stream is consumed by one goroutine.
type Assembler struct {
	msg     *Message
	pending *pendingCall
	closed  bool

	// OnThreadID fires when the end event carries a server-assigned thread
	// id. Optional.
	OnThreadID func(threadID string)
}

// NewAssembler binds an assembler to the AI placeholder it will fill in.
func NewAssembler(msg *Message) *Assembler {
	return &Assembler{msg: msg}
}

// Consume pulls events from the decoder until the stream ends, applying each
// one. The pending tool call is finalized and the message sealed no matter
// how the stream terminates. Cancellation surfaces as a normal end of
// stream; any other transport error is returned after sealing.
func (a *Assembler) Consume(ctx context.Context, dec *stream.Decoder) error {
	for {
		ev, err := dec.Next(ctx)
		if err != nil {
			a.Close()
			if err == io.EOF {
				return nil
			}
			return err
		}
		a.Apply(ev)
	}
}

// Apply folds one event into the message. Events with unparseable payloads
// are dropped, mirroring the decoder's treatment of malformed frames. Apply
// is a no-op once the assembler is closed.
func (a *Assembler) Apply(ev stream.Event) {
	if a.closed {
		return
	}
	switch ev.Name {
	case stream.EventToken:
		a.applyToken(ev)
	case stream.EventToolCall:
		a.applyToolCall(ev)
	case stream.EventToolResult:
		a.applyToolResult(ev)
	case stream.EventEnd:
		a.applyEnd(ev)
	}
}

// Close finalizes any pending tool call and seals the message. Idempotent.
func (a *Assembler) Close() {
	if a.closed {
		return
	}
	a.finalizePending()
	a.closed = true
}

func (a *Assembler) applyToken(ev stream.Event) {
	// A token always closes out any in-flight tool call first.
	a.finalizePending()

	p, err := ev.Token()
	if err != nil {
		log.Debug().Err(err).Msg("Dropping token event with bad payload")
		return
	}
	text := p.Content.Text
	if text == "" {
		return
	}

	blocks := a.msg.ContentBlocks
	if n := len(blocks); n > 0 && blocks[n-1].Type == BlockText {
		blocks[n-1].Text += text
	} else {
		a.msg.ContentBlocks = append(blocks, ContentBlock{Type: BlockText, Text: text})
	}
	a.msg.Content += text
}

func (a *Assembler) applyToolCall(ev stream.Event) {
	chunks, err := ev.ToolCall()
	if err != nil || len(chunks) == 0 {
		log.Debug().Err(err).Msg("Dropping tool_call event with bad payload")
		return
	}
	first := chunks[0]

	if first.Name == "" {
		// Continuation chunk: argument fragments for the pending call only.
		if a.pending != nil {
			a.pending.args.WriteString(first.Args)
		}
		return
	}

	a.finalizePending()

	call := &ToolCall{
		ID:   uuid.NewString(),
		Name: first.Name,
		Args: map[string]any{},
	}
	a.msg.ContentBlocks = append(a.msg.ContentBlocks, ContentBlock{Type: BlockToolCall, ToolCall: call})
	a.msg.ToolCalls = append(a.msg.ToolCalls, call)

	a.pending = &pendingCall{blockIndex: len(a.msg.ContentBlocks) - 1}
	a.pending.args.WriteString(first.Args)
}

func (a *Assembler) applyToolResult(ev stream.Event) {
	a.finalizePending()

	p, err := ev.ToolResult()
	if err != nil {
		log.Debug().Err(err).Msg("Dropping tool_result event with bad payload")
		return
	}

	result := &ToolResult{ID: uuid.NewString(), Result: p.Result}
	a.msg.ContentBlocks = append(a.msg.ContentBlocks, ContentBlock{Type: BlockToolResult, ToolResult: result})
	a.msg.ToolResults = append(a.msg.ToolResults, result)
}

func (a *Assembler) applyEnd(ev stream.Event) {
	a.finalizePending()

	p, err := ev.End()
	if err != nil {
		log.Debug().Err(err).Msg("End event payload unreadable, thread id not adopted")
		return
	}
	if p.ThreadID != "" && a.OnThreadID != nil {
		a.OnThreadID(p.ThreadID)
	}
}

// finalizePending parses the accumulated argument fragments into the pending
// call's Args. A no-op when no call is pending.
func (a *Assembler) finalizePending() {
	if a.pending == nil {
		return
	}
	call := a.msg.ContentBlocks[a.pending.blockIndex].ToolCall
	call.Args = parseToolArgs(a.pending.args.String())
	a.pending = nil
}
