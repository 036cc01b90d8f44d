// Package flow runs the jwt sign and jwt verify nodes over messages and
// forwards their results to the configured outputs.
package flow

import (
	"context"
	"errors"

	"github.com/sing3demons/jwtnode/internal/message"
	"github.com/sing3demons/jwtnode/pkg/logAction"
	"github.com/sing3demons/jwtnode/pkg/mlog"
)

// Port is a node output index.
type Port int

const (
	PortNone    Port = -1
	PortSuccess Port = 0
	PortError   Port = 1
)

func (p Port) String() string {
	switch p {
	case PortSuccess:
		return "success"
	case PortError:
		return "error"
	default:
		return "none"
	}
}

// Node processes a single message. A node reports a fault by returning an
// error; the port tells whether the message is still forwarded.
type Node interface {
	Name() string
	Process(ctx context.Context, msg *message.Message) (Port, error)
}

type Pipeline struct {
	node   Node
	output Output
}

// NewPipeline connects node to output. output may be nil.
func NewPipeline(node Node, output Output) *Pipeline {
	return &Pipeline{node: node, output: output}
}

func (p *Pipeline) Node() Node { return p.node }

// Input runs the node on msg, reports any fault and forwards msg to the
// output on the selected port.
func (p *Pipeline) Input(ctx context.Context, msg *message.Message) (Port, error) {
	log := mlog.L(ctx)

	port, err := p.node.Process(ctx, msg)
	if err != nil {
		log.Error(logAction.EXCEPTION(p.node.Name()), map[string]any{
			"port":  port.String(),
			"error": err.Error(),
		})
	}
	if port == PortNone || p.output == nil {
		return port, err
	}
	if sendErr := p.output.Send(ctx, port, msg); sendErr != nil {
		log.Error(logAction.OUTBOUND(p.node.Name()), map[string]any{
			"port":  port.String(),
			"error": sendErr.Error(),
		})
		err = errors.Join(err, sendErr)
	}
	return port, err
}
