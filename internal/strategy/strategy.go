// Package strategy picks the protocol engine for a board.
package strategy

import (
	"github.com/pkg/errors"

	"github.com/bigbag/boardflash/internal/board"
	"github.com/bigbag/boardflash/internal/engine"
	"github.com/bigbag/boardflash/internal/esptool"
	"github.com/bigbag/boardflash/internal/samba"
	"github.com/bigbag/boardflash/internal/stk500"
	"github.com/bigbag/boardflash/internal/transport"
)

// Selector builds the engine for a descriptor. It must not touch ch.
type Selector func(desc board.Descriptor, ch transport.Channel, j *engine.Journal) (engine.Engine, error)

// Families lists the protocol families Select understands.
func Families() []board.Family {
	return []board.Family{board.FamilySamBa, board.FamilySTK500, board.FamilyEspTool}
}

// Select dispatches on the descriptor's family tag. An unknown family fails
// before any I/O.
func Select(desc board.Descriptor, ch transport.Channel, j *engine.Journal) (engine.Engine, error) {
	switch desc.Family {
	case board.FamilySamBa:
		return samba.New(ch, desc, j), nil
	case board.FamilySTK500:
		return stk500.New(ch, desc, j), nil
	case board.FamilyEspTool:
		return esptool.New(ch, desc, j), nil
	default:
		return nil, errors.Wrapf(engine.ErrUnsupportedProtocol, "board %q: family %q", desc.Name, desc.Family)
	}
}

var _ Selector = Select
