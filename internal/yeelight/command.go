package yeelight

import (
	"encoding/json"
	"fmt"

	"github.com/rotisserie/eris"
)

// command is one request line. The bulb echoes ID in its reply.
type command struct {
	ID     int    `json:"id"`
	Method string `json:"method"`
	Params []any  `json:"params"`
}

// newCommand never leaves Params nil; bulbs reject "params":null.
func newCommand(id int, method string, params ...any) command {
	if params == nil {
		params = []any{}
	}
	return command{ID: id, Method: method, Params: params}
}

// line encodes c as a CRLF-terminated JSON line.
func (c command) line() ([]byte, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return nil, eris.Wrapf(err, "encode %s command", c.Method)
	}
	return append(b, lineEnding...), nil
}

func (c command) String() string {
	return fmt.Sprintf("%s%v", c.Method, c.Params)
}
