package session

// pendingCommand is a submitted command waiting for its terminal
// response.
type pendingCommand struct {
	text   string
	opts   Options
	amount int64 // upload size, refined by "uploading" frames
}

// commandQueue is an unbounded FIFO.  Only the head may be awaiting a
// response.
type commandQueue struct {
	items []*pendingCommand
}

func (q *commandQueue) push(c *pendingCommand) {
	q.items = append(q.items, c)
}

// head returns the oldest command, or nil when empty.
func (q *commandQueue) head() *pendingCommand {
	if len(q.items) == 0 {
		return nil
	}
	return q.items[0]
}

// pop removes and returns the head, or nil when empty.
func (q *commandQueue) pop() *pendingCommand {
	if len(q.items) == 0 {
		return nil
	}
	c := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return c
}

func (q *commandQueue) len() int { return len(q.items) }
