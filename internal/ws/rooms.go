package ws

// rooms is the conversation → subscribers table with its reverse index. Not safe for
// concurrent use; the Hub guards it with its mutex.
type rooms struct {
	members map[int64]map[*Client]struct{}
	byConn  map[*Client]map[int64]struct{}
}

func newRooms() *rooms {
	return &rooms{
		members: make(map[int64]map[*Client]struct{}),
		byConn:  make(map[*Client]map[int64]struct{}),
	}
}

func (r *rooms) join(c *Client, conversationID int64) {
	m, ok := r.members[conversationID]
	if !ok {
		m = make(map[*Client]struct{})
		r.members[conversationID] = m
	}
	m[c] = struct{}{}

	joined, ok := r.byConn[c]
	if !ok {
		joined = make(map[int64]struct{})
		r.byConn[c] = joined
	}
	joined[conversationID] = struct{}{}
}

func (r *rooms) leave(c *Client, conversationID int64) {
	if m, ok := r.members[conversationID]; ok {
		delete(m, c)
		if len(m) == 0 {
			delete(r.members, conversationID)
		}
	}
	if joined, ok := r.byConn[c]; ok {
		delete(joined, conversationID)
		if len(joined) == 0 {
			delete(r.byConn, c)
		}
	}
}

func (r *rooms) leaveAll(c *Client) {
	for id := range r.byConn[c] {
		r.leave(c, id)
	}
}

// replace makes the subscription set of c exactly conversationIDs.
func (r *rooms) replace(c *Client, conversationIDs []int64) {
	want := make(map[int64]struct{}, len(conversationIDs))
	for _, id := range conversationIDs {
		want[id] = struct{}{}
	}
	for id := range r.byConn[c] {
		if _, keep := want[id]; !keep {
			r.leave(c, id)
		}
	}
	for id := range want {
		r.join(c, id)
	}
}

func (r *rooms) has(c *Client, conversationID int64) bool {
	_, ok := r.members[conversationID][c]
	return ok
}

func (r *rooms) subscribers(conversationID int64) map[*Client]struct{} {
	return r.members[conversationID]
}
