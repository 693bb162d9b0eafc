package relay

import "sort"

// roomDirectory owns the id→roomName and roomName→hostId maps plus the
// per-room member sets. Like identityRegistry it is serialized by the
// Session mutex, never locked on its own.
type roomDirectory struct {
	roomByID   map[string]string
	hostByRoom map[string]string
	members    map[string]map[string]struct{}
}

func newRoomDirectory() *roomDirectory {
	return &roomDirectory{
		roomByID:   make(map[string]string),
		hostByRoom: make(map[string]string),
		members:    make(map[string]map[string]struct{}),
	}
}

// join adds id to room. Host joins claim the host slot and fail with
// ErrRoomAlreadyHosted when a different live host holds it; client joins
// fail with ErrNoHostForRoom when the room is hostless. A failed join has no
// side effect. A connection belongs to at most one room: rejoining silently
// drops the previous membership without notifying the old room.
func (d *roomDirectory) join(room, id string, asHost bool) error {
	if asHost {
		if h, ok := d.hostByRoom[room]; ok && h != id {
			return ErrRoomAlreadyHosted
		}
	} else {
		if _, ok := d.hostByRoom[room]; !ok {
			return ErrNoHostForRoom
		}
	}

	if prev, ok := d.roomByID[id]; ok && prev != room {
		delete(d.members[prev], id)
		if d.hostByRoom[prev] == id {
			delete(d.hostByRoom, prev)
		}
	}

	if asHost {
		d.hostByRoom[room] = id
	}
	if d.members[room] == nil {
		d.members[room] = make(map[string]struct{})
	}
	d.members[room][id] = struct{}{}
	d.roomByID[id] = room
	return nil
}

// leave removes id's membership. When id hosted its room the host slot is
// cleared and the room becomes hostless; remaining members keep their
// membership — eviction is only ever an explicit command from a live host.
func (d *roomDirectory) leave(id string) {
	room, ok := d.roomByID[id]
	if !ok {
		return
	}
	delete(d.roomByID, id)
	delete(d.members[room], id)
	if d.hostByRoom[room] == id {
		delete(d.hostByRoom, room)
	}
}

func (d *roomDirectory) hostOf(room string) (string, bool) {
	id, ok := d.hostByRoom[room]
	return id, ok
}

func (d *roomDirectory) roomOf(id string) (string, bool) {
	room, ok := d.roomByID[id]
	return room, ok
}

// isHost reports whether id currently hosts the room it belongs to.
func (d *roomDirectory) isHost(id string) bool {
	room, ok := d.roomByID[id]
	if !ok {
		return false
	}
	return d.hostByRoom[room] == id
}

// membersOf returns the member ids of room in sorted order.
func (d *roomDirectory) membersOf(room string) []string {
	ids := make([]string, 0, len(d.members[room]))
	for id := range d.members[room] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// roomNames returns every room name with at least one member or a host,
// sorted for stable reporting.
func (d *roomDirectory) roomNames() []string {
	seen := make(map[string]struct{})
	for room, set := range d.members {
		if len(set) > 0 {
			seen[room] = struct{}{}
		}
	}
	for room := range d.hostByRoom {
		seen[room] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for room := range seen {
		names = append(names, room)
	}
	sort.Strings(names)
	return names
}
