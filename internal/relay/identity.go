package relay

import "strconv"

// LabelMode selects the textual layout of a display label. The strings are
// rendered verbatim into chat transcripts, so both layouts are fixed.
type LabelMode int

const (
	// LabelComma renders "nick[.team], base".
	LabelComma LabelMode = iota
	// LabelParen renders "nick[.team] (base)".
	LabelParen
)

// hostLabel replaces the base identity of a connection that hosts its room.
const hostLabel = "host"

// identityRegistry owns every identity map: id→displayName, displayName→id,
// id→nickName, id→teamName. It is not safe for concurrent use; the Session
// serializes access behind its mutex.
type identityRegistry struct {
	nameByID map[string]string
	idByName map[string]string
	nickByID map[string]string
	teamByID map[string]string

	// nextUser mints default names u1, u2, ... It advances only when a new
	// identity is minted, never on reattach, and skips past names in use.
	nextUser int
}

func newIdentityRegistry() *identityRegistry {
	return &identityRegistry{
		nameByID: make(map[string]string),
		idByName: make(map[string]string),
		nickByID: make(map[string]string),
		teamByID: make(map[string]string),
		nextUser: 1,
	}
}

// registerNew mints the lowest-unused u<N> name for id and records it.
func (r *identityRegistry) registerNew(id string) string {
	for {
		name := "u" + strconv.Itoa(r.nextUser)
		r.nextUser++
		if _, taken := r.idByName[name]; taken {
			continue
		}
		r.nameByID[id] = name
		r.idByName[name] = id
		return name
	}
}

// reattach rebinds an existing display name to a reconnecting id without
// consuming a counter value. It fails with ErrIdentityConflict when the name
// is held by a different live connection.
func (r *identityRegistry) reattach(id, name string) (string, error) {
	if owner, ok := r.idByName[name]; ok && owner != id {
		return "", ErrIdentityConflict
	}
	r.nameByID[id] = name
	r.idByName[name] = id
	return name, nil
}

// setNickname stores nick for id. A nickname already held by another live
// connection is disambiguated with the connection's own numeric identity
// ("Alice" → "Alice.u3"); the first holder is never overwritten. Display
// names are unique, so the suffixed form cannot collide again.
func (r *identityRegistry) setNickname(id, nick string) string {
	for otherID, existing := range r.nickByID {
		if otherID != id && existing == nick {
			nick = nick + "." + r.nameByID[id]
			break
		}
	}
	r.nickByID[id] = nick
	return nick
}

func (r *identityRegistry) setTeam(id, team string) {
	r.teamByID[id] = team
}

// known reports whether id has a registered identity.
func (r *identityRegistry) known(id string) bool {
	_, ok := r.nameByID[id]
	return ok
}

func (r *identityRegistry) name(id string) string {
	return r.nameByID[id]
}

func (r *identityRegistry) nickname(id string) string {
	return r.nickByID[id]
}

// count returns the number of live identities.
func (r *identityRegistry) count() int {
	return len(r.nameByID)
}

// resolveName finds the connection whose nickname equals name, falling back
// to the connection whose display name equals it. Nicknames are unique by
// construction (setNickname disambiguates), so a nickname match is the only
// one.
func (r *identityRegistry) resolveName(name string) (string, bool) {
	for id, nick := range r.nickByID {
		if nick == name {
			return id, true
		}
	}
	id, ok := r.idByName[name]
	return id, ok
}

// label composes the human-readable label for id. The base identity is the
// literal "host" when the connection hosts its room. With no nickname the
// label is just the base.
func (r *identityRegistry) label(id string, mode LabelMode, isHost bool) string {
	base := r.nameByID[id]
	if isHost {
		base = hostLabel
	}
	nick := r.nickByID[id]
	if nick == "" {
		return base
	}
	if team := r.teamByID[id]; team != "" {
		nick += "." + team
	}
	if mode == LabelComma {
		return nick + ", " + base
	}
	return nick + " (" + base + ")"
}

// remove deletes every identity entry for id. Callers that still need the
// connection's room or host association must capture it first.
func (r *identityRegistry) remove(id string) {
	if name, ok := r.nameByID[id]; ok {
		delete(r.idByName, name)
	}
	delete(r.nameByID, id)
	delete(r.nickByID, id)
	delete(r.teamByID, id)
}
