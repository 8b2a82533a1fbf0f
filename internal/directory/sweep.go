package directory

import "time"

// ChannelEviction reports how many messages were dropped from one channel's
// history and who needs to be told.
type ChannelEviction struct {
	Channel   string
	Count     int
	MemberIDs []string
}

// SweepMessagesResult is the outcome of one TTL sweep pass.
type SweepMessagesResult struct {
	Channels []ChannelEviction
	Users    map[string]int // user id -> count evicted from private_history
}

// SweepMessages retains only messages younger than the configured
// message_ttl in every channel and private history, zeroing evicted
// messages' bytes before dropping them. A zero message_ttl means "never
// expire" and this is a no-op. Called once per janitor tick (spec §4.E,
// invariant 4).
func (d *Directory) SweepMessages(now time.Time) SweepMessagesResult {
	result := SweepMessagesResult{Users: make(map[string]int)}
	if d.messageTTL <= 0 {
		return result
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for name, ch := range d.channels {
		kept := ch.History[:0]
		evicted := 0
		for _, m := range ch.History {
			if now.Sub(m.Timestamp) < d.messageTTL {
				kept = append(kept, m)
				continue
			}
			secureZero(m)
			evicted++
		}
		ch.History = kept
		if evicted > 0 {
			members := make([]string, 0, len(ch.Members))
			for id := range ch.Members {
				members = append(members, id)
			}
			result.Channels = append(result.Channels, ChannelEviction{Channel: name, Count: evicted, MemberIDs: members})
			d.messagesEvicted.Add(uint64(evicted))
		}
	}

	for id, u := range d.users {
		kept := u.PrivateHistory[:0]
		evicted := 0
		for _, m := range u.PrivateHistory {
			if now.Sub(m.Timestamp) < d.messageTTL {
				kept = append(kept, m)
				continue
			}
			secureZero(m)
			evicted++
		}
		u.PrivateHistory = kept
		if evicted > 0 {
			result.Users[id] = evicted
			d.messagesEvicted.Add(uint64(evicted))
		}
	}

	return result
}

// SweepSessions returns the ids of users whose session has been idle longer
// than session_timeout. A zero session_timeout means "never expire" and
// this always returns nil. The caller is responsible for notifying and then
// calling RemoveUser for each returned id — SweepSessions only identifies,
// it does not remove, so the caller can send the final NOTICE before the
// user disappears from the Directory.
func (d *Directory) SweepSessions(now time.Time) []string {
	if d.sessionTimeout <= 0 {
		return nil
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	var expired []string
	for id, u := range d.users {
		if u.Session == nil {
			continue
		}
		if now.Sub(u.Session.LastActivity) > d.sessionTimeout {
			expired = append(expired, id)
		}
	}
	return expired
}

// MarkSessionExpired increments the sessions-expired counter; called by the
// janitor after it has notified and removed an idle user.
func (d *Directory) MarkSessionExpired() {
	d.sessionsExpired.Add(1)
}

// SweepChannels drops channels whose member set is empty and whose
// last_activity is older than ChannelIdleTTL. Returns the names dropped.
func (d *Directory) SweepChannels(now time.Time) []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	var dropped []string
	for name, ch := range d.channels {
		if len(ch.Members) == 0 && now.Sub(ch.LastActivity) > ChannelIdleTTL {
			dropped = append(dropped, name)
			delete(d.channels, name)
		}
	}
	return dropped
}

// TouchSession updates a user's last_activity to now, non-decreasing per
// invariant 6. Called before dispatching every command.
func (d *Directory) TouchSession(userID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if u, ok := d.users[userID]; ok && u.Session != nil {
		now := time.Now()
		if now.After(u.Session.LastActivity) {
			u.Session.LastActivity = now
		}
	}
}
