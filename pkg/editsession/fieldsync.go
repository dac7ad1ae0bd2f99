package editsession

import "context"

// EnsureFieldsSynchronized brings local field values in line with the store.
//
// Once synchronized under the lock, further calls are no-ops unless force
// is set. A fetch never overwrites the field under active edit, nor any
// field holding input that has not been persisted yet. Concurrent callers
// share a single fetch, which outlives a caller that stops waiting.
func (s *Session) EnsureFieldsSynchronized(ctx context.Context, force bool) error {
	s.mu.Lock()
	if s.fieldsSynchronized && !force {
		s.mu.Unlock()
		return nil
	}
	if force {
		s.fieldsSynchronized = false
	}
	known := s.lastKnownModified
	s.mu.Unlock()

	ch := s.calls.DoChan("fetch-fields", func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.policy.RequestTimeout(0))
		defer cancel()
		updates, err := s.store.FetchUpdatedFields(rctx, s.documentID, known)
		if err != nil {
			s.log.Warn("fetch fields failed", "error", err, "status", StatusOf(err))
			return nil, s.opError("fetch", err)
		}
		s.applyUpdates(updates)
		return nil, nil
	})
	select {
	case r := <-ch:
		return r.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// applyUpdates writes fetched values into the field set.
func (s *Session) applyUpdates(updates []FieldUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var active *Field
	if s.activeField != "" {
		active = s.fields[s.activeField]
	}
	if active != nil {
		active.editor.Disable()
	}

	applied, kept := 0, 0
	latest := s.lastKnownModified
	for _, u := range updates {
		latest = max(latest, u.ModificationTimestamp)

		if u.Deleted {
			if _, ok := s.fields[u.FieldID]; ok {
				s.removeFieldLocked(u.FieldID)
				s.log.Debug("field removed by server", "field_id", u.FieldID)
			}
			continue
		}

		f, ok := s.fields[u.FieldID]
		if !ok {
			if !u.Kind.Valid() {
				s.log.Warn("ignoring field with unknown kind", "field_id", u.FieldID, "kind", string(u.Kind))
				continue
			}
			f = &Field{ID: u.FieldID, Kind: u.Kind, editor: s.newEditor(u)}
			s.fields[f.ID] = f
			s.order = append(s.order, f.ID)
			f.ModifiedAt = u.ModificationTimestamp
			f.MandatorySatisfied = u.MandatorySatisfied
			applied++
			continue
		}

		if f == active || f.pending() {
			kept++
			continue
		}
		f.editor.SetValue(DecodeValue(f.Kind, u.Value))
		f.ModifiedAt = u.ModificationTimestamp
		f.MandatorySatisfied = u.MandatorySatisfied
		applied++
	}
	s.lastKnownModified = latest

	if active != nil && s.fields[active.ID] == active {
		active.editor.Enable()
		if r, ok := active.editor.(Reactivator); ok {
			r.Reactivate()
		}
	}

	if s.lockState == Held {
		s.fieldsSynchronized = true
	}
	s.log.Debug("fields synchronized",
		"applied", applied,
		"kept_local", kept,
		"last_modified", latest,
	)
}
