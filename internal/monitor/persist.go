package monitor

import (
	"time"

	"github.com/loppo-llc/vde-monitor/internal/persistence"
)

// saveSnapshot builds a persistence.Document from the current registry and
// timeline state and writes it atomically. Failures are logged and
// swallowed (PersistenceFailed, spec.md §7): the previous snapshot on disk
// is left intact and the loop continues.
func (m *Monitor) saveSnapshot(now time.Time) {
	sessions := make(map[string]persistence.PersistedSession)
	for _, detail := range m.registry.Snapshot() {
		rec := m.paneStates.Snapshot(detail.PaneID)
		sessions[detail.PaneID] = persistence.PersistedSession{
			LastOutputAt: timePtrToString(rec.LastOutputAt),
			LastEventAt:  timePtrToString(rec.LastEventAt),
			LastInputAt:  timePtrToString(rec.LastInputAt),
			LastMessage:  rec.LastMessage,
			CustomTitle:  detail.CustomTitle,
			State:        detail.State,
			StateReason:  detail.StateReason,

			AgentSessionID:         rec.AgentSessionID,
			AgentSessionSource:     rec.Source,
			AgentSessionConfidence: rec.Confidence,
			AgentSessionObservedAt: timePtrToString(rec.ObservedAt),
		}
	}

	events := m.timeline.Snapshot()
	timelineDoc := make(map[string][]persistence.TimelineEvent, len(events))
	for paneID, paneEvents := range events {
		converted := make([]persistence.TimelineEvent, 0, len(paneEvents))
		for _, e := range paneEvents {
			var ended *string
			if e.EndedAt != nil {
				s := e.EndedAt.UTC().Format(time.RFC3339)
				ended = &s
			}
			converted = append(converted, persistence.TimelineEvent{
				ID:        e.ID,
				PaneID:    e.PaneID,
				State:     e.State,
				Reason:    e.Reason,
				RepoRoot:  e.RepoRoot,
				StartedAt: e.StartedAt.UTC().Format(time.RFC3339),
				EndedAt:   ended,
				Source:    string(e.Source),
			})
		}
		timelineDoc[paneID] = converted
	}

	doc := persistence.Document{
		Version:  persistence.CurrentVersion,
		SavedAt:  now.UTC().Format(time.RFC3339),
		Sessions: sessions,
		Timeline: timelineDoc,
	}

	m.saveMu.Lock()
	defer m.saveMu.Unlock()
	if err := m.persist.Save(doc); err != nil {
		m.logger.Error("saveState failed, previous snapshot retained", "err", err)
	}
}
