package main

import (
	"fmt"
	"path/filepath"

	"github.com/vinayprograms/reviewd/internal/config"
	"github.com/vinayprograms/reviewd/internal/session"
)

// Run lists stored sessions, or replays one session's event log when an ID
// is given.
func (c *SessionsCmd) Run() error {
	cfg, err := loadConfig(c.Config)
	if err != nil {
		return err
	}
	store, err := openSessions(cfg)
	if err != nil {
		return err
	}

	if c.ID != "" {
		return replaySession(store, c.ID)
	}
	return listSessions(store, c.Limit)
}

func listSessions(store *session.FileStore, limit int) error {
	records, err := store.List()
	if err != nil {
		return fmt.Errorf("listing sessions: %w", err)
	}
	if len(records) == 0 {
		fmt.Println("no sessions on record")
		return nil
	}
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}

	for _, rec := range records {
		fmt.Printf("%s  %-12s %-6s %s  %d events\n",
			rec.ID, rec.Submitter, rec.Phase,
			rec.UpdatedAt.Format("2006-01-02 15:04"), len(rec.Events))
	}
	return nil
}

func replaySession(store *session.FileStore, id string) error {
	rec, err := store.Load(id)
	if err != nil {
		return fmt.Errorf("loading session %s: %w", id, err)
	}

	fmt.Printf("session %s  submitter=%s  phase=%s\n\n", rec.ID, rec.Submitter, rec.Phase)
	for _, evt := range rec.Events {
		fmt.Printf("%4d  %s  %-16s %s\n",
			evt.SeqID, evt.Timestamp.Format("15:04:05.000"), evt.Type, eventDetail(evt))
	}
	return nil
}

// eventDetail condenses one event to a single replay line.
func eventDetail(evt session.Event) string {
	detail := evt.Stage
	if detail == "" {
		detail = evt.Pipeline
	}
	if evt.Tool != "" {
		detail = "tool=" + evt.Tool
	}
	if evt.Iteration > 0 {
		detail = fmt.Sprintf("%s iter=%d", detail, evt.Iteration)
	}
	if evt.Verdict != "" {
		detail = fmt.Sprintf("%s verdict=%s", detail, evt.Verdict)
	}
	if evt.Error != "" {
		detail = fmt.Sprintf("%s error=%q", detail, evt.Error)
	}
	if evt.DurationMs > 0 {
		detail = fmt.Sprintf("%s (%dms)", detail, evt.DurationMs)
	}
	if detail == "" {
		detail = evt.Content
	}
	return detail
}

// openSessions opens just the session store, for read-only commands.
func openSessions(cfg *config.Config) (*session.FileStore, error) {
	rt := &runtime{cfg: cfg}
	rt.resolveStoragePath()

	store, err := session.NewFileStore(filepath.Join(rt.storagePath, "sessions"))
	if err != nil {
		return nil, fmt.Errorf("opening session store: %w", err)
	}
	return store, nil
}
