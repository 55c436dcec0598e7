package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/agent-overlay/monitor/internal/session"
)

// scanViews folds session LEFT JOIN agent rows into views. Rows of one
// session must be contiguous.
func scanViews(rows *sql.Rows) ([]session.SessionView, error) {
	views := []session.SessionView{}
	for rows.Next() {
		var (
			sess                 session.Session
			status               string
			createdAt, updatedAt string

			agentID, agentName, parent, agentStatus sql.NullString
			agentCreated, agentUpdated              sql.NullString
		)
		if err := rows.Scan(
			&sess.ID, &sess.SessionID, &sess.ProjectPath, &sess.ProjectName, &status, &createdAt, &updatedAt,
			&agentID, &agentName, &parent, &agentStatus, &agentCreated, &agentUpdated,
		); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}

		if n := len(views); n == 0 || views[n-1].SessionID != sess.SessionID {
			var err error
			if sess.Status, err = session.ParseStatus(status); err != nil {
				return nil, err
			}
			if sess.CreatedAt, err = parseTime(createdAt); err != nil {
				return nil, err
			}
			if sess.UpdatedAt, err = parseTime(updatedAt); err != nil {
				return nil, err
			}
			views = append(views, session.SessionView{Session: sess, Agents: []session.Agent{}})
		}

		if !agentID.Valid {
			continue
		}
		agent := session.Agent{
			ID:              agentID.String,
			SessionID:       sess.SessionID,
			AgentName:       agentName.String,
			ParentSessionID: nullableString(parent),
		}
		var err error
		if agent.Status, err = session.ParseStatus(agentStatus.String); err != nil {
			return nil, err
		}
		if agent.CreatedAt, err = parseTime(agentCreated.String); err != nil {
			return nil, err
		}
		if agent.UpdatedAt, err = parseTime(agentUpdated.String); err != nil {
			return nil, err
		}
		last := &views[len(views)-1]
		last.Agents = append(last.Agents, agent)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session rows: %w", err)
	}
	return views, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// parseTime also accepts plain RFC3339 so databases written by older
// builds still load.
func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(timeLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

func nullableString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}
