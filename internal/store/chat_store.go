package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/vbonduro/treebank/internal/domain"
)

var ErrInvalidTurn = goerr.New("invalid chat turn")

// timeLayout is fixed width so that text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// ChatLogStore records chat turns the user explicitly asked to keep.
type ChatLogStore struct {
	db *sql.DB
}

func NewChatLogStore(db *sql.DB) *ChatLogStore {
	return &ChatLogStore{db: db}
}

func (s *ChatLogStore) Append(ctx context.Context, sessionID, treeID string, turn domain.ChatTurn) error {
	return s.AppendTurns(ctx, sessionID, treeID, turn)
}

// AppendTurns logs turns in one transaction: either all of them are stored or
// none are.
func (s *ChatLogStore) AppendTurns(ctx context.Context, sessionID, treeID string, turns ...domain.ChatTurn) (err error) {
	if strings.TrimSpace(sessionID) == "" {
		return goerr.Wrap(ErrInvalidTurn, "session id is empty")
	}
	if len(turns) == 0 {
		return nil
	}
	for _, turn := range turns {
		if turn.Role != domain.RoleUser && turn.Role != domain.RoleAssistant {
			return goerr.Wrap(ErrInvalidTurn, "unknown chat role", goerr.V("role", turn.Role))
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return goerr.Wrap(err, "failed to begin chat log transaction", goerr.V("session_id", sessionID))
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, turn := range turns {
		if turn.Timestamp.IsZero() {
			turn.Timestamp = time.Now()
		}
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO chat_turns (session_id, tree_id, role, text, created_at) VALUES (?, ?, ?, ?, ?)
		`, sessionID, treeID, string(turn.Role), turn.Text, turn.Timestamp.UTC().Format(timeLayout)); err != nil {
			return goerr.Wrap(err, "failed to append chat turn", goerr.V("session_id", sessionID))
		}
	}

	if err = tx.Commit(); err != nil {
		return goerr.Wrap(err, "failed to commit chat turns", goerr.V("session_id", sessionID))
	}
	return nil
}

// List returns a session's turns in the order they were logged. An unknown
// session yields an empty slice.
func (s *ChatLogStore) List(ctx context.Context, sessionID string) ([]domain.ChatTurn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, text, created_at FROM chat_turns WHERE session_id = ? ORDER BY id ASC
	`, sessionID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list chat turns", goerr.V("session_id", sessionID))
	}
	defer rows.Close()

	turns := []domain.ChatTurn{}
	for rows.Next() {
		var role, text, created string
		if err := rows.Scan(&role, &text, &created); err != nil {
			return nil, goerr.Wrap(err, "failed to scan chat turn")
		}
		ts, err := time.Parse(timeLayout, created)
		if err != nil {
			return nil, goerr.Wrap(err, "invalid chat turn timestamp", goerr.V("value", created))
		}
		turns = append(turns, domain.ChatTurn{Role: domain.ChatRole(role), Text: text, Timestamp: ts})
	}

	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "error iterating chat turns")
	}
	return turns, nil
}

// Sessions lists every logged session, most recently active first.
func (s *ChatLogStore) Sessions(ctx context.Context) ([]domain.ChatSession, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, MAX(tree_id), COUNT(*), MAX(created_at), MAX(id) AS last_id
		FROM chat_turns
		GROUP BY session_id
		ORDER BY last_id DESC
	`)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list chat sessions")
	}
	defer rows.Close()

	sessions := []domain.ChatSession{}
	for rows.Next() {
		var sess domain.ChatSession
		var last string
		var lastID int64
		if err := rows.Scan(&sess.ID, &sess.TreeID, &sess.Turns, &last, &lastID); err != nil {
			return nil, goerr.Wrap(err, "failed to scan chat session")
		}
		ts, err := time.Parse(timeLayout, last)
		if err != nil {
			return nil, goerr.Wrap(err, "invalid chat session timestamp", goerr.V("value", last))
		}
		sess.LastTurn = ts
		sessions = append(sessions, sess)
	}

	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "error iterating chat sessions")
	}
	return sessions, nil
}
