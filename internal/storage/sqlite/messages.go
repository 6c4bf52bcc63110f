package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/switchboardhq/switchboard/internal/core"
)

// SendMessage inserts the message row and one recipient edge per agent.
// Recipient lists arrive already deduplicated from the hub. The FTS index
// is maintained by schema triggers in the same transaction.
func (s *Store) SendMessage(ctx context.Context, msg core.Message) (core.Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now()
	}
	if msg.Importance == "" {
		msg.Importance = core.ImportanceNormal
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Message{}, fmt.Errorf("begin send: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO messages (id, project, thread_id, sender, subject, body, importance, ack_required, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.Project, msg.ThreadID, msg.From, msg.Subject, msg.Body,
		string(msg.Importance), boolToInt(msg.AckRequired), fmtTime(msg.CreatedAt),
	)
	if err != nil {
		return core.Message{}, fmt.Errorf("insert message: %w", err)
	}

	insertEdges := func(agents []string, kind core.RecipientKind) error {
		for _, agent := range agents {
			if _, err := tx.Exec(
				`INSERT INTO message_recipients (message_id, agent, kind) VALUES (?, ?, ?)`,
				msg.ID, agent, string(kind),
			); err != nil {
				return fmt.Errorf("insert recipient %s: %w", agent, err)
			}
		}
		return nil
	}
	if err := insertEdges(msg.To, core.RecipientTo); err != nil {
		return core.Message{}, err
	}
	if err := insertEdges(msg.CC, core.RecipientCC); err != nil {
		return core.Message{}, err
	}
	if err := insertEdges(msg.BCC, core.RecipientBCC); err != nil {
		return core.Message{}, err
	}

	if err := tx.Commit(); err != nil {
		return core.Message{}, fmt.Errorf("commit send: %w", err)
	}
	return msg, nil
}

func (s *Store) GetMessage(ctx context.Context, project, id string) (core.Message, error) {
	row := s.db.QueryRow(messageSelect+` WHERE project = ? AND id = ?`, project, id)
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Message{}, core.ErrNotFound
	}
	if err != nil {
		return core.Message{}, err
	}
	return s.attachRecipients(project, []core.Message{msg})
}

// MarkRead stamps the agent's recipient edge once. Repeats are no-ops that
// keep the first timestamp; a non-recipient gets ErrNotFound, which is
// acceptable in this trust model of cooperating project peers.
func (s *Store) MarkRead(ctx context.Context, project, messageID, agent string) error {
	return s.stampEdge(ctx, project, messageID, agent, "read_at")
}

// MarkAck is MarkRead for the acknowledgment timestamp. Meaningful when the
// message requires acks, harmless otherwise.
func (s *Store) MarkAck(ctx context.Context, project, messageID, agent string) error {
	return s.stampEdge(ctx, project, messageID, agent, "ack_at")
}

func (s *Store) stampEdge(ctx context.Context, project, messageID, agent, column string) error {
	// column is one of two compile-time constants, never caller input.
	res, err := s.db.Exec(
		`UPDATE message_recipients SET `+column+` = ?
		 WHERE message_id = ? AND agent = ? AND `+column+` IS NULL
		   AND message_id IN (SELECT id FROM messages WHERE project = ?)`,
		fmtTime(s.now()), messageID, agent, project,
	)
	if err != nil {
		return fmt.Errorf("stamp %s: %w", column, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	// Nothing stamped: either already stamped (fine) or not a recipient.
	row := s.db.QueryRow(
		`SELECT 1 FROM message_recipients r JOIN messages m ON m.id = r.message_id
		 WHERE r.message_id = ? AND r.agent = ? AND m.project = ?`,
		messageID, agent, project,
	)
	var one int
	if err := row.Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.ErrNotFound
		}
		return fmt.Errorf("check recipient: %w", err)
	}
	return nil
}

// Inbox returns every message with a recipient edge for the agent, newest
// first.
func (s *Store) Inbox(ctx context.Context, project, agent string) ([]core.Message, error) {
	rows, err := s.db.Query(
		messageSelect+` JOIN message_recipients r ON r.message_id = m.id
		 WHERE m.project = ? AND r.agent = ?
		 ORDER BY m.created_at DESC, m.rowid DESC`,
		project, agent,
	)
	if err != nil {
		return nil, fmt.Errorf("query inbox: %w", err)
	}
	msgs, err := collectMessages(rows)
	if err != nil {
		return nil, err
	}
	return s.attachRecipientsList(project, msgs)
}

// Outbox returns every message the agent sent, newest first.
func (s *Store) Outbox(ctx context.Context, project, agent string) ([]core.Message, error) {
	rows, err := s.db.Query(
		messageSelect+` WHERE m.project = ? AND m.sender = ?
		 ORDER BY m.created_at DESC, m.rowid DESC`,
		project, agent,
	)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	msgs, err := collectMessages(rows)
	if err != nil {
		return nil, err
	}
	return s.attachRecipientsList(project, msgs)
}

// SearchMessages matches tokens via the FTS index first, then falls back
// to a substring scan so partial-word queries still find their message.
// Results are relevance-ordered by FTS rank with recency as tiebreak.
func (s *Store) SearchMessages(ctx context.Context, project, query string, limit int) ([]core.Message, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(
		messageSelect+` JOIN messages_fts f ON f.rowid = m.rowid
		 WHERE m.project = ? AND messages_fts MATCH ?
		 ORDER BY f.rank, m.created_at DESC LIMIT ?`,
		project, ftsQuery(query), limit,
	)
	if err == nil {
		msgs, cerr := collectMessages(rows)
		if cerr != nil {
			return nil, cerr
		}
		if len(msgs) > 0 {
			return s.attachRecipientsList(project, msgs)
		}
	}

	like := "%" + escapeLike(query) + "%"
	rows, err = s.db.Query(
		messageSelect+` WHERE m.project = ? AND (m.body LIKE ? ESCAPE '\' OR m.subject LIKE ? ESCAPE '\')
		 ORDER BY m.created_at DESC, m.rowid DESC LIMIT ?`,
		project, like, like, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}
	msgs, err := collectMessages(rows)
	if err != nil {
		return nil, err
	}
	return s.attachRecipientsList(project, msgs)
}

// ftsQuery turns free text into an FTS5 prefix query, quoting each token
// so user input can never inject FTS syntax.
func ftsQuery(q string) string {
	fields := strings.Fields(q)
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.ReplaceAll(f, `"`, `""`)
		parts = append(parts, `"`+f+`"*`)
	}
	return strings.Join(parts, " ")
}

func escapeLike(q string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(q)
}

// ThreadMessages returns the thread ascending by creation time. Callers
// derive subject, participants and last activity from the list.
func (s *Store) ThreadMessages(ctx context.Context, project, threadID string) ([]core.Message, error) {
	rows, err := s.db.Query(
		messageSelect+` WHERE m.project = ? AND m.thread_id = ?
		 ORDER BY m.created_at ASC, m.rowid ASC`,
		project, threadID,
	)
	if err != nil {
		return nil, fmt.Errorf("query thread: %w", err)
	}
	msgs, err := collectMessages(rows)
	if err != nil {
		return nil, err
	}
	return s.attachRecipientsList(project, msgs)
}

func (s *Store) Recipients(ctx context.Context, project, messageID string) ([]core.Recipient, error) {
	rows, err := s.db.Query(
		`SELECT r.message_id, r.agent, r.kind, r.read_at, r.ack_at
		 FROM message_recipients r JOIN messages m ON m.id = r.message_id
		 WHERE m.project = ? AND r.message_id = ?
		 ORDER BY r.agent`,
		project, messageID,
	)
	if err != nil {
		return nil, fmt.Errorf("query recipients: %w", err)
	}
	defer rows.Close()

	out := []core.Recipient{}
	for rows.Next() {
		var rec core.Recipient
		var kind string
		var readAt, ackAt sql.NullString
		if err := rows.Scan(&rec.MessageID, &rec.Agent, &kind, &readAt, &ackAt); err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		rec.Kind = core.RecipientKind(kind)
		rec.ReadAt = parseTimePtr(readAt)
		rec.AckAt = parseTimePtr(ackAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// RecentMessages serves the unified inbox aggregator: newest first for one
// project, bounded by limit.
func (s *Store) RecentMessages(ctx context.Context, project string, limit int) ([]core.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		messageSelect+` WHERE m.project = ?
		 ORDER BY m.created_at DESC, m.rowid DESC LIMIT ?`,
		project, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent: %w", err)
	}
	msgs, err := collectMessages(rows)
	if err != nil {
		return nil, err
	}
	return s.attachRecipientsList(project, msgs)
}

func (s *Store) MessageCount(ctx context.Context, project string) (int, error) {
	row := s.db.QueryRow(`SELECT COUNT(*) FROM messages WHERE project = ?`, project)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

const messageSelect = `SELECT m.id, m.project, m.thread_id, m.sender, m.subject, m.body,
	m.importance, m.ack_required, m.created_at FROM messages m`

func collectMessages(rows *sql.Rows) ([]core.Message, error) {
	defer rows.Close()
	out := []core.Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

func scanMessage(row scanner) (core.Message, error) {
	var m core.Message
	var threadID, subject sql.NullString
	var importance, createdAt string
	var ackRequired int
	err := row.Scan(&m.ID, &m.Project, &threadID, &m.From, &subject, &m.Body, &importance, &ackRequired, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Message{}, err
		}
		return core.Message{}, fmt.Errorf("scan message: %w", err)
	}
	m.ThreadID = threadID.String
	m.Subject = subject.String
	m.Importance = core.Importance(importance)
	m.AckRequired = ackRequired != 0
	m.CreatedAt = parseTime(createdAt)
	return m, nil
}

// attachRecipients fills the To/CC/BCC lists of a single message and
// returns it by value.
func (s *Store) attachRecipients(project string, msgs []core.Message) (core.Message, error) {
	filled, err := s.attachRecipientsList(project, msgs)
	if err != nil {
		return core.Message{}, err
	}
	return filled[0], nil
}

// attachRecipientsList rebuilds the recipient lists for a batch of
// messages with one query.
func (s *Store) attachRecipientsList(project string, msgs []core.Message) ([]core.Message, error) {
	if len(msgs) == 0 {
		return msgs, nil
	}
	placeholders := make([]string, len(msgs))
	args := make([]any, 0, len(msgs))
	for i, m := range msgs {
		placeholders[i] = "?"
		args = append(args, m.ID)
	}
	rows, err := s.db.Query(
		`SELECT message_id, agent, kind FROM message_recipients
		 WHERE message_id IN (`+strings.Join(placeholders, ",")+`) ORDER BY rowid`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("query recipient lists: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]*core.Message, len(msgs))
	for i := range msgs {
		byID[msgs[i].ID] = &msgs[i]
	}
	for rows.Next() {
		var id, agent, kind string
		if err := rows.Scan(&id, &agent, &kind); err != nil {
			return nil, fmt.Errorf("scan recipient list: %w", err)
		}
		m, ok := byID[id]
		if !ok {
			continue
		}
		switch core.RecipientKind(kind) {
		case core.RecipientCC:
			m.CC = append(m.CC, agent)
		case core.RecipientBCC:
			m.BCC = append(m.BCC, agent)
		default:
			m.To = append(m.To, agent)
		}
	}
	return msgs, rows.Err()
}
