package dao

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jayykioh/TRAVYY-touring-website-sub000/model"
)

// Dialect captures the few differences between the supported SQL engines.
// Both use '?' placeholders.
type Dialect struct {
	DriverName string
	// LockClause is appended to the SELECT that loads a thread for writing.
	// SQLite has no row locks; its DSN opens immediate transactions instead.
	LockClause string
}

var (
	MySQL  = Dialect{DriverName: "mysql", LockClause: " FOR UPDATE"}
	SQLite = Dialect{DriverName: "sqlite3", LockClause: ""}
)

type SQLThreadRepository struct {
	db      *sqlx.DB
	dialect Dialect
}

func NewSQLThreadRepository(db *sqlx.DB, dialect Dialect) *SQLThreadRepository {
	return &SQLThreadRepository{db: db, dialect: dialect}
}

const threadColumns = `id, tour_request_id, traveler_id, guide_id, status, currency, initial_budget,
	offer_amount, offer_by_id, offer_by_role, offer_at, min_price, final_price,
	traveler_agreed, guide_agreed, traveler_read_seq, guide_read_seq, last_seq, version, created_at, updated_at`

const messageColumns = `id, thread_id, seq, sender_id, sender_role, kind, content, attachments,
	offer_amount, client_id, created_at, edited_at, deleted`

type threadRow struct {
	ID              string         `db:"id"`
	TourRequestID   sql.NullString `db:"tour_request_id"`
	TravelerID      string         `db:"traveler_id"`
	GuideID         string         `db:"guide_id"`
	Status          string         `db:"status"`
	Currency        string         `db:"currency"`
	InitialBudget   int64          `db:"initial_budget"`
	OfferAmount     sql.NullInt64  `db:"offer_amount"`
	OfferByID       sql.NullString `db:"offer_by_id"`
	OfferByRole     sql.NullString `db:"offer_by_role"`
	OfferAt         sql.NullInt64  `db:"offer_at"`
	MinPrice        sql.NullInt64  `db:"min_price"`
	FinalPrice      sql.NullInt64  `db:"final_price"`
	TravelerAgreed  bool           `db:"traveler_agreed"`
	GuideAgreed     bool           `db:"guide_agreed"`
	TravelerReadSeq int64          `db:"traveler_read_seq"`
	GuideReadSeq    int64          `db:"guide_read_seq"`
	LastSeq         int64          `db:"last_seq"`
	Version         int64          `db:"version"`
	CreatedAt       int64          `db:"created_at"`
	UpdatedAt       int64          `db:"updated_at"`
}

type messageRow struct {
	ID          string         `db:"id"`
	ThreadID    string         `db:"thread_id"`
	Seq         int64          `db:"seq"`
	SenderID    string         `db:"sender_id"`
	SenderRole  string         `db:"sender_role"`
	Kind        string         `db:"kind"`
	Content     string         `db:"content"`
	Attachments sql.NullString `db:"attachments"`
	OfferAmount sql.NullInt64  `db:"offer_amount"`
	ClientID    sql.NullString `db:"client_id"`
	CreatedAt   int64          `db:"created_at"`
	EditedAt    sql.NullInt64  `db:"edited_at"`
	Deleted     bool           `db:"deleted"`
}

type offerRow struct {
	ID        string `db:"id"`
	ThreadID  string `db:"thread_id"`
	Amount    int64  `db:"amount"`
	Currency  string `db:"currency"`
	PartyID   string `db:"party_id"`
	PartyRole string `db:"party_role"`
	CreatedAt int64  `db:"created_at"`
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (r threadRow) toModel() *model.Thread {
	t := &model.Thread{
		ID:            r.ID,
		TourRequestID: r.TourRequestID.String,
		TravelerID:    r.TravelerID,
		GuideID:       r.GuideID,
		Status:        model.Status(r.Status),
		InitialBudget: model.Money{Amount: r.InitialBudget, Currency: r.Currency},
		Agreement:     model.Agreement{TravelerAgreed: r.TravelerAgreed, GuideAgreed: r.GuideAgreed},
		ReadMarkers:   model.ReadMarkers{TravelerSeq: r.TravelerReadSeq, GuideSeq: r.GuideReadSeq},
		LastSeq:       r.LastSeq,
		Version:       r.Version,
		CreatedAt:     fromMillis(r.CreatedAt),
		UpdatedAt:     fromMillis(r.UpdatedAt),
	}
	if r.OfferAmount.Valid {
		t.LatestOffer = &model.LatestOffer{
			Amount:     r.OfferAmount.Int64,
			Currency:   r.Currency,
			ProposedBy: model.Sender{PartyID: r.OfferByID.String, Role: model.Role(r.OfferByRole.String)},
			At:         fromMillis(r.OfferAt.Int64),
		}
	}
	if r.MinPrice.Valid {
		t.MinPrice = &model.Money{Amount: r.MinPrice.Int64, Currency: r.Currency}
	}
	if r.FinalPrice.Valid {
		t.FinalPrice = &model.Money{Amount: r.FinalPrice.Int64, Currency: r.Currency}
	}
	return t
}

func (r messageRow) toModel(currency string) (model.Message, error) {
	m := model.Message{
		ID:        r.ID,
		ThreadID:  r.ThreadID,
		Seq:       r.Seq,
		Sender:    model.Sender{PartyID: r.SenderID, Role: model.Role(r.SenderRole)},
		Kind:      model.MessageKind(r.Kind),
		Content:   r.Content,
		ClientID:  r.ClientID.String,
		CreatedAt: fromMillis(r.CreatedAt),
		Deleted:   r.Deleted,
	}
	if r.Attachments.Valid && r.Attachments.String != "" {
		if err := json.Unmarshal([]byte(r.Attachments.String), &m.Attachments); err != nil {
			return model.Message{}, fmt.Errorf("decode attachments of %s: %w", r.ID, err)
		}
	}
	if r.OfferAmount.Valid {
		m.Offer = &model.Money{Amount: r.OfferAmount.Int64, Currency: currency}
	}
	if r.EditedAt.Valid {
		e := fromMillis(r.EditedAt.Int64)
		m.EditedAt = &e
	}
	return m, nil
}

func encodeAttachments(a []string) (sql.NullString, error) {
	if len(a) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

// isDuplicate matches unique-key violations of both engines.
func isDuplicate(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "Duplicate entry") || strings.Contains(msg, "UNIQUE constraint failed")
}

func (r *SQLThreadRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLThreadRepository) Close() error {
	return r.db.Close()
}

func (r *SQLThreadRepository) Create(ctx context.Context, t *model.Thread) error {
	query := `INSERT INTO threads (` + threadColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query, threadArgs(t)...)
	if err != nil {
		if isDuplicate(err) {
			return model.ErrThreadExists
		}
		return fmt.Errorf("insert thread: %w", err)
	}
	return nil
}

func threadArgs(t *model.Thread) []interface{} {
	var offerAmount, offerAt sql.NullInt64
	var offerByID, offerByRole sql.NullString
	if o := t.LatestOffer; o != nil {
		offerAmount = sql.NullInt64{Int64: o.Amount, Valid: true}
		offerAt = sql.NullInt64{Int64: o.At.UnixMilli(), Valid: true}
		offerByID = nullString(o.ProposedBy.PartyID)
		offerByRole = nullString(string(o.ProposedBy.Role))
	}
	var minPrice, finalPrice sql.NullInt64
	if t.MinPrice != nil {
		minPrice = sql.NullInt64{Int64: t.MinPrice.Amount, Valid: true}
	}
	if t.FinalPrice != nil {
		finalPrice = sql.NullInt64{Int64: t.FinalPrice.Amount, Valid: true}
	}
	return []interface{}{
		t.ID, nullString(t.TourRequestID), t.TravelerID, t.GuideID, string(t.Status), t.Currency(), t.InitialBudget.Amount,
		offerAmount, offerByID, offerByRole, offerAt, minPrice, finalPrice,
		t.Agreement.TravelerAgreed, t.Agreement.GuideAgreed, t.ReadMarkers.TravelerSeq, t.ReadMarkers.GuideSeq,
		t.LastSeq, t.Version, t.CreatedAt.UnixMilli(), t.UpdatedAt.UnixMilli(),
	}
}

func (r *SQLThreadRepository) Get(ctx context.Context, id string) (*model.Thread, error) {
	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{ReadOnly: r.dialect.DriverName == MySQL.DriverName})
	if err != nil {
		return nil, fmt.Errorf("begin snapshot: %w", err)
	}
	defer tx.Rollback()

	var row threadRow
	if err := tx.GetContext(ctx, &row, `SELECT `+threadColumns+` FROM threads WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrThreadNotFound
		}
		return nil, fmt.Errorf("select thread: %w", err)
	}
	t := row.toModel()

	var rows []messageRow
	if err := tx.SelectContext(ctx, &rows, `SELECT `+messageColumns+` FROM messages WHERE thread_id = ? ORDER BY seq ASC`, id); err != nil {
		return nil, fmt.Errorf("select messages: %w", err)
	}
	t.Messages = make([]model.Message, 0, len(rows))
	for _, mr := range rows {
		m, err := mr.toModel(t.Currency())
		if err != nil {
			return nil, err
		}
		t.Messages = append(t.Messages, m)
	}
	return t, nil
}

func (r *SQLThreadRepository) ListByParty(ctx context.Context, party model.Sender) ([]model.Thread, error) {
	column := "traveler_id"
	if party.Role == model.RoleGuide {
		column = "guide_id"
	}
	var rows []threadRow
	query := `SELECT ` + threadColumns + ` FROM threads WHERE ` + column + ` = ? ORDER BY updated_at DESC`
	if err := r.db.SelectContext(ctx, &rows, query, party.PartyID); err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	threads := make([]model.Thread, 0, len(rows))
	for _, row := range rows {
		threads = append(threads, *row.toModel())
	}
	return threads, nil
}

func (r *SQLThreadRepository) Offers(ctx context.Context, threadID string) ([]model.Offer, error) {
	var rows []offerRow
	query := `SELECT id, thread_id, amount, currency, party_id, party_role, created_at FROM offers WHERE thread_id = ? ORDER BY created_at ASC, id ASC`
	if err := r.db.SelectContext(ctx, &rows, query, threadID); err != nil {
		return nil, fmt.Errorf("list offers: %w", err)
	}
	offers := make([]model.Offer, 0, len(rows))
	for _, o := range rows {
		offers = append(offers, model.Offer{
			ID:         o.ID,
			ThreadID:   o.ThreadID,
			Amount:     model.Money{Amount: o.Amount, Currency: o.Currency},
			ProposedBy: model.Sender{PartyID: o.PartyID, Role: model.Role(o.PartyRole)},
			CreatedAt:  fromMillis(o.CreatedAt),
		})
	}
	return offers, nil
}

func (r *SQLThreadRepository) Update(ctx context.Context, id string, fn func(tx ThreadTx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update: %w", err)
	}
	defer tx.Rollback()

	var row threadRow
	query := `SELECT ` + threadColumns + ` FROM threads WHERE id = ?` + r.dialect.LockClause
	if err := tx.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.ErrThreadNotFound
		}
		return fmt.Errorf("lock thread: %w", err)
	}

	stx := &sqlThreadTx{ctx: ctx, tx: tx, thread: row.toModel()}
	if err := fn(stx); err != nil {
		return err
	}

	t := stx.thread
	args := threadArgs(t)
	// identity, participants, currency, budget and created_at never change after Create
	_, err = tx.ExecContext(ctx, `UPDATE threads SET status = ?,
		offer_amount = ?, offer_by_id = ?, offer_by_role = ?, offer_at = ?, min_price = ?, final_price = ?,
		traveler_agreed = ?, guide_agreed = ?, traveler_read_seq = ?, guide_read_seq = ?,
		last_seq = ?, version = ?, updated_at = ?
		WHERE id = ?`,
		args[4], args[7], args[8], args[9], args[10], args[11], args[12],
		args[13], args[14], args[15], args[16], args[17], args[18], args[20], t.ID)
	if err != nil {
		return fmt.Errorf("update thread: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit thread: %w", err)
	}
	return nil
}

type sqlThreadTx struct {
	ctx    context.Context
	tx     *sqlx.Tx
	thread *model.Thread
}

func (s *sqlThreadTx) Thread() *model.Thread {
	return s.thread
}

func (s *sqlThreadTx) getMessage(query string, args ...interface{}) (*model.Message, error) {
	var row messageRow
	if err := s.tx.GetContext(s.ctx, &row, query, args...); err != nil {
		return nil, err
	}
	m, err := row.toModel(s.thread.Currency())
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *sqlThreadTx) Message(id string) (*model.Message, error) {
	m, err := s.getMessage(`SELECT `+messageColumns+` FROM messages WHERE id = ? AND thread_id = ?`, id, s.thread.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrMessageNotFound
		}
		return nil, fmt.Errorf("select message: %w", err)
	}
	return m, nil
}

func (s *sqlThreadTx) MessageByClientID(sender model.Sender, clientID string) (*model.Message, error) {
	if clientID == "" {
		return nil, nil
	}
	m, err := s.getMessage(`SELECT `+messageColumns+` FROM messages WHERE thread_id = ? AND sender_id = ? AND client_id = ?`,
		s.thread.ID, sender.PartyID, clientID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select message by client id: %w", err)
	}
	return m, nil
}

func (s *sqlThreadTx) AppendMessage(m *model.Message) error {
	s.thread.LastSeq++
	m.Seq = s.thread.LastSeq
	m.ThreadID = s.thread.ID

	attachments, err := encodeAttachments(m.Attachments)
	if err != nil {
		return err
	}
	var offerAmount sql.NullInt64
	if m.Offer != nil {
		offerAmount = sql.NullInt64{Int64: m.Offer.Amount, Valid: true}
	}
	_, err = s.tx.ExecContext(s.ctx, `INSERT INTO messages (`+messageColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ThreadID, m.Seq, m.Sender.PartyID, string(m.Sender.Role), string(m.Kind), m.Content, attachments,
		offerAmount, nullString(m.ClientID), m.CreatedAt.UnixMilli(), editedAt(m), m.Deleted)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func editedAt(m *model.Message) sql.NullInt64 {
	if m.EditedAt == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: m.EditedAt.UnixMilli(), Valid: true}
}

func (s *sqlThreadTx) SaveMessage(m *model.Message) error {
	attachments, err := encodeAttachments(m.Attachments)
	if err != nil {
		return err
	}
	_, err = s.tx.ExecContext(s.ctx, `UPDATE messages SET content = ?, attachments = ?, edited_at = ?, deleted = ? WHERE id = ? AND thread_id = ?`,
		m.Content, attachments, editedAt(m), m.Deleted, m.ID, s.thread.ID)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	return nil
}

func (s *sqlThreadTx) AddOffer(o *model.Offer) error {
	_, err := s.tx.ExecContext(s.ctx, `INSERT INTO offers (id, thread_id, amount, currency, party_id, party_role, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		o.ID, s.thread.ID, o.Amount.Amount, o.Amount.Currency, o.ProposedBy.PartyID, string(o.ProposedBy.Role), o.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert offer: %w", err)
	}
	return nil
}
