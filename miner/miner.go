// Package miner implements the epoch-ticker singleton-leader process that
// snapshots the accepted-submission mempool into a SHA-256 hash-linked
// block once per epoch.
package miner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// advisoryLockKey is an arbitrary constant identifying the miner's
// singleton-leader lease in Postgres's session-level advisory lock space.
const advisoryLockKey = 0x6a756467636f7265 // "judgcore" truncated to 63 bits

// genesisParentHash is the parent hash recorded on the first block.
const genesisParentHash = "0000000000000000000000000000000000000000000000000000000000000"

var ErrAlreadyMined = errors.New("miner: epoch already closed")

// Tx is a confirmed acceptance entering this epoch's block.
type Tx struct {
	SubmissionID int64
	UserID       int64
	ProblemID    int64
	PointsEarned int32
	SubmittedAt  time.Time
}

// Block is a persisted ledger entry.
type Block struct {
	ID          int64
	Height      int64
	ParentHash  string
	BlockHash   string
	CreatedAt   time.Time
	TxCount     int
	TotalPoints int64
	MinerUserID *int64
}

// Miner runs the epoch loop. Only one process acquires the advisory lock at
// a time; operators may run several for redundancy, but at most one does
// real work per tick.
type Miner struct {
	db       *pgxpool.Pool
	epoch    time.Duration
}

func New(db *pgxpool.Pool, epoch time.Duration) *Miner {
	if epoch <= 0 {
		epoch = 5 * time.Second
	}
	return &Miner{db: db, epoch: epoch}
}

// Run loops until ctx is cancelled, attempting to close one epoch per tick.
func (m *Miner) Run(ctx context.Context) {
	if err := m.ensureGenesis(ctx); err != nil {
		log.Printf("[miner] genesis init failed: %v", err)
	}

	ticker := time.NewTicker(m.epoch)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.tick(ctx); err != nil && !errors.Is(err, ErrAlreadyMined) {
				log.Printf("[miner] tick error: %v", err)
			}
		}
	}
}

func (m *Miner) ensureGenesis(ctx context.Context) error {
	conn, err := m.db.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	var acquired bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, advisoryLockKey).Scan(&acquired); err != nil {
		return err
	}
	if !acquired {
		return nil
	}
	defer func() { _, _ = conn.Exec(ctx, `SELECT pg_advisory_unlock($1)`, advisoryLockKey) }()

	var count int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM blocks`).Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	hash := blockHash(0, genesisParentHash, time.Now(), "", 0)
	_, err = conn.Exec(ctx, `INSERT INTO blocks (height, parent_hash, block_hash, tx_count, total_points, miner_user_id)
VALUES (0, $1, $2, 0, 0, NULL)`, genesisParentHash, hash)
	return err
}

// tick attempts to close one epoch. It is a no-op (not an error the caller
// should log loudly) when another process holds the leader lease.
func (m *Miner) tick(ctx context.Context) error {
	conn, err := m.db.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	var acquired bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, advisoryLockKey).Scan(&acquired); err != nil {
		return err
	}
	if !acquired {
		return nil
	}
	defer func() { _, _ = conn.Exec(ctx, `SELECT pg_advisory_unlock($1)`, advisoryLockKey) }()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var height int64
	var parentHash string
	if err := tx.QueryRow(ctx, `SELECT height, block_hash FROM blocks ORDER BY height DESC LIMIT 1`).Scan(&height, &parentHash); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			height, parentHash = -1, genesisParentHash
		} else {
			return err
		}
	}

	const unminedQ = `SELECT s.id, s.user_id, s.problem_id, COALESCE(s.points_earned,0), s.created_at
FROM submissions s
JOIN submission_results sr ON sr.submission_id = s.id
WHERE sr.verdict='AC' AND s.block_id IS NULL
ORDER BY s.created_at ASC`
	rows, err := tx.Query(ctx, unminedQ)
	if err != nil {
		return err
	}
	var txs []Tx
	for rows.Next() {
		var t Tx
		if err := rows.Scan(&t.SubmissionID, &t.UserID, &t.ProblemID, &t.PointsEarned, &t.SubmittedAt); err != nil {
			rows.Close()
			return err
		}
		txs = append(txs, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	if len(txs) == 0 {
		return ErrAlreadyMined
	}

	minerUserID := mostSolvedProblemFirstSolver(txs)

	canonical := canonicalize(txs)
	now := time.Now()
	hash := blockHash(height+1, parentHash, now, canonical, minerUserID)

	var totalPoints int64
	for _, t := range txs {
		totalPoints += int64(t.PointsEarned)
	}

	var blockID int64
	if err := tx.QueryRow(ctx, `INSERT INTO blocks (height, parent_hash, block_hash, tx_count, total_points, miner_user_id, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id`,
		height+1, parentHash, hash, len(txs), totalPoints, nullableUserID(minerUserID), now).Scan(&blockID); err != nil {
		return err
	}

	ids := make([]int64, len(txs))
	for i, t := range txs {
		ids[i] = t.SubmissionID
	}
	if _, err := tx.Exec(ctx, `UPDATE submissions SET block_id=$1 WHERE id = ANY($2)`, blockID, ids); err != nil {
		return err
	}

	if minerUserID != 0 {
		if _, err := tx.Exec(ctx, `INSERT INTO user_scores (user_id, total_points, blocks_mined)
VALUES ($1, 0, 1)
ON CONFLICT (user_id) DO UPDATE SET blocks_mined = user_scores.blocks_mined + 1`, minerUserID); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// mostSolvedProblemFirstSolver credits the epoch's block to the first solver
// of whichever problem has the highest AC count in txs, tie-broken by the
// earliest submitted_at among the tied problems' first solves (not by
// problem ID). txs must be ordered by SubmittedAt ascending, so the first
// occurrence seen for each problem is that problem's first AC.
func mostSolvedProblemFirstSolver(txs []Tx) int64 {
	counts := map[int64]int{}
	firstOf := map[int64]Tx{}
	for _, t := range txs {
		counts[t.ProblemID]++
		if _, seen := firstOf[t.ProblemID]; !seen {
			firstOf[t.ProblemID] = t
		}
	}

	var winner Tx
	haveWinner := false
	best := -1
	for pid, c := range counts {
		first := firstOf[pid]
		if !haveWinner || c > best || (c == best && first.SubmittedAt.Before(winner.SubmittedAt)) {
			best = c
			winner = first
			haveWinner = true
		}
	}
	if !haveWinner {
		return 0
	}
	return winner.UserID
}

// canonicalize produces the deterministic transaction listing hashed into
// the block: one line per tx, fields joined with '|', in the order of txs
// (not re-sorted here).
func canonicalize(txs []Tx) string {
	lines := make([]string, len(txs))
	for i, t := range txs {
		lines[i] = fmt.Sprintf("%d|%d|%d|%d", t.SubmissionID, t.UserID, t.ProblemID, t.PointsEarned)
	}
	// txs arrive pre-sorted by submitted_at from the SQL ORDER BY.
	return strings.Join(lines, "\n")
}

func blockHash(height int64, parentHash string, ts time.Time, canonical string, minerUserID int64) string {
	h := sha256.New()
	h.Write([]byte(strconv.FormatInt(height, 10)))
	h.Write([]byte(parentHash))
	h.Write([]byte(ts.UTC().Format(time.RFC3339Nano)))
	h.Write([]byte(canonical))
	h.Write([]byte(strconv.FormatInt(minerUserID, 10)))
	return hex.EncodeToString(h.Sum(nil))
}

func nullableUserID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}
