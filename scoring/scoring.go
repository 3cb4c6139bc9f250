// Package scoring computes the monotonically decaying per-problem point
// value and snapshots it onto a submission at the instant of acceptance.
// A point value, once awarded, is never retroactively reduced by later
// decay.
package scoring

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Params are the decay curve coefficients, sourced from POINTS_ALPHA and
// POINTS_MIN.
type Params struct {
	Alpha float64 // decay half-life-like shape parameter
	Min   int     // floor points value, never decayed below this
}

// Engine computes and persists point awards.
type Engine struct {
	db     *pgxpool.Pool
	params Params
}

func NewEngine(db *pgxpool.Pool, params Params) *Engine {
	if params.Alpha <= 0 {
		params.Alpha = 10
	}
	if params.Min <= 0 {
		params.Min = 1
	}
	return &Engine{db: db, params: params}
}

// decay implements decay(k) = 1 / (1 + k/alpha), the reference monotonic
// curve picked for the open "decay curve shape" question: strictly
// decreasing in k, decay(0) = 1, and asymptotic to 0 as k grows.
func decay(k int, alpha float64) float64 {
	return 1.0 / (1.0 + float64(k)/alpha)
}

// CurrentPoints returns the point value a problem is worth right now, given
// basePoints and the number of users who have already solved it.
func (e *Engine) CurrentPoints(basePoints int32, solvedCount int) int {
	v := float64(basePoints) * decay(solvedCount, e.params.Alpha)
	p := int(v)
	if p < e.params.Min {
		p = e.params.Min
	}
	return p
}

// Award computes the current point value for problemID (counting prior
// distinct AC solvers) and persists it into user_scores atomically with the
// read, so two concurrent first-solves can't both snapshot the pre-decay
// value. Returns the points granted to userID for this acceptance.
func (e *Engine) Award(ctx context.Context, problemID, userID int64) (int, error) {
	tx, err := e.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var basePoints int32
	if err := tx.QueryRow(ctx, `SELECT base_points FROM problems WHERE id=$1 FOR UPDATE`, problemID).Scan(&basePoints); err != nil {
		return 0, err
	}

	var solvedCount int
	const solvedQ = `SELECT COUNT(DISTINCT s.user_id) FROM submissions s
JOIN submission_results sr ON sr.submission_id = s.id
WHERE s.problem_id=$1 AND sr.verdict='AC' AND s.user_id <> $2`
	if err := tx.QueryRow(ctx, solvedQ, problemID, userID).Scan(&solvedCount); err != nil {
		return 0, err
	}

	points := e.CurrentPoints(basePoints, solvedCount)

	const upsert = `INSERT INTO user_scores (user_id, total_points, blocks_mined)
VALUES ($1, $2, 0)
ON CONFLICT (user_id) DO UPDATE SET total_points = user_scores.total_points + EXCLUDED.total_points`
	if _, err := tx.Exec(ctx, upsert, userID, points); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return points, nil
}

// Recompute fully rebuilds user_scores.total_points from submission history,
// a maintenance operation for drift repair after manual DB edits.
func (e *Engine) Recompute(ctx context.Context) error {
	tx, err := e.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `UPDATE user_scores SET total_points = 0`); err != nil {
		return err
	}

	const q = `SELECT s.user_id, s.points_earned FROM submissions s
JOIN submission_results sr ON sr.submission_id = s.id
WHERE sr.verdict='AC' AND s.points_earned IS NOT NULL
ORDER BY s.created_at`
	rows, err := tx.Query(ctx, q)
	if err != nil {
		return err
	}
	type award struct {
		userID int64
		points int32
	}
	var awards []award
	for rows.Next() {
		var a award
		if err := rows.Scan(&a.userID, &a.points); err != nil {
			rows.Close()
			return err
		}
		awards = append(awards, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, a := range awards {
		const upsert = `INSERT INTO user_scores (user_id, total_points, blocks_mined)
VALUES ($1, $2, 0)
ON CONFLICT (user_id) DO UPDATE SET total_points = user_scores.total_points + EXCLUDED.total_points`
		if _, err := tx.Exec(ctx, upsert, a.userID, a.points); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}
