package core

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Problem lifecycle states. Only "approved" problems accept submissions or
// appear in public listings.
const (
	ProblemStatusPending  = "pending"
	ProblemStatusApproved = "approved"
	ProblemStatusRejected = "rejected"
)

type ProblemRepository interface {
	ExistsAndApproved(ctx context.Context, id int64) (bool, error)
	Exists(ctx context.Context, id int64) (bool, error)
	ListPublic(ctx context.Context) ([]ProblemMeta, error)
	FindDetail(ctx context.Context, id int64) (*ProblemDetail, error)
	FindDetailAdmin(ctx context.Context, id int64) (*ProblemDetail, error)
	ListTestcases(ctx context.Context, id int64) ([]ProblemTestcase, error)
	CreateWithTestcases(ctx context.Context, input ProblemCreateInput) (int64, error)
	UpdateProblem(ctx context.Context, id int64, input ProblemUpdateInput) error
	AdminList(ctx context.Context, page, perPage int) ([]ProblemAdminListItem, int, error)
	ProblemStats(ctx context.Context, id int64) (*ProblemStats, error)
}

type PgProblemRepository struct {
	db *pgxpool.Pool
}

func NewPgProblemRepository(db *pgxpool.Pool) *PgProblemRepository {
	return &PgProblemRepository{db: db}
}

func (r *PgProblemRepository) ExistsAndApproved(ctx context.Context, id int64) (bool, error) {
	const q = `SELECT status FROM problems WHERE id=$1`
	var status string
	if err := r.db.QueryRow(ctx, q, id).Scan(&status); err != nil {
		return false, err
	}
	return status == ProblemStatusApproved, nil
}

func (r *PgProblemRepository) Exists(ctx context.Context, id int64) (bool, error) {
	const q = `SELECT 1 FROM problems WHERE id=$1`
	var one int
	if err := r.db.QueryRow(ctx, q, id).Scan(&one); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

type ProblemMeta struct {
	ID            int64  `json:"id"`
	Slug          string `json:"slug"`
	Title         string `json:"title"`
	TimeLimitMS   int32  `json:"time_limit_ms"`
	MemoryLimitKB int32  `json:"memory_limit_kb"`
	BasePoints    int32  `json:"base_points"`
	Difficulty    string `json:"difficulty"`
}

type ProblemDetail struct {
	ProblemMeta
	StatementMD      string // inline markdown
	Samples          []SampleCase
	CheckerType      string
	CheckerEps       float64
	Status           string
	StdoutCapBytes   int32
	Difficulty       string
	LanguagesAllowed []string // empty = every language in langrunner.Supported()
	TitleEn          string
	TitleEs          string
}

type SampleCase struct {
	Input  string `json:"input"`
	Output string `json:"output"`
}

// ProblemAdminListItem represents admin-visible problem summary with counts.
type ProblemAdminListItem struct {
	ID              int64  `json:"id"`
	Slug            string `json:"slug"`
	Title           string `json:"title"`
	Visibility      string `json:"visibility"`
	SolvedCount     int    `json:"solved_count"`
	SubmissionCount int    `json:"submission_count"`
}

// ProblemStats aggregates submission statistics for a problem.
type ProblemStats struct {
	ProblemID           int64          `json:"problem_id"`
	Title               string         `json:"title"`
	SubmissionCount     int            `json:"submission_count"`
	AcceptedCount       int            `json:"accepted_count"`
	UniqueUsers         int            `json:"unique_users"`
	UniqueAcceptedUsers int            `json:"unique_accepted_users"`
	AcceptanceRate      float64        `json:"acceptance_rate"`
	LastSubmissionAt    *time.Time     `json:"last_submission_at"`
	StatusBreakdown     map[string]int `json:"status_breakdown"`
}

// ProblemTestcase represents a single testcase path pair.
type ProblemTestcase struct {
	InputPath  string
	OutputPath string
	InputText  string
	OutputText string
	IsSample   bool
}

// ProblemCreateInput represents a new problem and all testcases to be inserted atomically.
type ProblemCreateInput struct {
	Title            string
	Slug             string
	StatementMD      string
	StatementPath    *string
	TimeLimitMS      int32
	MemoryLimitKB    int32
	Status           string
	BasePoints       int32
	CheckerType      string
	CheckerEps       float64
	StdoutCapBytes   int32
	Difficulty       string
	LanguagesAllowed []string
	TitleEn          string
	TitleEs          string
	Testcases        []ProblemTestcaseInput
}

// ProblemTestcaseInput holds inline testcase content for creation.
type ProblemTestcaseInput struct {
	InputText  string
	OutputText string
	InputPath  string
	OutputPath string
	IsSample   bool
}

// ProblemUpdateInput holds mutable fields for a problem.
type ProblemUpdateInput struct {
	Title            *string
	StatementMD      *string
	TimeLimitMS      *int32
	MemoryLimitKB    *int32
	Status           *string
	BasePoints       *int32
	CheckerType      *string
	CheckerEps       *float64
	StdoutCapBytes   *int32
	Difficulty       *string
	LanguagesAllowed *[]string
	TitleEn          *string
	TitleEs          *string
}

func (r *PgProblemRepository) ListPublic(ctx context.Context) ([]ProblemMeta, error) {
	const q = `SELECT id, slug, title, time_limit_ms, memory_limit_kb, base_points, difficulty FROM problems WHERE status = $1 ORDER BY id`
	rows, err := r.db.Query(ctx, q, ProblemStatusApproved)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ProblemMeta
	for rows.Next() {
		var p ProblemMeta
		if err := rows.Scan(&p.ID, &p.Slug, &p.Title, &p.TimeLimitMS, &p.MemoryLimitKB, &p.BasePoints, &p.Difficulty); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// AdminList returns all problems (公開/非公開含む) with submission counts.
func (r *PgProblemRepository) AdminList(ctx context.Context, page, perPage int) ([]ProblemAdminListItem, int, error) {
	if page <= 0 || perPage <= 0 {
		return nil, 0, errors.New("invalid pagination")
	}

	const countQ = `SELECT COUNT(*) FROM problems`
	var total int
	if err := r.db.QueryRow(ctx, countQ).Scan(&total); err != nil {
		return nil, 0, err
	}

	const q = `
SELECT p.id, p.slug, p.title, p.status,
       COALESCE(SUM(CASE WHEN sr.verdict='AC' THEN 1 ELSE 0 END),0) AS solved_count,
       COALESCE(COUNT(s.id),0) AS submission_count
FROM problems p
LEFT JOIN submissions s ON s.problem_id = p.id
LEFT JOIN submission_results sr ON sr.submission_id = s.id
GROUP BY p.id
ORDER BY p.id
LIMIT $1 OFFSET $2`
	rows, err := r.db.Query(ctx, q, perPage, (page-1)*perPage)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []ProblemAdminListItem
	for rows.Next() {
		var item ProblemAdminListItem
		if err := rows.Scan(&item.ID, &item.Slug, &item.Title, &item.Visibility, &item.SolvedCount, &item.SubmissionCount); err != nil {
			return nil, 0, err
		}
		out = append(out, item)
	}
	return out, total, rows.Err()
}

func (r *PgProblemRepository) findDetail(ctx context.Context, id int64, allowHidden bool) (*ProblemDetail, bool, error) {
	const q = `SELECT id, slug, title, statement_md, time_limit_ms, memory_limit_kb, status, base_points, checker_type, checker_eps,
       stdout_cap_bytes, difficulty, languages_allowed, title_en, title_es
FROM problems WHERE id=$1`
	var d ProblemDetail
	var status string
	var statementMD *string
	var checkerType string
	var checkerEps float64
	var titleEn, titleEs *string
	if err := r.db.QueryRow(ctx, q, id).Scan(
		&d.ID, &d.Slug, &d.Title, &statementMD, &d.TimeLimitMS, &d.MemoryLimitKB, &status, &d.BasePoints, &checkerType, &checkerEps,
		&d.StdoutCapBytes, &d.Difficulty, &d.LanguagesAllowed, &titleEn, &titleEs,
	); err != nil {
		log.Printf("findDetail problem query err id=%d: %v", id, err)
		return nil, false, err
	}
	isApproved := status == ProblemStatusApproved
	if !allowHidden && !isApproved {
		return nil, isApproved, errors.New("problem not public")
	}
	d.Status = status
	d.CheckerType = strings.TrimSpace(checkerType)
	d.CheckerEps = checkerEps
	if titleEn != nil {
		d.TitleEn = *titleEn
	}
	if titleEs != nil {
		d.TitleEs = *titleEs
	}

	// sample testcases (fallback if older schema lacks inline columns)
	const t = `SELECT input_path, output_path, input_text, output_text FROM testcases WHERE problem_id=$1 AND is_sample=TRUE ORDER BY id`
	rows, err := r.db.Query(ctx, t, id)
	if err != nil && (strings.Contains(err.Error(), "input_text") || strings.Contains(err.Error(), "output_text")) {
		rows, err = r.db.Query(ctx, `SELECT input_path, output_path, NULL::TEXT AS input_text, NULL::TEXT AS output_text FROM testcases WHERE problem_id=$1 AND is_sample=TRUE ORDER BY id`, id)
	}
	if err != nil {
		log.Printf("findDetail sample query err id=%d: %v", id, err)
		return nil, isApproved, err
	}
	defer rows.Close()
	for rows.Next() {
		var inPath, outPath, inText, outText sql.NullString
		if err := rows.Scan(&inPath, &outPath, &inText, &outText); err != nil {
			log.Printf("findDetail sample scan err id=%d: %v", id, err)
			return nil, isApproved, err
		}
		inStr := strings.TrimSpace(inText.String)
		outStr := strings.TrimSpace(outText.String)
		if outStr == "" {
			return nil, isApproved, errors.New("sample testcase output missing; inline text required")
		}
		d.Samples = append(d.Samples, SampleCase{Input: inStr, Output: outStr})
	}
	if statementMD != nil {
		d.StatementMD = *statementMD
	}
	return &d, isApproved, rows.Err()
}

func (r *PgProblemRepository) FindDetail(ctx context.Context, id int64) (*ProblemDetail, error) {
	d, _, err := r.findDetail(ctx, id, false)
	return d, err
}

// FindDetailAdmin returns problem detail regardless of visibility.
func (r *PgProblemRepository) FindDetailAdmin(ctx context.Context, id int64) (*ProblemDetail, error) {
	d, _, err := r.findDetail(ctx, id, true)
	return d, err
}

// ListTestcases returns all testcases (including hidden) for the problem in deterministic order.
func (r *PgProblemRepository) ListTestcases(ctx context.Context, id int64) ([]ProblemTestcase, error) {
	const q = `SELECT input_path, output_path, input_text, output_text, is_sample FROM testcases WHERE problem_id=$1 ORDER BY id`
	rows, err := r.db.Query(ctx, q, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ProblemTestcase
	for rows.Next() {
		var inPath, outPath, inText, outText sql.NullString
		var isSample bool
		if err := rows.Scan(&inPath, &outPath, &inText, &outText, &isSample); err != nil {
			return nil, err
		}
		tc := ProblemTestcase{
			InputPath:  inPath.String,
			OutputPath: outPath.String,
			InputText:  inText.String,
			OutputText: outText.String,
			IsSample:   isSample,
		}
		if strings.TrimSpace(tc.OutputText) == "" {
			return nil, errors.New("testcase output missing; file path fallback disabled")
		}
		out = append(out, tc)
	}
	return out, rows.Err()
}

// ProblemStats aggregates submission statistics for a problem.
func (r *PgProblemRepository) ProblemStats(ctx context.Context, id int64) (*ProblemStats, error) {
	const summaryQ = `
SELECT p.title,
       COALESCE(COUNT(s.id),0) AS submission_count,
       COALESCE(SUM(CASE WHEN sr.verdict='AC' THEN 1 ELSE 0 END),0) AS accepted_count,
       COALESCE(COUNT(DISTINCT s.user_id),0) AS unique_users,
       COALESCE(COUNT(DISTINCT CASE WHEN sr.verdict='AC' THEN s.user_id END),0) AS unique_accepted_users,
       MAX(s.created_at) AS last_submission_at
FROM problems p
LEFT JOIN submissions s ON s.problem_id = p.id
LEFT JOIN submission_results sr ON sr.submission_id = s.id
WHERE p.id=$1
GROUP BY p.id`
	var stats ProblemStats
	var lastSub sql.NullTime
	if err := r.db.QueryRow(ctx, summaryQ, id).Scan(
		&stats.Title, &stats.SubmissionCount, &stats.AcceptedCount, &stats.UniqueUsers, &stats.UniqueAcceptedUsers, &lastSub,
	); err != nil {
		return nil, err
	}
	stats.ProblemID = id
	if lastSub.Valid {
		stats.LastSubmissionAt = &lastSub.Time
	}
	if stats.SubmissionCount > 0 {
		stats.AcceptanceRate = float64(stats.AcceptedCount) / float64(stats.SubmissionCount)
	}

	// breakdown
	const breakdownQ = `SELECT COALESCE(sr.verdict,'UNKNOWN') AS verdict, COUNT(*) FROM submissions s LEFT JOIN submission_results sr ON sr.submission_id = s.id WHERE s.problem_id=$1 GROUP BY verdict`
	rows, err := r.db.Query(ctx, breakdownQ, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	stats.StatusBreakdown = map[string]int{}
	for rows.Next() {
		var verdict string
		var count int
		if err := rows.Scan(&verdict, &count); err != nil {
			return nil, err
		}
		stats.StatusBreakdown[verdict] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &stats, nil
}

// CreateWithTestcases inserts a problem and all its testcases in a single transaction.
func (r *PgProblemRepository) CreateWithTestcases(ctx context.Context, input ProblemCreateInput) (int64, error) {
	if strings.TrimSpace(input.Title) == "" || strings.TrimSpace(input.Slug) == "" {
		return 0, errors.New("title and slug are required")
	}
	if len(input.Testcases) == 0 {
		return 0, errors.New("at least one testcase is required")
	}
	if strings.TrimSpace(input.CheckerType) == "" {
		input.CheckerType = "exact"
	}
	input.CheckerType = strings.ToLower(strings.TrimSpace(input.CheckerType))
	if input.CheckerType != "exact" && input.CheckerType != "eps" {
		return 0, errors.New("checker_type must be exact or eps")
	}
	if input.CheckerType == "eps" && input.CheckerEps <= 0 {
		return 0, errors.New("checker_eps must be > 0 when checker_type=eps")
	}

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if strings.TrimSpace(input.Status) == "" {
		input.Status = ProblemStatusPending
	}
	if input.BasePoints <= 0 {
		input.BasePoints = 100
	}
	if input.StdoutCapBytes <= 0 {
		input.StdoutCapBytes = 10 * 1024
	}
	if strings.TrimSpace(input.Difficulty) == "" {
		input.Difficulty = "unrated"
	}
	if input.LanguagesAllowed == nil {
		input.LanguagesAllowed = []string{}
	}

	var problemID int64
	if err := tx.QueryRow(ctx, `INSERT INTO problems (slug, title, statement_path, statement_md, time_limit_ms, memory_limit_kb, status, base_points, checker_type, checker_eps, stdout_cap_bytes, difficulty, languages_allowed, title_en, title_es)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15) RETURNING id`,
		input.Slug, input.Title, input.StatementPath, input.StatementMD, input.TimeLimitMS, input.MemoryLimitKB, input.Status, input.BasePoints, input.CheckerType, input.CheckerEps,
		input.StdoutCapBytes, input.Difficulty, input.LanguagesAllowed, nonNilPtr(input.TitleEn), nonNilPtr(input.TitleEs)).Scan(&problemID); err != nil {
		return 0, err
	}

	for _, tc := range input.Testcases {
		if strings.TrimSpace(tc.InputText) == "" || strings.TrimSpace(tc.OutputText) == "" {
			return 0, errors.New("testcase input/output is required")
		}
		if _, err := tx.Exec(ctx, `INSERT INTO testcases (problem_id, input_path, output_path, input_text, output_text, is_sample)
VALUES ($1,$2,$3,$4,$5,$6)`, problemID, nonNilString(tc.InputPath), nonNilString(tc.OutputPath), tc.InputText, tc.OutputText, tc.IsSample); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return problemID, nil
}

func nonNilString(v string) string {
	if v == "" {
		return ""
	}
	return v
}

// nonNilPtr converts an empty string into a NULL column value instead of an
// empty-string one, distinguishing "not set" from "set to empty".
func nonNilPtr(v string) *string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return &v
}

// UpdateProblem updates mutable fields of a problem.
func (r *PgProblemRepository) UpdateProblem(ctx context.Context, id int64, input ProblemUpdateInput) error {
	var sets []string
	var args []any

	if input.Title != nil {
		sets = append(sets, "title=$"+strconv.Itoa(len(args)+1))
		args = append(args, strings.TrimSpace(*input.Title))
	}
	if input.StatementMD != nil {
		sets = append(sets, "statement_md=$"+strconv.Itoa(len(args)+1))
		args = append(args, *input.StatementMD)
	}
	if input.TimeLimitMS != nil {
		if *input.TimeLimitMS <= 0 {
			return errors.New("time_limit_ms must be > 0")
		}
		sets = append(sets, "time_limit_ms=$"+strconv.Itoa(len(args)+1))
		args = append(args, *input.TimeLimitMS)
	}
	if input.MemoryLimitKB != nil {
		if *input.MemoryLimitKB <= 0 {
			return errors.New("memory_limit_kb must be > 0")
		}
		sets = append(sets, "memory_limit_kb=$"+strconv.Itoa(len(args)+1))
		args = append(args, *input.MemoryLimitKB)
	}
	if input.Status != nil {
		st := strings.ToLower(strings.TrimSpace(*input.Status))
		if st != ProblemStatusPending && st != ProblemStatusApproved && st != ProblemStatusRejected {
			return errors.New("status must be pending, approved, or rejected")
		}
		sets = append(sets, "status=$"+strconv.Itoa(len(args)+1))
		args = append(args, st)
	}
	if input.BasePoints != nil {
		if *input.BasePoints <= 0 {
			return errors.New("base_points must be > 0")
		}
		sets = append(sets, "base_points=$"+strconv.Itoa(len(args)+1))
		args = append(args, *input.BasePoints)
	}
	if input.CheckerType != nil {
		ct := strings.ToLower(strings.TrimSpace(*input.CheckerType))
		if ct != "exact" && ct != "eps" {
			return errors.New("checker_type must be exact or eps")
		}
		sets = append(sets, "checker_type=$"+strconv.Itoa(len(args)+1))
		args = append(args, ct)
	}
	if input.CheckerEps != nil {
		if input.CheckerType != nil && strings.ToLower(strings.TrimSpace(*input.CheckerType)) == "eps" && *input.CheckerEps <= 0 {
			return errors.New("checker_eps must be > 0 when checker_type=eps")
		}
		sets = append(sets, "checker_eps=$"+strconv.Itoa(len(args)+1))
		args = append(args, *input.CheckerEps)
	}
	if input.StdoutCapBytes != nil {
		if *input.StdoutCapBytes <= 0 {
			return errors.New("stdout_cap_bytes must be > 0")
		}
		sets = append(sets, "stdout_cap_bytes=$"+strconv.Itoa(len(args)+1))
		args = append(args, *input.StdoutCapBytes)
	}
	if input.Difficulty != nil {
		sets = append(sets, "difficulty=$"+strconv.Itoa(len(args)+1))
		args = append(args, strings.TrimSpace(*input.Difficulty))
	}
	if input.LanguagesAllowed != nil {
		allowed := *input.LanguagesAllowed
		if allowed == nil {
			allowed = []string{}
		}
		sets = append(sets, "languages_allowed=$"+strconv.Itoa(len(args)+1))
		args = append(args, allowed)
	}
	if input.TitleEn != nil {
		sets = append(sets, "title_en=$"+strconv.Itoa(len(args)+1))
		args = append(args, nonNilPtr(*input.TitleEn))
	}
	if input.TitleEs != nil {
		sets = append(sets, "title_es=$"+strconv.Itoa(len(args)+1))
		args = append(args, nonNilPtr(*input.TitleEs))
	}

	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)
	q := "UPDATE problems SET " + strings.Join(sets, ", ") + " WHERE id=$" + strconv.Itoa(len(args))
	_, err := r.db.Exec(ctx, q, args...)
	return err
}
