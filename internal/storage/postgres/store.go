package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sqlc-dev/pqtype"

	"github.com/RuiYan2022/Polyglot-Guild-2/internal/domain"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/storage"
)

// Store implements storage.Store on a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

var _ storage.Store = (*Store)(nil)

// NewStore creates a Store. The schema must already be migrated.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// nullJSON encodes v for a nullable JSONB column. Empty values are stored
// as NULL.
func nullJSON(v any, empty bool) (pqtype.NullRawMessage, error) {
	if empty {
		return pqtype.NullRawMessage{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return pqtype.NullRawMessage{}, err
	}
	return pqtype.NullRawMessage{RawMessage: b, Valid: true}, nil
}

func decodeNullable(raw []byte, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

// Teachers

const teacherColumns = `id, name, email, school_name, academy_code, password_hash, created_at`

func (s *Store) CreateTeacher(ctx context.Context, t *domain.Teacher) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO teachers (`+teacherColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		t.ID, t.Name, strings.ToLower(t.Email), t.SchoolName, t.AcademyCode, t.PasswordHash, t.CreatedAt)
	return storage.Wrap("create teacher", mapError(err, nil))
}

func (s *Store) GetTeacher(ctx context.Context, id string) (*domain.Teacher, error) {
	return s.teacherWhere(ctx, "get teacher", "id = $1", id)
}

func (s *Store) GetTeacherByEmail(ctx context.Context, email string) (*domain.Teacher, error) {
	return s.teacherWhere(ctx, "get teacher by email", "email = $1", strings.ToLower(strings.TrimSpace(email)))
}

func (s *Store) GetTeacherByAcademyCode(ctx context.Context, code string) (*domain.Teacher, error) {
	return s.teacherWhere(ctx, "get teacher by academy code", "academy_code = $1", domain.NormalizeCode(code))
}

func (s *Store) teacherWhere(ctx context.Context, op, where string, arg any) (*domain.Teacher, error) {
	t := &domain.Teacher{}
	err := s.pool.QueryRow(ctx, `SELECT `+teacherColumns+` FROM teachers WHERE `+where, arg).Scan(
		&t.ID, &t.Name, &t.Email, &t.SchoolName, &t.AcademyCode, &t.PasswordHash, &t.CreatedAt)
	if err != nil {
		return nil, storage.Wrap(op, mapError(err, domain.ErrTeacherNotFound))
	}
	return t, nil
}

// Classes

const classColumns = `id, teacher_id, name, code, ta_key, created_at`

func (s *Store) SaveClass(ctx context.Context, c *domain.Class) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO classes (`+classColumns+`) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, code = EXCLUDED.code, ta_key = EXCLUDED.ta_key`,
		c.ID, c.TeacherID, c.Name, c.Code, c.TAKey, c.CreatedAt)
	return storage.Wrap("save class", mapError(err, nil))
}

func (s *Store) GetClass(ctx context.Context, id string) (*domain.Class, error) {
	return s.classWhere(ctx, "get class", "id = $1", id)
}

func (s *Store) GetClassByCode(ctx context.Context, code string) (*domain.Class, error) {
	return s.classWhere(ctx, "get class by code", "code = $1", domain.NormalizeCode(code))
}

func (s *Store) classWhere(ctx context.Context, op, where string, arg any) (*domain.Class, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+classColumns+` FROM classes WHERE `+where, arg)
	if err != nil {
		return nil, storage.Wrap(op, mapError(err, nil))
	}
	c, err := pgx.CollectExactlyOneRow(rows, scanClass)
	if err != nil {
		return nil, storage.Wrap(op, mapError(err, domain.ErrClassNotFound))
	}
	return c, nil
}

func (s *Store) ListClasses(ctx context.Context, teacherID string) ([]*domain.Class, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+classColumns+` FROM classes WHERE teacher_id = $1 ORDER BY created_at`, teacherID)
	if err != nil {
		return nil, storage.Wrap("list classes", mapError(err, nil))
	}
	out, err := pgx.CollectRows(rows, scanClass)
	return out, storage.Wrap("list classes", mapError(err, nil))
}

func scanClass(row pgx.CollectableRow) (*domain.Class, error) {
	c := &domain.Class{}
	err := row.Scan(&c.ID, &c.TeacherID, &c.Name, &c.Code, &c.TAKey, &c.CreatedAt)
	return c, err
}

func (s *Store) DeleteClass(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM classes WHERE id = $1`, id)
	if err != nil {
		return storage.Wrap("delete class", mapError(err, nil))
	}
	if tag.RowsAffected() == 0 {
		return storage.Wrap("delete class", domain.ErrClassNotFound)
	}
	return nil
}

// Students

const studentColumns = `id, name, email, password_hash, status, class_id, master_key,
	unlocked_sets, global_xp, language_mastery, completed_sets, created_at`

func (s *Store) CreateStudent(ctx context.Context, st *domain.Student) error {
	mastery, err := nullJSON(st.LanguageMastery, len(st.LanguageMastery) == 0)
	if err != nil {
		return storage.Wrap("create student", err)
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO students (`+studentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		st.ID, st.Name, strings.ToLower(st.Email), st.PasswordHash, string(st.Status), st.ClassID, st.MasterKey,
		nonNil(st.UnlockedSets), st.GlobalXP, mastery, nonNil(st.CompletedCatalogs), st.CreatedAt)
	return storage.Wrap("create student", mapError(err, nil))
}

func (s *Store) UpdateStudent(ctx context.Context, st *domain.Student) error {
	mastery, err := nullJSON(st.LanguageMastery, len(st.LanguageMastery) == 0)
	if err != nil {
		return storage.Wrap("update student", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE students SET name = $2, email = $3, password_hash = $4, status = $5, class_id = $6,
			master_key = $7, unlocked_sets = $8, global_xp = $9, language_mastery = $10, completed_sets = $11
		WHERE id = $1`,
		st.ID, st.Name, strings.ToLower(st.Email), st.PasswordHash, string(st.Status), st.ClassID,
		st.MasterKey, nonNil(st.UnlockedSets), st.GlobalXP, mastery, nonNil(st.CompletedCatalogs))
	if err != nil {
		return storage.Wrap("update student", mapError(err, nil))
	}
	if tag.RowsAffected() == 0 {
		return storage.Wrap("update student", domain.ErrStudentNotFound)
	}
	return nil
}

func (s *Store) UpdateStudentAggregate(ctx context.Context, id string, agg domain.Aggregate) error {
	mastery, err := nullJSON(agg.LanguageMastery, len(agg.LanguageMastery) == 0)
	if err != nil {
		return storage.Wrap("update student aggregate", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE students SET global_xp = $2, language_mastery = $3, completed_sets = $4 WHERE id = $1`,
		id, agg.GlobalXP, mastery, nonNil(agg.CompletedCatalogs))
	if err != nil {
		return storage.Wrap("update student aggregate", mapError(err, nil))
	}
	if tag.RowsAffected() == 0 {
		return storage.Wrap("update student aggregate", domain.ErrStudentNotFound)
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func (s *Store) GetStudent(ctx context.Context, id string) (*domain.Student, error) {
	return s.studentWhere(ctx, "get student", "id = $1", id)
}

func (s *Store) GetStudentByEmail(ctx context.Context, email string) (*domain.Student, error) {
	return s.studentWhere(ctx, "get student by email", "email = $1", strings.ToLower(strings.TrimSpace(email)))
}

func (s *Store) studentWhere(ctx context.Context, op, where string, arg any) (*domain.Student, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+studentColumns+` FROM students WHERE `+where, arg)
	if err != nil {
		return nil, storage.Wrap(op, mapError(err, nil))
	}
	st, err := pgx.CollectExactlyOneRow(rows, scanStudent)
	if err != nil {
		return nil, storage.Wrap(op, mapError(err, domain.ErrStudentNotFound))
	}
	return st, nil
}

func (s *Store) ListStudents(ctx context.Context, f storage.StudentFilter) ([]*domain.Student, error) {
	query := `SELECT ` + studentColumns + ` FROM students WHERE ($1 = '' OR master_key = $1)
		AND ($2 = '' OR class_id = $2) AND ($3 = '' OR status = $3)
		ORDER BY global_xp DESC, name`
	rows, err := s.pool.Query(ctx, query, f.TeacherID, f.ClassID, string(f.Status))
	if err != nil {
		return nil, storage.Wrap("list students", mapError(err, nil))
	}
	out, err := pgx.CollectRows(rows, scanStudent)
	return out, storage.Wrap("list students", mapError(err, nil))
}

func scanStudent(row pgx.CollectableRow) (*domain.Student, error) {
	var (
		st      domain.Student
		status  string
		mastery []byte
	)
	err := row.Scan(&st.ID, &st.Name, &st.Email, &st.PasswordHash, &status, &st.ClassID, &st.MasterKey,
		&st.UnlockedSets, &st.GlobalXP, &mastery, &st.CompletedCatalogs, &st.CreatedAt)
	if err != nil {
		return nil, err
	}
	st.Status = domain.StudentStatus(status)
	if err := decodeNullable(mastery, &st.LanguageMastery); err != nil {
		return nil, fmt.Errorf("unmarshal language_mastery: %w", err)
	}
	return &st, nil
}

// Catalogs

const catalogColumns = `id, teacher_id, author_name, title, description, language, passcode,
	missions, is_public, thresholds, created_at`

func (s *Store) SaveCatalog(ctx context.Context, c *domain.Catalog) error {
	missions, err := json.Marshal(c.Missions)
	if err != nil {
		return storage.Wrap("save catalog", fmt.Errorf("marshal missions: %w", err))
	}
	th := c.Thresholds
	thresholds, err := nullJSON(th, th.Medium == nil && th.Hard == nil && th.Challenging == nil)
	if err != nil {
		return storage.Wrap("save catalog", fmt.Errorf("marshal thresholds: %w", err))
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO catalogs (`+catalogColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			author_name = EXCLUDED.author_name,
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			language = EXCLUDED.language,
			passcode = EXCLUDED.passcode,
			missions = EXCLUDED.missions,
			is_public = EXCLUDED.is_public,
			thresholds = EXCLUDED.thresholds`,
		c.ID, c.TeacherID, c.AuthorName, c.Title, c.Description, c.Language, c.Passcode,
		string(missions), c.Public, thresholds, c.CreatedAt)
	return storage.Wrap("save catalog", mapError(err, nil))
}

func (s *Store) GetCatalog(ctx context.Context, id string) (*domain.Catalog, error) {
	return s.catalogWhere(ctx, "get catalog", "id = $1", id)
}

func (s *Store) FindCatalogByPasscode(ctx context.Context, teacherID, passcode string) (*domain.Catalog, error) {
	return s.catalogWhere(ctx, "find catalog by passcode", "teacher_id = $1 AND passcode = $2 LIMIT 1",
		teacherID, strings.ToUpper(strings.TrimSpace(passcode)))
}

func (s *Store) catalogWhere(ctx context.Context, op, where string, args ...any) (*domain.Catalog, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+catalogColumns+` FROM catalogs WHERE `+where, args...)
	if err != nil {
		return nil, storage.Wrap(op, mapError(err, nil))
	}
	c, err := pgx.CollectExactlyOneRow(rows, scanCatalog)
	if err != nil {
		return nil, storage.Wrap(op, mapError(err, domain.ErrCatalogNotFound))
	}
	return c, nil
}

func (s *Store) ListCatalogsByTeacher(ctx context.Context, teacherID string) ([]*domain.Catalog, error) {
	return s.listCatalogs(ctx, "list catalogs", `teacher_id = $1`, teacherID)
}

func (s *Store) ListPublicCatalogs(ctx context.Context) ([]*domain.Catalog, error) {
	return s.listCatalogs(ctx, "list public catalogs", `is_public`)
}

func (s *Store) listCatalogs(ctx context.Context, op, where string, args ...any) ([]*domain.Catalog, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+catalogColumns+` FROM catalogs WHERE `+where+` ORDER BY created_at DESC`, args...)
	if err != nil {
		return nil, storage.Wrap(op, mapError(err, nil))
	}
	out, err := pgx.CollectRows(rows, scanCatalog)
	return out, storage.Wrap(op, mapError(err, nil))
}

func scanCatalog(row pgx.CollectableRow) (*domain.Catalog, error) {
	var (
		c                    domain.Catalog
		missions, thresholds []byte
	)
	err := row.Scan(&c.ID, &c.TeacherID, &c.AuthorName, &c.Title, &c.Description, &c.Language, &c.Passcode,
		&missions, &c.Public, &thresholds, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := decodeNullable(missions, &c.Missions); err != nil {
		return nil, fmt.Errorf("unmarshal missions: %w", err)
	}
	if err := decodeNullable(thresholds, &c.Thresholds); err != nil {
		return nil, fmt.Errorf("unmarshal thresholds: %w", err)
	}
	return &c, nil
}

func (s *Store) DeleteCatalog(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM catalogs WHERE id = $1`, id)
	if err != nil {
		return storage.Wrap("delete catalog", mapError(err, nil))
	}
	if tag.RowsAffected() == 0 {
		return storage.Wrap("delete catalog", domain.ErrCatalogNotFound)
	}
	return nil
}

// Progress

const progressColumns = `id, student_id, student_name, teacher_id, class_id, catalog_id, language,
	completed, scores, drafts, feedback, last_active`

func (s *Store) SaveProgress(ctx context.Context, p *domain.Progress) error {
	p.Normalize()
	scores, err := json.Marshal(p.Scores)
	if err != nil {
		return storage.Wrap("save progress", fmt.Errorf("marshal scores: %w", err))
	}
	drafts, err := json.Marshal(p.Drafts)
	if err != nil {
		return storage.Wrap("save progress", fmt.Errorf("marshal drafts: %w", err))
	}
	feedback, err := nullJSON(p.Feedback, len(p.Feedback) == 0)
	if err != nil {
		return storage.Wrap("save progress", fmt.Errorf("marshal feedback: %w", err))
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO progress (`+progressColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			student_name = EXCLUDED.student_name,
			teacher_id = EXCLUDED.teacher_id,
			class_id = EXCLUDED.class_id,
			language = EXCLUDED.language,
			completed = EXCLUDED.completed,
			scores = EXCLUDED.scores,
			drafts = EXCLUDED.drafts,
			feedback = EXCLUDED.feedback,
			last_active = EXCLUDED.last_active`,
		p.ID, p.StudentID, p.StudentName, p.TeacherID, p.ClassID, p.CatalogID, p.Language,
		p.Completed, string(scores), string(drafts), feedback, p.LastActive)
	return storage.Wrap("save progress", mapError(err, nil))
}

func (s *Store) GetProgress(ctx context.Context, id string) (*domain.Progress, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+progressColumns+` FROM progress WHERE id = $1`, id)
	if err != nil {
		return nil, storage.Wrap("get progress", mapError(err, nil))
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanProgress)
	if err != nil {
		return nil, storage.Wrap("get progress", mapError(err, domain.ErrProgressNotFound))
	}
	return p, nil
}

func (s *Store) ListProgress(ctx context.Context, f storage.ProgressFilter) ([]*domain.Progress, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+progressColumns+` FROM progress
		WHERE ($1 = '' OR student_id = $1) AND ($2 = '' OR teacher_id = $2)
		AND ($3 = '' OR class_id = $3) AND ($4 = '' OR catalog_id = $4)
		ORDER BY last_active DESC`,
		f.StudentID, f.TeacherID, f.ClassID, f.CatalogID)
	if err != nil {
		return nil, storage.Wrap("list progress", mapError(err, nil))
	}
	out, err := pgx.CollectRows(rows, scanProgress)
	return out, storage.Wrap("list progress", mapError(err, nil))
}

func scanProgress(row pgx.CollectableRow) (*domain.Progress, error) {
	var (
		p                        domain.Progress
		scores, drafts, feedback []byte
	)
	err := row.Scan(&p.ID, &p.StudentID, &p.StudentName, &p.TeacherID, &p.ClassID, &p.CatalogID, &p.Language,
		&p.Completed, &scores, &drafts, &feedback, &p.LastActive)
	if err != nil {
		return nil, err
	}
	if err := decodeNullable(scores, &p.Scores); err != nil {
		return nil, fmt.Errorf("unmarshal scores: %w", err)
	}
	if err := decodeNullable(drafts, &p.Drafts); err != nil {
		return nil, fmt.Errorf("unmarshal drafts: %w", err)
	}
	if err := decodeNullable(feedback, &p.Feedback); err != nil {
		return nil, fmt.Errorf("unmarshal feedback: %w", err)
	}
	p.Normalize()
	return &p, nil
}
