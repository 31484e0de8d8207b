package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/RuiYan2022/Polyglot-Guild-2/internal/domain"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/storage"
)

// Store implements storage.Store on SQLite. Collections and maps are kept
// in JSON text columns.
type Store struct {
	db *DB
}

var _ storage.Store = (*Store)(nil)

// NewStore creates a store over a migrated database.
func NewStore(db *DB) *Store {
	return &Store{db: db}
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func encodeJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeJSON(s string, v any) error {
	if s == "" {
		return nil
	}
	return json.Unmarshal([]byte(s), v)
}

// Teachers

const teacherColumns = `id, name, email, school_name, academy_code, password_hash, created_at`

func (s *Store) CreateTeacher(ctx context.Context, t *domain.Teacher) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO teachers (`+teacherColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Name, strings.ToLower(t.Email), t.SchoolName, t.AcademyCode, t.PasswordHash, t.CreatedAt)
	if err != nil {
		return storage.Wrap("create teacher", mapError(err, nil))
	}
	return nil
}

func (s *Store) GetTeacher(ctx context.Context, id string) (*domain.Teacher, error) {
	return s.teacherWhere(ctx, "get teacher", "id = ?", id)
}

func (s *Store) GetTeacherByEmail(ctx context.Context, email string) (*domain.Teacher, error) {
	return s.teacherWhere(ctx, "get teacher by email", "email = ?", strings.ToLower(email))
}

func (s *Store) GetTeacherByAcademyCode(ctx context.Context, code string) (*domain.Teacher, error) {
	return s.teacherWhere(ctx, "get teacher by academy code", "academy_code = ?", domain.NormalizeCode(code))
}

func (s *Store) teacherWhere(ctx context.Context, op, where string, arg any) (*domain.Teacher, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+teacherColumns+` FROM teachers WHERE `+where, arg)
	var t domain.Teacher
	if err := row.Scan(&t.ID, &t.Name, &t.Email, &t.SchoolName, &t.AcademyCode, &t.PasswordHash, &t.CreatedAt); err != nil {
		return nil, storage.Wrap(op, mapError(err, domain.ErrTeacherNotFound))
	}
	return &t, nil
}

// Classes

const classColumns = `id, teacher_id, name, code, ta_key, created_at`

func (s *Store) SaveClass(ctx context.Context, c *domain.Class) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO classes (`+classColumns+`) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name,
			code=excluded.code,
			ta_key=excluded.ta_key`,
		c.ID, c.TeacherID, c.Name, c.Code, c.TAKey, c.CreatedAt)
	return storage.Wrap("save class", mapError(err, nil))
}

func (s *Store) GetClass(ctx context.Context, id string) (*domain.Class, error) {
	return scanClass(s.db.QueryRowContext(ctx, `SELECT `+classColumns+` FROM classes WHERE id = ?`, id), "get class")
}

func (s *Store) GetClassByCode(ctx context.Context, code string) (*domain.Class, error) {
	return scanClass(s.db.QueryRowContext(ctx, `SELECT `+classColumns+` FROM classes WHERE code = ?`, domain.NormalizeCode(code)), "get class by code")
}

func (s *Store) ListClasses(ctx context.Context, teacherID string) ([]*domain.Class, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+classColumns+` FROM classes WHERE teacher_id = ? ORDER BY created_at`, teacherID)
	if err != nil {
		return nil, storage.Wrap("list classes", mapError(err, nil))
	}
	defer rows.Close()

	var out []*domain.Class
	for rows.Next() {
		c, err := scanClass(rows, "list classes")
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, storage.Wrap("list classes", rows.Err())
}

func (s *Store) DeleteClass(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM classes WHERE id = ?`, id)
	if err != nil {
		return storage.Wrap("delete class", mapError(err, nil))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.Wrap("delete class", domain.ErrClassNotFound)
	}
	return nil
}

func scanClass(row scanner, op string) (*domain.Class, error) {
	var c domain.Class
	if err := row.Scan(&c.ID, &c.TeacherID, &c.Name, &c.Code, &c.TAKey, &c.CreatedAt); err != nil {
		return nil, storage.Wrap(op, mapError(err, domain.ErrClassNotFound))
	}
	return &c, nil
}

// Students

const studentColumns = `id, name, email, password_hash, status, class_id, master_key,
	unlocked_sets, global_xp, language_mastery, completed_sets, created_at`

func (s *Store) CreateStudent(ctx context.Context, st *domain.Student) error {
	args, err := studentArgs(st)
	if err != nil {
		return storage.Wrap("create student", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO students (`+studentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
	return storage.Wrap("create student", mapError(err, nil))
}

func (s *Store) UpdateStudent(ctx context.Context, st *domain.Student) error {
	args, err := studentArgs(st)
	if err != nil {
		return storage.Wrap("update student", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE students SET name=?, email=?, password_hash=?, status=?, class_id=?, master_key=?,
			unlocked_sets=?, global_xp=?, language_mastery=?, completed_sets=?
		WHERE id=?`, append(args[1:len(args)-1], st.ID)...)
	if err != nil {
		return storage.Wrap("update student", mapError(err, nil))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.Wrap("update student", domain.ErrStudentNotFound)
	}
	return nil
}

func (s *Store) UpdateStudentAggregate(ctx context.Context, id string, agg domain.Aggregate) error {
	mastery, err := encodeJSON(agg.LanguageMastery)
	if err != nil {
		return storage.Wrap("update student aggregate", fmt.Errorf("marshal language_mastery: %w", err))
	}
	completed, err := encodeJSON(nonNil(agg.CompletedCatalogs))
	if err != nil {
		return storage.Wrap("update student aggregate", fmt.Errorf("marshal completed_sets: %w", err))
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE students SET global_xp=?, language_mastery=?, completed_sets=? WHERE id=?`,
		agg.GlobalXP, mastery, completed, id)
	if err != nil {
		return storage.Wrap("update student aggregate", mapError(err, nil))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.Wrap("update student aggregate", domain.ErrStudentNotFound)
	}
	return nil
}

func studentArgs(st *domain.Student) ([]any, error) {
	unlocked, err := encodeJSON(nonNil(st.UnlockedSets))
	if err != nil {
		return nil, fmt.Errorf("marshal unlocked_sets: %w", err)
	}
	mastery, err := encodeJSON(st.LanguageMastery)
	if err != nil {
		return nil, fmt.Errorf("marshal language_mastery: %w", err)
	}
	completed, err := encodeJSON(nonNil(st.CompletedCatalogs))
	if err != nil {
		return nil, fmt.Errorf("marshal completed_sets: %w", err)
	}
	return []any{
		st.ID, st.Name, strings.ToLower(st.Email), st.PasswordHash, string(st.Status), st.ClassID, st.MasterKey,
		unlocked, st.GlobalXP, mastery, completed, st.CreatedAt,
	}, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func (s *Store) GetStudent(ctx context.Context, id string) (*domain.Student, error) {
	return scanStudent(s.db.QueryRowContext(ctx, `SELECT `+studentColumns+` FROM students WHERE id = ?`, id), "get student")
}

func (s *Store) GetStudentByEmail(ctx context.Context, email string) (*domain.Student, error) {
	return scanStudent(s.db.QueryRowContext(ctx,
		`SELECT `+studentColumns+` FROM students WHERE email = ?`, strings.ToLower(email)), "get student by email")
}

func (s *Store) ListStudents(ctx context.Context, f storage.StudentFilter) ([]*domain.Student, error) {
	query := `SELECT ` + studentColumns + ` FROM students WHERE 1=1`
	var args []any
	if f.TeacherID != "" {
		query += ` AND master_key = ?`
		args = append(args, f.TeacherID)
	}
	if f.ClassID != "" {
		query += ` AND class_id = ?`
		args = append(args, f.ClassID)
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	query += ` ORDER BY global_xp DESC, name`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storage.Wrap("list students", mapError(err, nil))
	}
	defer rows.Close()

	var out []*domain.Student
	for rows.Next() {
		st, err := scanStudent(rows, "list students")
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, storage.Wrap("list students", rows.Err())
}

func scanStudent(row scanner, op string) (*domain.Student, error) {
	var (
		st                          domain.Student
		status                      string
		unlocked, mastery, complete string
	)
	err := row.Scan(&st.ID, &st.Name, &st.Email, &st.PasswordHash, &status, &st.ClassID, &st.MasterKey,
		&unlocked, &st.GlobalXP, &mastery, &complete, &st.CreatedAt)
	if err != nil {
		return nil, storage.Wrap(op, mapError(err, domain.ErrStudentNotFound))
	}
	st.Status = domain.StudentStatus(status)
	if err := decodeJSON(unlocked, &st.UnlockedSets); err != nil {
		return nil, storage.Wrap(op, fmt.Errorf("unmarshal unlocked_sets: %w", err))
	}
	if err := decodeJSON(mastery, &st.LanguageMastery); err != nil {
		return nil, storage.Wrap(op, fmt.Errorf("unmarshal language_mastery: %w", err))
	}
	if err := decodeJSON(complete, &st.CompletedCatalogs); err != nil {
		return nil, storage.Wrap(op, fmt.Errorf("unmarshal completed_sets: %w", err))
	}
	return &st, nil
}

// Catalogs

const catalogColumns = `id, teacher_id, author_name, title, description, language, passcode,
	missions, is_public, thresholds, created_at`

func (s *Store) SaveCatalog(ctx context.Context, c *domain.Catalog) error {
	missions, err := encodeJSON(c.Missions)
	if err != nil {
		return storage.Wrap("save catalog", fmt.Errorf("marshal missions: %w", err))
	}
	thresholds, err := encodeJSON(c.Thresholds)
	if err != nil {
		return storage.Wrap("save catalog", fmt.Errorf("marshal thresholds: %w", err))
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO catalogs (`+catalogColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			author_name=excluded.author_name,
			title=excluded.title,
			description=excluded.description,
			language=excluded.language,
			passcode=excluded.passcode,
			missions=excluded.missions,
			is_public=excluded.is_public,
			thresholds=excluded.thresholds`,
		c.ID, c.TeacherID, c.AuthorName, c.Title, c.Description, c.Language, c.Passcode,
		missions, c.Public, thresholds, c.CreatedAt)
	return storage.Wrap("save catalog", mapError(err, nil))
}

func (s *Store) GetCatalog(ctx context.Context, id string) (*domain.Catalog, error) {
	return scanCatalog(s.db.QueryRowContext(ctx, `SELECT `+catalogColumns+` FROM catalogs WHERE id = ?`, id), "get catalog")
}

func (s *Store) FindCatalogByPasscode(ctx context.Context, teacherID, passcode string) (*domain.Catalog, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+catalogColumns+` FROM catalogs WHERE teacher_id = ? AND passcode = ? LIMIT 1`,
		teacherID, strings.ToUpper(strings.TrimSpace(passcode)))
	return scanCatalog(row, "find catalog by passcode")
}

func (s *Store) ListCatalogsByTeacher(ctx context.Context, teacherID string) ([]*domain.Catalog, error) {
	return s.listCatalogs(ctx, "list catalogs", `teacher_id = ?`, teacherID)
}

func (s *Store) ListPublicCatalogs(ctx context.Context) ([]*domain.Catalog, error) {
	return s.listCatalogs(ctx, "list public catalogs", `is_public = ?`, true)
}

func (s *Store) listCatalogs(ctx context.Context, op, where string, arg any) ([]*domain.Catalog, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+catalogColumns+` FROM catalogs WHERE `+where+` ORDER BY created_at DESC`, arg)
	if err != nil {
		return nil, storage.Wrap(op, mapError(err, nil))
	}
	defer rows.Close()

	var out []*domain.Catalog
	for rows.Next() {
		c, err := scanCatalog(rows, op)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, storage.Wrap(op, rows.Err())
}

func (s *Store) DeleteCatalog(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM catalogs WHERE id = ?`, id)
	if err != nil {
		return storage.Wrap("delete catalog", mapError(err, nil))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.Wrap("delete catalog", domain.ErrCatalogNotFound)
	}
	return nil
}

func scanCatalog(row scanner, op string) (*domain.Catalog, error) {
	var (
		c                    domain.Catalog
		missions, thresholds string
	)
	err := row.Scan(&c.ID, &c.TeacherID, &c.AuthorName, &c.Title, &c.Description, &c.Language, &c.Passcode,
		&missions, &c.Public, &thresholds, &c.CreatedAt)
	if err != nil {
		return nil, storage.Wrap(op, mapError(err, domain.ErrCatalogNotFound))
	}
	if err := decodeJSON(missions, &c.Missions); err != nil {
		return nil, storage.Wrap(op, fmt.Errorf("unmarshal missions: %w", err))
	}
	if err := decodeJSON(thresholds, &c.Thresholds); err != nil {
		return nil, storage.Wrap(op, fmt.Errorf("unmarshal thresholds: %w", err))
	}
	return &c, nil
}

// Progress

const progressColumns = `id, student_id, student_name, teacher_id, class_id, catalog_id, language,
	completed, scores, drafts, feedback, last_active`

func (s *Store) SaveProgress(ctx context.Context, p *domain.Progress) error {
	p.Normalize()
	var cols [4]string
	for i, v := range []any{p.Completed, p.Scores, p.Drafts, p.Feedback} {
		enc, err := encodeJSON(v)
		if err != nil {
			return storage.Wrap("save progress", fmt.Errorf("marshal progress: %w", err))
		}
		cols[i] = enc
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO progress (`+progressColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			student_name=excluded.student_name,
			teacher_id=excluded.teacher_id,
			class_id=excluded.class_id,
			language=excluded.language,
			completed=excluded.completed,
			scores=excluded.scores,
			drafts=excluded.drafts,
			feedback=excluded.feedback,
			last_active=excluded.last_active`,
		p.ID, p.StudentID, p.StudentName, p.TeacherID, p.ClassID, p.CatalogID, p.Language,
		cols[0], cols[1], cols[2], cols[3], p.LastActive)
	return storage.Wrap("save progress", mapError(err, nil))
}

func (s *Store) GetProgress(ctx context.Context, id string) (*domain.Progress, error) {
	return scanProgress(s.db.QueryRowContext(ctx, `SELECT `+progressColumns+` FROM progress WHERE id = ?`, id), "get progress")
}

func (s *Store) ListProgress(ctx context.Context, f storage.ProgressFilter) ([]*domain.Progress, error) {
	query := `SELECT ` + progressColumns + ` FROM progress WHERE 1=1`
	var args []any
	for _, c := range []struct{ col, val string }{
		{"student_id", f.StudentID},
		{"teacher_id", f.TeacherID},
		{"class_id", f.ClassID},
		{"catalog_id", f.CatalogID},
	} {
		if c.val != "" {
			query += ` AND ` + c.col + ` = ?`
			args = append(args, c.val)
		}
	}
	query += ` ORDER BY last_active DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storage.Wrap("list progress", mapError(err, nil))
	}
	defer rows.Close()

	var out []*domain.Progress
	for rows.Next() {
		p, err := scanProgress(rows, "list progress")
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, storage.Wrap("list progress", rows.Err())
}

func scanProgress(row scanner, op string) (*domain.Progress, error) {
	var (
		p                                   domain.Progress
		completed, scores, drafts, feedback string
	)
	err := row.Scan(&p.ID, &p.StudentID, &p.StudentName, &p.TeacherID, &p.ClassID, &p.CatalogID, &p.Language,
		&completed, &scores, &drafts, &feedback, &p.LastActive)
	if err != nil {
		return nil, storage.Wrap(op, mapError(err, domain.ErrProgressNotFound))
	}
	for _, c := range []struct {
		raw  string
		dest any
	}{
		{completed, &p.Completed},
		{scores, &p.Scores},
		{drafts, &p.Drafts},
		{feedback, &p.Feedback},
	} {
		if err := decodeJSON(c.raw, c.dest); err != nil {
			return nil, storage.Wrap(op, fmt.Errorf("unmarshal progress: %w", err))
		}
	}
	p.Normalize()
	return &p, nil
}
