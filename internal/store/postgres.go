package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, name, company)
		VALUES ($1, $2, $3, $4, $5)
	`, user.ID, user.Email, user.PasswordHash, user.Name, user.Company)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	const query = `SELECT id, email, password_hash, name, company, created_at FROM users WHERE email = $1`
	var user User
	err := s.db.QueryRowContext(ctx, query, email).Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.Name, &user.Company, &user.CreatedAt,
	)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	const query = `SELECT id, email, password_hash, name, company, created_at FROM users WHERE id = $1`
	var user User
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.Name, &user.Company, &user.CreatedAt,
	)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) UpdateUserProfile(ctx context.Context, userID, name, company string) (User, error) {
	const query = `
		UPDATE users SET name = $2, company = $3
		WHERE id = $1
		RETURNING id, email, password_hash, name, company, created_at
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, userID, name, company).Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.Name, &user.Company, &user.CreatedAt,
	)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) CreateProject(ctx context.Context, project Project) error {
	files, err := json.Marshal(project.Files)
	if err != nil {
		return fmt.Errorf("marshal project files: %w", err)
	}
	if project.Files == nil {
		files = []byte("[]")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO projects (id, name, owner_id, files, pdf_path, ai_response_path, model, temperature, custom_prompt)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, project.ID, project.Name, project.OwnerID, files, project.PDFPath,
		project.AIResponsePath, project.Model, project.Temperature, project.CustomPrompt)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

const projectColumns = `id, name, owner_id, files, pdf_path, ai_response_path, model, temperature, custom_prompt, created_at`

func scanProject(row interface{ Scan(...any) error }) (Project, error) {
	var project Project
	var files []byte
	var temperature sql.NullFloat64
	err := row.Scan(
		&project.ID, &project.Name, &project.OwnerID, &files, &project.PDFPath,
		&project.AIResponsePath, &project.Model, &temperature, &project.CustomPrompt, &project.CreatedAt,
	)
	if err != nil {
		return Project{}, err
	}
	if temperature.Valid {
		project.Temperature = &temperature.Float64
	}
	if len(files) > 0 {
		if err := json.Unmarshal(files, &project.Files); err != nil {
			return Project{}, fmt.Errorf("unmarshal project files: %w", err)
		}
	}
	return project, nil
}

func (s *PostgresStore) GetProject(ctx context.Context, projectID string) (Project, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1`, projectID)
	return scanProject(row)
}

func (s *PostgresStore) ListProjectsByOwner(ctx context.Context, ownerID string) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+projectColumns+` FROM projects
		WHERE owner_id = $1
		ORDER BY created_at DESC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var projects []Project
	for rows.Next() {
		project, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, project)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return projects, nil
}

func (s *PostgresStore) SetProjectAIResponsePath(ctx context.Context, projectID, path string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE projects SET ai_response_path = $2 WHERE id = $1`, projectID, path)
	if err != nil {
		return fmt.Errorf("set ai response path: %w", err)
	}
	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// AddProjectFile appends a file record to the project and, for PDFs,
// records the primary PDF path used by the viewer.
func (s *PostgresStore) AddProjectFile(ctx context.Context, projectID string, file ProjectFile) error {
	project, err := s.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	project.Files = append(project.Files, file)
	files, err := json.Marshal(project.Files)
	if err != nil {
		return fmt.Errorf("marshal project files: %w", err)
	}

	pdfPath := project.PDFPath
	if file.Type == "application/pdf" {
		pdfPath = file.Path
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE projects SET files = $2, pdf_path = $3 WHERE id = $1
	`, projectID, files, pdfPath)
	if err != nil {
		return fmt.Errorf("update project files: %w", err)
	}
	return nil
}

// IsNotFound reports whether err is the driver's no-rows sentinel.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
